package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/common"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Loader decodes uploaded blobs into Tables. Pure parse, no side effects.
type Loader struct {
	logger *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load decodes blob according to format. The schema comes from the first
// header row; for XLSX only the first sheet is read. Cells stay strings for
// CSV; XLSX numeric cells keep their numeric type. Blank cells load as null.
func (l *Loader) Load(blob []byte, format constants.FileFormat) (*Table, error) {
	switch format {
	case constants.FormatCSV:
		return l.loadCSV(blob)
	case constants.FormatXLSX:
		return l.loadXLSX(blob)
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnsupportedFormat, format)
	}
}

func (l *Loader) loadCSV(blob []byte) (*Table, error) {
	blob = bytes.TrimPrefix(blob, utf8BOM)
	if !utf8.Valid(blob) {
		return nil, fmt.Errorf("%w: not valid UTF-8", common.ErrMalformedInput)
	}

	r := csv.NewReader(bytes.NewReader(blob))
	r.FieldsPerRecord = -1 // ragged rows tolerated, padded below

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: no header row", common.ErrMalformedInput)
		}
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedInput, err)
	}
	columns := trimHeader(header)
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: zero columns", common.ErrMalformedInput)
	}

	t := &Table{Columns: columns}
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", common.ErrMalformedInput, len(t.Rows)+2, err)
		}
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(rec) && rec[i] != "" {
				row[col] = StringCell(rec[i])
			} else {
				row[col] = NullCell
			}
		}
		t.Rows = append(t.Rows, row)
	}
	l.logger.Debug("csv loaded", "columns", len(t.Columns), "rows", len(t.Rows))
	return t, nil
}

func (l *Loader) loadXLSX(blob []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", common.ErrMalformedInput)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrMalformedInput, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no header row", common.ErrMalformedInput)
	}
	columns := trimHeader(rows[0])
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: zero columns", common.ErrMalformedInput)
	}

	t := &Table{Columns: columns}
	for ri, rec := range rows[1:] {
		row := make(Row, len(columns))
		for ci, col := range columns {
			if ci >= len(rec) || rec[ci] == "" {
				row[col] = NullCell
				continue
			}
			row[col] = l.typedCell(f, sheet, ci, ri+1, rec[ci])
		}
		t.Rows = append(t.Rows, row)
	}
	l.logger.Debug("xlsx loaded", "sheet", sheet, "columns", len(t.Columns), "rows", len(t.Rows))
	return t, nil
}

// typedCell keeps XLSX numeric cells numeric; everything else stays a string.
func (l *Loader) typedCell(f *excelize.File, sheet string, col, row int, display string) Cell {
	axis, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return StringCell(display)
	}
	ct, err := f.GetCellType(sheet, axis)
	if err != nil || ct != excelize.CellTypeNumber {
		return StringCell(display)
	}
	v, err := f.GetCellValue(sheet, axis, excelize.Options{RawCellValue: true})
	if err != nil {
		return StringCell(display)
	}
	var n float64
	if _, err := fmt.Sscanf(v, "%g", &n); err != nil {
		return StringCell(display)
	}
	return NumberCell(n)
}

// trimHeader drops trailing empty header cells but keeps interior ones.
func trimHeader(header []string) []string {
	end := len(header)
	for end > 0 && header[end-1] == "" {
		end--
	}
	return append([]string(nil), header[:end]...)
}
