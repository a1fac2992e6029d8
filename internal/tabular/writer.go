package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/Zikki-Qing/tabmend/constants"
	"github.com/Zikki-Qing/tabmend/internal/common"
)

// Writer serializes a Table back into its source format, so the user
// downloads the same shape of file they uploaded.
type Writer struct {
	logger *slog.Logger
}

func NewWriter(logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{logger: logger}
}

// Write encodes t in the given format. Serialization failures are reported
// as ErrSerialization; the caller fails the job rather than truncating output.
func (w *Writer) Write(t *Table, format constants.FileFormat) ([]byte, error) {
	switch format {
	case constants.FormatCSV:
		return w.writeCSV(t)
	case constants.FormatXLSX:
		return w.writeXLSX(t)
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrSerialization, format)
	}
}

func (w *Writer) writeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(t.Columns); err != nil {
		return nil, fmt.Errorf("%w: header: %v", common.ErrSerialization, err)
	}
	rec := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		for i, col := range t.Columns {
			rec[i] = row[col].Display()
		}
		if err := cw.Write(rec); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
	}
	return buf.Bytes(), nil
}

func (w *Writer) writeXLSX(t *Table) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Sheet1"

	for i, col := range t.Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
		}
	}
	for ri, row := range t.Rows {
		for ci, col := range t.Columns {
			c := row[col]
			if c.Kind == CellNull {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(ci+1, ri+2)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
			}
			var v any
			if c.Kind == CellNumber {
				v = c.Num
			} else {
				v = c.Str
			}
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrSerialization, err)
	}
	w.logger.Debug("xlsx written", "columns", len(t.Columns), "rows", len(t.Rows))
	return buf.Bytes(), nil
}
