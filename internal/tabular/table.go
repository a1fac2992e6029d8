// Package tabular holds the in-memory table model and the CSV/XLSX codecs.
package tabular

import (
	"strconv"
	"strings"
)

// CellKind tags the dynamic type of a cell value.
type CellKind int

const (
	CellNull CellKind = iota
	CellString
	CellNumber
)

// Cell is a tagged value: string, number, or null. Transforms inspect the
// kind explicitly instead of coercing; a kind the operation cannot handle is
// a logged per-cell condition, not a failure.
type Cell struct {
	Kind CellKind
	Str  string
	Num  float64
}

// NullCell is the zero Cell, exported for readability at call sites.
var NullCell = Cell{Kind: CellNull}

func StringCell(s string) Cell  { return Cell{Kind: CellString, Str: s} }
func NumberCell(f float64) Cell { return Cell{Kind: CellNumber, Num: f} }

// IsEmpty reports whether the cell is null or a blank string.
func (c Cell) IsEmpty() bool {
	return c.Kind == CellNull || (c.Kind == CellString && strings.TrimSpace(c.Str) == "")
}

// Display renders the cell the way it appears in an exported file.
func (c Cell) Display() string {
	switch c.Kind {
	case CellString:
		return c.Str
	case CellNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	default:
		return ""
	}
}

// Row maps column name to cell value.
type Row map[string]Cell

// Table is an ordered sequence of rows under a fixed schema. The column list
// is set at load time; transforms mutate cell values, never the shape.
type Table struct {
	Columns []string
	Rows    []Row
}

// HasColumn reports whether name is part of the schema.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Preview returns up to n leading rows rendered as display strings, in
// column order. Used for submit-time metadata, never for transformation.
func (t *Table) Preview(n int) [][]string {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make([][]string, 0, n)
	for _, row := range t.Rows[:n] {
		rec := make([]string, len(t.Columns))
		for i, col := range t.Columns {
			rec[i] = row[col].Display()
		}
		out = append(out, rec)
	}
	return out
}
