package transform

// Outcome is the per-cell result of evaluating one operation.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeNoMatch      Outcome = "skipped-no-match"
	OutcomeTypeMismatch Outcome = "skipped-type-mismatch"
	OutcomeError        Outcome = "error"
)

// LogEntry records one operation evaluation against one cell. The sequence is
// append-only and owned by the executor during a single run; it is persisted
// as an immutable artifact once the run ends.
type LogEntry struct {
	RowIndex  int     `json:"row_index"`
	Column    string  `json:"column"`
	Operation string  `json:"operation"`
	Original  string  `json:"original"`
	NewValue  string  `json:"new_value"`
	Outcome   Outcome `json:"outcome"`
	Detail    string  `json:"detail,omitempty"`
}

// Summary aggregates a run: counts per outcome and per column.
type Summary struct {
	RowsExamined      int            `json:"rows_examined"`
	CellsExamined     int            `json:"cells_examined"`
	Applied           int            `json:"applied"`
	NoMatch           int            `json:"no_match"`
	TypeMismatch      int            `json:"type_mismatch"`
	Errors            int            `json:"errors"`
	ColumnApplied     map[string]int `json:"column_applied"`
	ProcessingTimeSec float64        `json:"processing_time_sec"`
}

func (s *Summary) count(column string, outcome Outcome) {
	s.CellsExamined++
	switch outcome {
	case OutcomeApplied:
		s.Applied++
		if s.ColumnApplied == nil {
			s.ColumnApplied = map[string]int{}
		}
		s.ColumnApplied[column]++
	case OutcomeNoMatch:
		s.NoMatch++
	case OutcomeTypeMismatch:
		s.TypeMismatch++
	case OutcomeError:
		s.Errors++
	}
}
