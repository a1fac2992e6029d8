package transform

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/tabular"
)

// Executor applies an ordered operation list to a table. Data-content
// problems never abort a run; only structural problems fail the job.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Run mutates table in place and returns the log and summary.
// targetColumns, when non-empty, must all exist in the table schema;
// a missing one is a caller configuration error.
func (e *Executor) Run(table *tabular.Table, operations []*Operation, targetColumns []string) ([]LogEntry, *Summary, error) {
	start := time.Now()

	if table == nil || len(table.Columns) == 0 || len(table.Rows) == 0 {
		return nil, nil, fmt.Errorf("%w: table has no rows or columns", common.ErrMalformedInput)
	}
	resolved, err := resolveColumns(table, targetColumns)
	if err != nil {
		return nil, nil, err
	}

	summary := &Summary{RowsExamined: len(table.Rows), ColumnApplied: map[string]int{}}
	var log []LogEntry

	for _, op := range operations {
		cols := resolved
		if len(op.Columns) > 0 {
			cols, err = resolveColumns(table, op.Columns)
			if err != nil {
				return nil, nil, err
			}
		}
		for _, col := range cols {
			for ri, row := range table.Rows {
				entry := e.applyCell(op, row, col, ri)
				summary.count(col, entry.Outcome)
				log = append(log, entry)
			}
		}
	}

	summary.ProcessingTimeSec = time.Since(start).Seconds()
	e.logger.Debug("transform run finished",
		"operations", len(operations),
		"applied", summary.Applied,
		"no_match", summary.NoMatch,
		"type_mismatch", summary.TypeMismatch,
		"errors", summary.Errors,
	)
	return log, summary, nil
}

// applyCell evaluates one operation against one cell and mutates the row on
// a match. Never returns an error: every condition is a logged outcome.
func (e *Executor) applyCell(op *Operation, row tabular.Row, col string, ri int) LogEntry {
	cell := row[col]
	entry := LogEntry{
		RowIndex:  ri,
		Column:    col,
		Operation: op.Describe(),
		Original:  cell.Display(),
	}

	switch op.Kind {
	case KindFillEmpty:
		if !cell.IsEmpty() {
			entry.Outcome = OutcomeNoMatch
			return entry
		}
		row[col] = tabular.StringCell(op.Replacement)
		entry.NewValue = op.Replacement
		entry.Outcome = OutcomeApplied
		return entry

	case KindReplaceExact, KindReplaceFold, KindReplacePattern, KindNormalize:
		// Text operations need a string cell. Null cells have nothing to
		// match; numeric cells are a type mismatch, left untouched.
		if cell.Kind == tabular.CellNull {
			entry.Outcome = OutcomeNoMatch
			return entry
		}
		if cell.Kind == tabular.CellNumber {
			entry.Outcome = OutcomeTypeMismatch
			return entry
		}

	default:
		entry.Outcome = OutcomeError
		entry.Detail = fmt.Sprintf("unknown operation kind %q", op.Kind)
		return entry
	}

	next, matched, err := rewrite(op, cell.Str)
	if err != nil {
		entry.Outcome = OutcomeError
		entry.Detail = err.Error()
		return entry
	}
	if !matched {
		entry.Outcome = OutcomeNoMatch
		return entry
	}
	row[col] = tabular.StringCell(next)
	entry.NewValue = next
	entry.Outcome = OutcomeApplied
	return entry
}

// rewrite computes the new value for a string cell.
func rewrite(op *Operation, s string) (string, bool, error) {
	switch op.Kind {
	case KindReplaceExact:
		if op.Match == "" {
			// Whole-cell replace ("mask X", "blank out").
			return op.Replacement, s != op.Replacement, nil
		}
		if !strings.Contains(s, op.Match) {
			return s, false, nil
		}
		n := -1
		if op.FirstMatchOnly {
			n = 1
		}
		return strings.Replace(s, op.Match, op.Replacement, n), true, nil

	case KindReplaceFold:
		return replaceFold(s, op.Match, op.Replacement, op.FirstMatchOnly)

	case KindReplacePattern:
		re, err := op.regex()
		if err != nil {
			return s, false, fmt.Errorf("pattern %q: %w", op.Pattern, err)
		}
		if !re.MatchString(s) {
			return s, false, nil
		}
		if op.FirstMatchOnly {
			done := false
			out := re.ReplaceAllStringFunc(s, func(m string) string {
				if done {
					return m
				}
				done = true
				return op.Replacement
			})
			return out, true, nil
		}
		return re.ReplaceAllString(s, op.Replacement), true, nil

	case KindNormalize:
		next := normalize(s, op.Mode)
		return next, next != s, nil
	}
	return s, false, fmt.Errorf("unknown operation kind %q", op.Kind)
}

// replaceFold is strings.Replace with case-insensitive matching. It walks
// rune by rune: lowercasing can change a rune's byte length (U+0130), so
// offsets into a pre-lowered copy would not line up with the original.
func replaceFold(s, match, replacement string, firstOnly bool) (string, bool, error) {
	if match == "" {
		return replacement, s != replacement, nil
	}
	var b strings.Builder
	matched := false
	for i := 0; i < len(s); {
		n := foldPrefixLen(s[i:], match)
		if n < 0 {
			_, size := utf8.DecodeRuneInString(s[i:])
			b.WriteString(s[i : i+size])
			i += size
			continue
		}
		b.WriteString(replacement)
		matched = true
		i += n
		if firstOnly {
			b.WriteString(s[i:])
			return b.String(), true, nil
		}
	}
	return b.String(), matched, nil
}

// foldPrefixLen reports how many bytes at the start of s case-fold to match,
// or -1 when they do not.
func foldPrefixLen(s, match string) int {
	i := 0
	for _, mr := range match {
		r, size := utf8.DecodeRuneInString(s[i:])
		if size == 0 {
			return -1
		}
		if r != mr && unicode.ToLower(r) != unicode.ToLower(mr) {
			return -1
		}
		i += size
	}
	return i
}

var spaceRun = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

func normalize(s string, mode NormalizeMode) string {
	switch mode {
	case NormalizeUpper:
		return strings.ToUpper(s)
	case NormalizeLower:
		return strings.ToLower(s)
	case NormalizeTitle:
		return titleCase(s)
	default: // NormalizeSpace
		return strings.Join(strings.Fields(spaceRun.Replace(s)), " ")
	}
}

func titleCase(s string) string {
	var b strings.Builder
	startWord := true
	for _, r := range s {
		if unicode.IsSpace(r) {
			startWord = true
			b.WriteRune(r)
			continue
		}
		if startWord {
			b.WriteRune(unicode.ToUpper(r))
			startWord = false
		} else {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// resolveColumns intersects requested columns with the table schema.
// Explicitly requested columns must all exist.
func resolveColumns(table *tabular.Table, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return table.Columns, nil
	}
	out := make([]string, 0, len(requested))
	for _, col := range requested {
		if !table.HasColumn(col) {
			return nil, fmt.Errorf("%w: column %q not in table schema", common.ErrInvalidColumnSelection, col)
		}
		out = append(out, col)
	}
	return out, nil
}
