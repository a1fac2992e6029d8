// Package transform applies compiled operation lists to tables, cell by cell,
// recording a per-row outcome log and a summary.
package transform

import (
	"regexp"
	"sync"
)

// Kind tags the operation variant.
type Kind string

const (
	// KindReplaceExact replaces occurrences of a literal match text. An empty
	// match text replaces the entire cell value.
	KindReplaceExact Kind = "replace_exact"
	// KindReplaceFold is KindReplaceExact with case-insensitive matching.
	KindReplaceFold Kind = "replace_fold"
	// KindReplacePattern replaces regexp matches.
	KindReplacePattern Kind = "replace_pattern"
	// KindNormalize rewrites cell formatting: whitespace or letter case.
	KindNormalize Kind = "normalize"
	// KindFillEmpty writes a constant into null or blank cells.
	KindFillEmpty Kind = "fill_empty"
)

// NormalizeMode selects what KindNormalize rewrites.
type NormalizeMode string

const (
	NormalizeSpace NormalizeMode = "space"
	NormalizeUpper NormalizeMode = "upper"
	NormalizeLower NormalizeMode = "lower"
	NormalizeTitle NormalizeMode = "title"
)

// Operation is one deterministic column-level mutation. Operations are
// produced in a fixed order by the interpreter and applied in that order:
// later operations see the output of earlier ones on the same cell.
type Operation struct {
	Kind Kind `json:"kind"`

	// Columns restricts the operation to named columns. Nil means the
	// operation applies to the resolved column set at execution time, so a
	// compiled plan stays valid across tables with different schemas.
	Columns []string `json:"columns,omitempty"`

	// Match is the literal match text for exact/fold kinds.
	Match string `json:"match,omitempty"`
	// Pattern is the regexp source for pattern kind; compiled lazily per run.
	Pattern string `json:"pattern,omitempty"`
	// Mode selects the normalize rewrite.
	Mode NormalizeMode `json:"mode,omitempty"`
	// Replacement is what a matched region becomes.
	Replacement string `json:"replacement"`
	// FirstMatchOnly replaces only the first occurrence in a cell; the
	// default replaces all occurrences.
	FirstMatchOnly bool `json:"first_match_only,omitempty"`

	reOnce sync.Once
	re     *regexp.Regexp
	reErr  error
}

// regex compiles Pattern once per run. A compile failure is surfaced as a
// per-cell error outcome by the executor, never a panic.
func (op *Operation) regex() (*regexp.Regexp, error) {
	op.reOnce.Do(func() {
		op.re, op.reErr = regexp.Compile(op.Pattern)
	})
	return op.re, op.reErr
}

// Describe returns a short stable label used in log entries.
func (op *Operation) Describe() string {
	if op.Kind == KindNormalize {
		return string(op.Kind) + ":" + string(op.Mode)
	}
	return string(op.Kind)
}
