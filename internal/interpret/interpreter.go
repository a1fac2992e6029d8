// Package interpret compiles free-form transformation instructions into
// deterministic, ordered operation lists. It is a rule-based classifier over
// an ordered intent table, not an NLP model: the same instruction always
// compiles to the same plan.
package interpret

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/Zikki-Qing/tabmend/internal/common"
	"github.com/Zikki-Qing/tabmend/internal/transform"
)

var quotedRe = regexp.MustCompile(`'([^']*)'|"([^"]*)"`)

// candidate is a recognized intent anchored at its position in the
// instruction text. Emission order follows textual order.
type candidate struct {
	pos int
	op  *transform.Operation
}

// Compile parses instruction and returns the ordered operation list.
// The replacement value supplied separately always wins where an operation
// needs a replacement string: the instruction says what to change, the
// parameter says what to change it to. Target columns are carried in the
// plan and resolved lazily at execution time, never here.
//
// Returns ErrUnrecognizedInstruction when no intent matches, so bad
// instructions are rejected before any job exists.
func Compile(instruction, replacement string, targetColumns []string) ([]*transform.Operation, error) {
	text := strings.TrimSpace(instruction)
	if text == "" {
		return nil, fmt.Errorf("%w: empty instruction", common.ErrUnrecognizedInstruction)
	}
	lower := strings.ToLower(text)
	mask := make([]bool, len(lower))
	matchText := firstQuoted(text)
	firstOnly := wantsFirstOnly(lower)

	var cands []candidate

	// Phrase families are scanned in a fixed order. Earlier families mask
	// the regions they matched so their trigger words cannot re-fire in a
	// later family ("remove spaces" is trim, not remove).
	if pos := maskEarliest(lower, mask, trimPhrases); pos >= 0 {
		cands = append(cands, candidate{pos, &transform.Operation{
			Kind: transform.KindNormalize,
			Mode: transform.NormalizeSpace,
		}})
	}
	if pos, mode := caseIntent(lower, mask); pos >= 0 {
		cands = append(cands, candidate{pos, &transform.Operation{
			Kind: transform.KindNormalize,
			Mode: mode,
		}})
	}
	if pos := maskEarliest(lower, mask, fillPhrases); pos >= 0 {
		cands = append(cands, candidate{pos, &transform.Operation{
			Kind:        transform.KindFillEmpty,
			Replacement: replacement,
		}})
	}
	if c := replaceIntent(lower, mask, matchText, replacement, firstOnly); c != nil {
		cands = append(cands, *c)
	}

	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: no known intent in %q", common.ErrUnrecognizedInstruction, text)
	}

	sort.SliceStable(cands, func(i, j int) bool { return cands[i].pos < cands[j].pos })
	ops := make([]*transform.Operation, len(cands))
	for i, c := range cands {
		ops[i] = c.op
	}
	return ops, nil
}

var trimPhrases = []string{
	"trim whitespace", "trim spaces", "trim",
	"strip whitespace", "strip spaces",
	"remove whitespace", "remove spaces", "remove extra spaces",
	"collapse whitespace", "normalize whitespace",
}

var fillPhrases = []string{
	"fill empty", "fill blank", "fill missing", "fill in empty",
	"replace empty", "replace blank", "replace missing",
	"default to",
}

var foldPhrases = []string{
	"case-insensitive", "case insensitive", "ignore case", "ignoring case",
	"regardless of case",
}

// replaceIntent resolves the mutually exclusive replace family:
// pattern-replace, exact-replace, and remove. Quoted text pins the intent to
// exact replacement of that text; without quotes, a library pattern keyword
// wins over the generic verb that introduced it ("mask phone numbers" is a
// phone-pattern replace, not a whole-cell one).
func replaceIntent(lower string, mask []bool, matchText, replacement string, firstOnly bool) *candidate {
	pattern, patPos, patOK := lookupPattern(lower)
	if patOK && !unmaskedAt(mask, patPos) {
		patOK = false
	}
	exactPos := findAnyUnmasked(lower, mask, replacePhrases)
	if rp := removePos(lower, mask); rp >= 0 && (exactPos < 0 || rp < exactPos) {
		exactPos = rp
	}

	usePattern := patOK && matchText == ""
	switch {
	case usePattern:
		return &candidate{patPos, &transform.Operation{
			Kind:           transform.KindReplacePattern,
			Pattern:        pattern,
			Replacement:    replacement,
			FirstMatchOnly: firstOnly,
		}}
	case exactPos >= 0:
		op := &transform.Operation{
			Kind:           transform.KindReplaceExact,
			Match:          matchText,
			Replacement:    replacement,
			FirstMatchOnly: firstOnly,
		}
		if matchText != "" && anyPresent(lower, foldPhrases) {
			op.Kind = transform.KindReplaceFold
		}
		return &candidate{exactPos, op}
	default:
		return nil
	}
}

var replacePhrases = []string{
	"replace", "change", "substitute", "swap",
	"mask", "hide", "blank out", "redact",
	"set to", "rewrite",
}

var removeWords = []string{"remove", "delete", "clear", "erase"}

// removePos finds a remove trigger that is not a masked trim/fill phrase.
func removePos(lower string, mask []bool) int {
	best := -1
	for _, w := range removeWords {
		if p := findUnmasked(lower, mask, w); p >= 0 && (best < 0 || p < best) {
			best = p
		}
	}
	return best
}

// caseIntent recognizes letter-case normalization and masks the phrase.
func caseIntent(lower string, mask []bool) (int, transform.NormalizeMode) {
	families := []struct {
		phrases []string
		mode    transform.NormalizeMode
	}{
		{[]string{"uppercase", "upper case", "to upper"}, transform.NormalizeUpper},
		{[]string{"lowercase", "lower case", "to lower"}, transform.NormalizeLower},
		{[]string{"capitalize", "title case"}, transform.NormalizeTitle},
		{[]string{"normalize case"}, transform.NormalizeLower},
	}
	bestPos, bestMode := -1, transform.NormalizeLower
	for _, f := range families {
		if p := maskEarliest(lower, mask, f.phrases); p >= 0 && (bestPos < 0 || p < bestPos) {
			bestPos, bestMode = p, f.mode
		}
	}
	return bestPos, bestMode
}

// firstQuoted returns the content of the first single- or double-quoted
// substring, preserving case.
func firstQuoted(text string) string {
	m := quotedRe.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	if m[1] != "" {
		return m[1]
	}
	return m[2]
}

var firstOnlyRe = regexp.MustCompile(`\b(?:only|just) the first\b|\bfirst (?:occurrence|match|instance)\b`)

// wantsFirstOnly recognizes phrases that scope a replace to its first hit.
// A bare "first" does not count: "the first name column" names a column.
func wantsFirstOnly(lower string) bool {
	return firstOnlyRe.MatchString(lower)
}

// maskEarliest marks every occurrence of the given phrases and returns the
// earliest unmasked start position, or -1.
func maskEarliest(lower string, mask []bool, phrases []string) int {
	earliest := -1
	for _, phrase := range phrases {
		for from := 0; ; {
			i := strings.Index(lower[from:], phrase)
			if i < 0 {
				break
			}
			p := from + i
			if unmaskedAt(mask, p) {
				if earliest < 0 || p < earliest {
					earliest = p
				}
				for j := p; j < p+len(phrase) && j < len(mask); j++ {
					mask[j] = true
				}
			}
			from = p + len(phrase)
		}
	}
	return earliest
}

func findUnmasked(lower string, mask []bool, phrase string) int {
	for from := 0; ; {
		i := strings.Index(lower[from:], phrase)
		if i < 0 {
			return -1
		}
		p := from + i
		if unmaskedAt(mask, p) {
			return p
		}
		from = p + len(phrase)
	}
}

func findAnyUnmasked(lower string, mask []bool, phrases []string) int {
	best := -1
	for _, phrase := range phrases {
		if p := findUnmasked(lower, mask, phrase); p >= 0 && (best < 0 || p < best) {
			best = p
		}
	}
	return best
}

func unmaskedAt(mask []bool, pos int) bool {
	return pos < len(mask) && !mask[pos]
}

func anyPresent(lower string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
