package interpret

import "strings"

// Named pattern library for pattern-replace instructions. Patterns are fixed
// so compiled plans stay auditable; free-form regex is never accepted from
// the instruction text.
var namedPatterns = []struct {
	keywords []string
	pattern  string
}{
	{[]string{"phone", "mobile", "telephone"}, `(\d{3})(\d{4})(\d{4})`},
	{[]string{"email", "e-mail"}, `(\w+)@(\w+\.\w+)`},
	{[]string{"id card", "id number", "identity"}, `(\d{6})(\d{8})(\d{4})`},
	{[]string{"digit", "number", "numeric"}, `(\d+)`},
}

// lookupPattern returns the library pattern whose keyword occurs earliest in
// the lowercased instruction, and the position of that keyword. Textual
// position decides between families: "redact emails and phones" is an email
// replace.
func lookupPattern(lower string) (pattern string, pos int, ok bool) {
	pos = -1
	for _, np := range namedPatterns {
		for _, kw := range np.keywords {
			if i := strings.Index(lower, kw); i >= 0 && (pos == -1 || i < pos) {
				pattern, pos, ok = np.pattern, i, true
			}
		}
	}
	return pattern, pos, ok
}
