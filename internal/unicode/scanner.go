package unicode

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Finding is one suspicious character found in a command string.
type Finding struct {
	Class     string // "zero-width", "bidi-override", "tag-char", "control-char", "invalid-utf8", "homoglyph"
	Offset    int    // byte offset in the input
	Codepoint string // e.g. "U+200B"
	Blocking  bool   // the command cannot be analysed reliably
}

func (f Finding) String() string {
	return fmt.Sprintf("%s %s at byte %d", f.Class, f.Codepoint, f.Offset)
}

// Result holds the findings of a scan.
type Result struct {
	Findings []Finding
}

// First returns the first blocking finding.
func (r Result) First() (Finding, bool) {
	for _, f := range r.Findings {
		if f.Blocking {
			return f, true
		}
	}
	return Finding{}, false
}

// Scan inspects a command string for characters that make the text a
// reader sees differ from the text a shell executes.
func Scan(input string) Result {
	var res Result
	for i := 0; i < len(input); {
		r, size := utf8.DecodeRuneInString(input[i:])
		if r == utf8.RuneError && size == 1 {
			res.Findings = append(res.Findings, Finding{
				Class:     "invalid-utf8",
				Offset:    i,
				Codepoint: fmt.Sprintf("0x%02X", input[i]),
				Blocking:  true,
			})
			i++
			continue
		}
		if class := classify(r); class != "" {
			res.Findings = append(res.Findings, Finding{
				Class:     class,
				Offset:    i,
				Codepoint: fmt.Sprintf("U+%04X", r),
				Blocking:  class != "homoglyph",
			})
		}
		i += size
	}
	return res
}

func classify(r rune) string {
	switch {
	case isZeroWidth(r):
		return "zero-width"
	case isBidiOverride(r):
		return "bidi-override"
	case r >= 0xE0001 && r <= 0xE007F:
		return "tag-char"
	case isUnsafeControl(r):
		return "control-char"
	}
	if _, ok := Homoglyph(r); ok {
		return "homoglyph"
	}
	return ""
}

func isZeroWidth(r rune) bool {
	switch r {
	case '\u200B', '\u200C', '\u200D', '\uFEFF', '\u2060', '\u180E', '\u200E', '\u200F':
		return true
	}
	return false
}

func isBidiOverride(r rune) bool {
	return (r >= '\u202A' && r <= '\u202E') || (r >= '\u2066' && r <= '\u2069')
}

// Tab, newline and carriage return are ordinary shell whitespace.
func isUnsafeControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return r <= 0x1F || r == 0x7F || (r >= 0x80 && r <= 0x9F)
}

// Homoglyph returns the Latin letter that r can be mistaken for.
func Homoglyph(r rune) (rune, bool) {
	switch {
	case unicode.Is(unicode.Cyrillic, r):
		l, ok := cyrillic[r]
		return l, ok
	case unicode.Is(unicode.Greek, r):
		l, ok := greek[r]
		return l, ok
	}
	return 0, false
}

// Confusable reports whether s contains a letter that looks like a Latin
// one but is not.
func Confusable(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool {
		_, ok := Homoglyph(r)
		return ok
	}) >= 0
}

var cyrillic = map[rune]rune{
	'а': 'a', 'А': 'A', 'В': 'B', 'с': 'c', 'С': 'C', 'е': 'e', 'Е': 'E',
	'Н': 'H', 'і': 'i', 'І': 'I', 'К': 'K', 'М': 'M', 'о': 'o', 'О': 'O',
	'р': 'p', 'Р': 'P', 'Т': 'T', 'х': 'x', 'Х': 'X', 'у': 'y', 'У': 'Y',
}

var greek = map[rune]rune{
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Η': 'H', 'Ι': 'I', 'Κ': 'K', 'Μ': 'M',
	'Ν': 'N', 'Ο': 'O', 'ο': 'o', 'Ρ': 'P', 'Τ': 'T', 'Χ': 'X', 'Υ': 'Y',
	'Ζ': 'Z',
}
