// Package transcript renders dialog turns into the wire string form and
// holds the text scrubbing helpers shared by the chat pipeline.
package transcript

import (
	"strings"
	"unicode"

	"waifuapi/pkg/domain"
)

// Render joins turns as `<name> said: "<message>"`, space separated, in the
// order given. Messages are embedded verbatim, without escaping.
func Render(turns []domain.Turn) string {
	if len(turns) == 0 {
		return ""
	}
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, t.Name+` said: "`+t.Message+`"`)
	}
	return strings.Join(parts, " ")
}

// CleanParagraph keeps letters, digits, whitespace and the punctuation the
// model tolerates (' ? , !), then returns the trailing max runes.
func CleanParagraph(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune("'?,!", r) {
			b.WriteRune(r)
		}
	}
	return Tail(b.String(), max)
}

// Tail returns the trailing n runes of s.
func Tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
