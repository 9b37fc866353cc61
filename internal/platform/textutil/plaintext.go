package textutil

import (
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultMaxPlainTextRunes bounds free-text fields such as cancellation reasons.
const DefaultMaxPlainTextRunes = 500

var strictPolicy = bluemonday.StrictPolicy()

// SanitizePlainText strips markup, unescapes entities, collapses whitespace and truncates
// the result to maxRunes (DefaultMaxPlainTextRunes when maxRunes <= 0).
func SanitizePlainText(value string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxPlainTextRunes
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	fields := strings.FieldsFunc(stripped, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
	cleaned := strings.Join(fields, " ")
	if utf8.RuneCountInString(cleaned) <= maxRunes {
		return cleaned
	}
	runes := []rune(cleaned)
	return strings.TrimSpace(string(runes[:maxRunes]))
}
