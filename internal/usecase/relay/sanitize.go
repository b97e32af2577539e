package relay

import (
	"regexp"
	"strings"
)

// citationPatterns match citation artifacts the assistant sometimes emits
// despite being told not to. Order matters: the specific glyph form runs
// before the catch-all bracket form.
var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`【\d+(?::\d+)?†[^】]*】`), // 【12†source】, 【4:0†file.pdf】
	regexp.MustCompile(`【[^】]*】`),
	regexp.MustCompile(`\[\d+(?:[,\s]*\d+)*\]`), // [3], [1, 2]
	regexp.MustCompile(`\(\d+\)`),               // (4)
}

// StripCitations removes citation markers and leaves all other characters,
// including surrounding whitespace, untouched.
func StripCitations(s string) string {
	for _, re := range citationPatterns {
		s = re.ReplaceAllString(s, "")
	}
	return s
}

// Sanitize removes citation markers and trims the result.
func Sanitize(s string) string {
	return strings.TrimSpace(StripCitations(s))
}
