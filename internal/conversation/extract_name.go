package conversation

import (
	"regexp"
	"strings"
	"unicode"
)

var namePhraseRE = regexp.MustCompile(`(?i)\b(?:my name is|my name's|name is|this is|i am|i'm|i’m|im)\s+(.+)`)

// ExtractName pulls the name out of phrases like "my name is Jane" or "I'm Jane".
// It returns "" when no phrase matches or nothing letter-like follows it.
func ExtractName(msg string) string {
	match := namePhraseRE.FindStringSubmatch(msg)
	if match == nil {
		return ""
	}
	rest := match[1]
	if idx := strings.IndexAny(rest, ",.!?;\n"); idx >= 0 {
		rest = rest[:idx]
	}
	return FormatName(rest)
}

// FormatName keeps letters and spaces, then capitalizes the first letter and lowercases the rest.
// "jane DOE" becomes "Jane doe". It returns "" when msg has no letters.
func FormatName(msg string) string {
	var b strings.Builder
	for _, r := range msg {
		switch {
		case unicode.IsLetter(r):
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-' || r == '\'':
			b.WriteRune(' ')
		}
	}
	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if cleaned == "" {
		return ""
	}
	runes := []rune(strings.ToLower(cleaned))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
