package conversation

import (
	"regexp"
	"strings"
)

// managerPatterns matches customers asking to skip the script and hear from a person.
var managerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(sales\s*)?manager\b`),
	regexp.MustCompile(`(?i)\bsupervisor\b`),
	regexp.MustCompile(`(?i)\bcall\s*(me\s*)?(back|please)\b`),
	regexp.MustCompile(`(?i)\bjust\s*call\s*me\b`),
	regexp.MustCompile(`(?i)\bcall\s*me\s*[.!?]*$`),
	regexp.MustCompile(`(?i)\bcan\s*(you|someone)\s*call\s*(me)?\b`),
	regexp.MustCompile(`(?i)\b(speak|talk)\s*(to|with)\s*(someone|a\s*(real\s*)?(person|human)|a\s*rep)\b`),
	regexp.MustCompile(`(?i)\b(real|actual)\s*(person|human)\b`),
	regexp.MustCompile(`(?i)\bare\s*you\s*a\s*(bot|robot)\b`),
}

// IsManagerRequest returns true if the message asks for a manager or a human callback.
func IsManagerRequest(message string) bool {
	message = strings.TrimSpace(message)
	if message == "" {
		return false
	}
	for _, pat := range managerPatterns {
		if pat.MatchString(message) {
			return true
		}
	}
	return false
}
