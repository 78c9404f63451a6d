package conversation

import (
	"regexp"
	"strings"
)

var (
	todayRE     = regexp.MustCompile(`(?i)\btoday\b`)
	tomorrowRE  = regexp.MustCompile(`(?i)\b(tomorrow|tmrw|tmr)\b`)
	tonightRE   = regexp.MustCompile(`(?i)\btonight\b`)
	morningRE   = regexp.MustCompile(`(?i)\bmorning\b`)
	afternoonRE = regexp.MustCompile(`(?i)\bafternoon\b`)
	eveningRE   = regexp.MustCompile(`(?i)\b(evening|night)\b`)
	weekendRE   = regexp.MustCompile(`(?i)\bweekend\b`)
	nextWeekRE  = regexp.MustCompile(`(?i)\bnext\s+week\b`)
)

// NormalizeDatetime maps casual scheduling phrases onto a small display vocabulary and
// passes anything else through trimmed. The result is free text, never a parsed time.
func NormalizeDatetime(msg string) string {
	trimmed := strings.TrimSpace(msg)

	day := ""
	switch {
	case tomorrowRE.MatchString(trimmed):
		day = "Tomorrow"
	case todayRE.MatchString(trimmed), tonightRE.MatchString(trimmed):
		day = "Today"
	}

	part := ""
	switch {
	case morningRE.MatchString(trimmed):
		part = "morning"
	case afternoonRE.MatchString(trimmed):
		part = "afternoon"
	case tonightRE.MatchString(trimmed), eveningRE.MatchString(trimmed):
		part = "evening"
	}

	if day != "" && part != "" {
		return day + " " + part
	}
	if weekendRE.MatchString(trimmed) {
		return "This weekend"
	}
	if nextWeekRE.MatchString(trimmed) {
		return "Next week"
	}
	return trimmed
}
