// Package phone canonicalizes phone numbers into the identity key used for
// every customer and conversation lookup.
package phone

import (
	"fmt"
	"strings"
)

const (
	minDigits = 8
	maxDigits = 15
)

// Normalize returns the canonical E.164 key for raw, or "" when raw does not
// contain a plausible phone number. Ten digit numbers are treated as NANP.
func Normalize(raw string) string {
	digits := onlyDigits(raw)
	switch {
	case digits == "":
		return ""
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	case len(digits) >= minDigits && len(digits) <= maxDigits:
		return "+" + digits
	default:
		return ""
	}
}

// Digits returns the digits of the canonical key, or "" when raw is invalid.
func Digits(raw string) string {
	return strings.TrimPrefix(Normalize(raw), "+")
}

// Equal reports whether a and b render the same underlying number.
func Equal(a, b string) bool {
	na := Normalize(a)
	return na != "" && na == Normalize(b)
}

// Display formats raw for humans, e.g. "+1 (403) 555-0100". It must never be
// used as a lookup key.
func Display(raw string) string {
	key := Normalize(raw)
	if key == "" {
		return strings.TrimSpace(raw)
	}
	if len(key) == 12 && strings.HasPrefix(key, "+1") {
		d := key[2:]
		return fmt.Sprintf("+1 (%s) %s-%s", d[0:3], d[3:6], d[6:])
	}
	return key
}

func onlyDigits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
