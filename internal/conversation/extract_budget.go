package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

const (
	budgetLowCeiling  = 30000
	budgetHighCeiling = 50000

	BudgetUnder30k  = "Under $30k"
	Budget30kTo50k  = "$30k-$50k"
	BudgetOver50k   = "$50k+"
	maxBudgetDigits = 12
)

var (
	budgetDigitsRE = regexp.MustCompile(`(\d+)(\s*[kK]\b)?`)
	budgetLowRE    = regexp.MustCompile(`(?i)\b(cheap|cheaper|low|lower|affordable|inexpensive)\b`)
	budgetHighRE   = regexp.MustCompile(`(?i)\b(high|higher|premium|luxury)\b`)
)

// ExtractBudget returns the first dollar amount in msg, or nil when there is none.
// Thousands separators are ignored and a trailing k multiplies amounts under 1000.
func ExtractBudget(msg string) *int64 {
	cleaned := strings.ReplaceAll(msg, ",", "")
	match := budgetDigitsRE.FindStringSubmatch(cleaned)
	if match == nil {
		return nil
	}
	digits := strings.TrimLeft(match[1], "0")
	if digits == "" {
		digits = "0"
	}
	if len(digits) > maxBudgetDigits {
		return nil
	}
	amount, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil
	}
	if match[2] != "" && amount < 1000 {
		amount *= 1000
	}
	return &amount
}

// BudgetBucket maps an amount to its display bucket.
func BudgetBucket(amount int64) string {
	switch {
	case amount < budgetLowCeiling:
		return BudgetUnder30k
	case amount <= budgetHighCeiling:
		return Budget30kTo50k
	default:
		return BudgetOver50k
	}
}

// BudgetFromKeywords buckets qualitative answers like "something cheap". It returns "" when
// no keyword matches.
func BudgetFromKeywords(msg string) string {
	switch {
	case budgetLowRE.MatchString(msg):
		return BudgetUnder30k
	case budgetHighRE.MatchString(msg):
		return BudgetOver50k
	default:
		return ""
	}
}
