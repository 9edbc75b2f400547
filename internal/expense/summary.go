package expense

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// HighValueThreshold is the amount from which an expense is called out in reports
const HighValueThreshold = 5000

// ErrNoRecords is returned when a report is requested for an empty set
var ErrNoRecords = errors.New("no expense records")

// CategoryTotal is the summed amount of one category
type CategoryTotal struct {
	Category Category `json:"category"`
	Amount   int      `json:"amount"`
	Count    int      `json:"count"`
}

// Summary aggregates a set of valid records
type Summary struct {
	Total      int             `json:"total"`
	ByCategory []CategoryTotal `json:"by_category"`
	HighValue  []Record        `json:"high_value"`
	Skipped    int             `json:"skipped"`
}

// Summarize totals the valid records; invalid and error records are counted as skipped
func Summarize(records []Record) Summary {
	totals := make(map[Category]*CategoryTotal, len(Categories))
	for _, c := range Categories {
		totals[c] = &CategoryTotal{Category: c}
	}

	var s Summary
	for _, r := range records {
		if !r.IsValid || r.IsError() {
			s.Skipped++
			continue
		}
		t, ok := totals[r.Category]
		if !ok {
			t = totals[CategoryOther]
		}
		t.Amount += r.Amount
		t.Count++
		s.Total += r.Amount
		if r.Amount >= HighValueThreshold {
			s.HighValue = append(s.HighValue, r)
		}
	}

	for _, c := range Categories {
		s.ByCategory = append(s.ByCategory, *totals[c])
	}
	return s
}

// Format renders the summary as a plain-text report dated on date
func (s Summary) Format(date string) string {
	var b strings.Builder
	rule := strings.Repeat("=", 30)
	fmt.Fprintf(&b, "%s\nExpense report (%s)\n%s\n\n", rule, date, rule)
	fmt.Fprintf(&b, "[Total]\n%s\n\n", FormatYen(s.Total))
	b.WriteString("[By category]\n")
	for _, t := range s.ByCategory {
		fmt.Fprintf(&b, "- %s: %s\n", t.Category, FormatYen(t.Amount))
	}
	fmt.Fprintf(&b, "\n[Notes]\n- High-value items (%s or more): %d\n", FormatYen(HighValueThreshold), len(s.HighValue))
	for _, r := range s.HighValue {
		fmt.Fprintf(&b, "  - %s %s %s\n", r.Date, r.Description, FormatYen(r.Amount))
	}
	if s.Skipped > 0 {
		fmt.Fprintf(&b, "- Skipped invalid entries: %d\n", s.Skipped)
	}
	return b.String()
}

var yenPrinter = message.NewPrinter(language.Japanese)

// FormatYen renders an amount with a yen sign and thousands separators
func FormatYen(amount int) string {
	if amount < 0 {
		return "-¥" + yenPrinter.Sprintf("%d", -amount)
	}
	return "¥" + yenPrinter.Sprintf("%d", amount)
}
