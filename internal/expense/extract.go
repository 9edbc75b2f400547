package expense

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const unknownDescription = "unknown"

var (
	localizedDatePattern = regexp.MustCompile(`(\d{4})年\s*(\d{1,2})月\s*(\d{1,2})日`)
	numericDatePattern   = regexp.MustCompile(`(\d{4})[-/](\d{1,2})[-/](\d{1,2})`)

	// Tried in order; the first pattern with any match wins
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`[¥￥]\s*(\d[\d,]*)`),
		regexp.MustCompile(`(\d[\d,]*)\s*円`),
		regexp.MustCompile(`(?i)(?:金額|amount)\s*[:：]?\s*[¥￥]?\s*(\d[\d,]*)`),
		regexp.MustCompile(`(?i)(?:合計|total)\s*[:：]?\s*[¥￥]?\s*(\d[\d,]*)`),
	}
)

// ParseDate finds the first date in OCR text and returns it as YYYY-MM-DD.
// The localized 年月日 form is preferred over the numeric form; now is used
// when the text holds no valid date.
func ParseDate(text string, now time.Time) string {
	if d, ok := parseLocalizedDate(text); ok {
		return d
	}
	if d, ok := matchDate(numericDatePattern, text); ok {
		return d
	}
	slog.Debug("Date not found in text, using current date")
	return now.Format(DateLayout)
}

func parseLocalizedDate(text string) (string, bool) {
	return matchDate(localizedDatePattern, text)
}

func matchDate(pattern *regexp.Regexp, text string) (string, bool) {
	for _, m := range pattern.FindAllStringSubmatch(text, -1) {
		month, _ := strconv.Atoi(m[2])
		day, _ := strconv.Atoi(m[3])
		candidate := fmt.Sprintf("%s-%02d-%02d", m[1], month, day)
		if _, err := time.Parse(DateLayout, candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// ParseAmount returns the largest amount matched by the highest-priority
// pattern that matches at all, or 0.
func ParseAmount(text string) int {
	for _, pattern := range amountPatterns {
		matches := pattern.FindAllStringSubmatch(text, -1)
		if len(matches) == 0 {
			continue
		}

		found := false
		maxAmount := 0
		for _, m := range matches {
			amount, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
			if err != nil {
				continue
			}
			if !found || amount > maxAmount {
				maxAmount = amount
				found = true
			}
		}
		if found {
			slog.Debug("Amount found", "amount", maxAmount)
			return maxAmount
		}
	}

	slog.Debug("Amount not found in text")
	return 0
}

// ParseDescription returns the first non-blank line of text
func ParseDescription(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return unknownDescription
}

// Extract pulls date, amount and description out of raw OCR text
func Extract(text, sourceImagePath string, now time.Time) Extraction {
	return Extraction{
		Date:            ParseDate(text, now),
		Amount:          ParseAmount(text),
		Description:     ParseDescription(text),
		RawText:         text,
		SourceImagePath: sourceImagePath,
	}
}
