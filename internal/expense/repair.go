package expense

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxAmount bounds amounts so they always fit an int
const maxAmount = 1_000_000_000_000

var (
	trailingCommaPattern = regexp.MustCompile(`(?:,\s*)*,(\s*[}\]])`)
	amountCharsPattern   = regexp.MustCompile(`[^0-9.\-]`)
)

// RepairJSON applies best-effort fixes to JSON emitted by a language model.
// The result is not guaranteed to be valid JSON.
func RepairJSON(text string) string {
	cleaned := strings.TrimSpace(text)

	// Remove markdown code fences wherever they appear
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	// Drop prose before the first { and after the last }
	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end != -1 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")

	lines := strings.Split(cleaned, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isPropertyLine(line) {
			line = strings.TrimRight(line, ",")
			if next := nextNonBlank(lines, i+1); next != "" && !closesBlock(next) {
				line += ","
			}
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// isPropertyLine reports whether a line looks like a complete "key": value pair
func isPropertyLine(line string) bool {
	if strings.HasPrefix(line, "{") || closesBlock(line) {
		return false
	}
	// Lines opening a nested block must not get a comma appended
	return !strings.HasSuffix(line, "{") && !strings.HasSuffix(line, "[")
}

func closesBlock(line string) bool {
	return strings.HasPrefix(line, "}") || strings.HasPrefix(line, "]")
}

func nextNonBlank(lines []string, from int) string {
	for _, l := range lines[from:] {
		if l = strings.TrimSpace(l); l != "" {
			return l
		}
	}
	return ""
}

// SafeParse repairs and decodes a classifier response into a Record.
// It never fails: unparsable input yields the sentinel error record.
func SafeParse(text string, now time.Time) Record {
	cleaned := RepairJSON(text)
	slog.Debug("Repaired classifier response", "json", cleaned)

	dec := json.NewDecoder(bytes.NewReader([]byte(cleaned)))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		slog.Warn("Failed to parse classifier response", "error", err, "text", cleaned)
		return ErrorRecord(now, fmt.Sprintf("json parse error: %v", err))
	}
	if fields == nil {
		return ErrorRecord(now, "json parse error: response was null")
	}

	return recordFromFields(fields, now)
}

func recordFromFields(fields map[string]any, now time.Time) Record {
	var notes []string
	if n, ok := fields["notes"].(string); ok && strings.TrimSpace(n) != "" {
		notes = append(notes, strings.TrimSpace(n))
	}

	amount, err := coerceAmount(fields["amount"])
	if err != nil {
		notes = append(notes, err.Error())
	}

	category := CategoryOther
	if c, ok := fields["category"].(string); ok {
		category = ParseCategory(c)
	}

	description, _ := fields["description"].(string)
	description = strings.TrimSpace(description)
	if description == "" {
		description = unknownDescription
	}

	isValid, _ := fields["is_valid"].(bool)

	dateText, _ := fields["date"].(string)

	return Record{
		Category:    category,
		Amount:      amount,
		Date:        normalizeDate(dateText, now),
		Description: description,
		IsValid:     isValid,
		Notes:       strings.Join(notes, "; "),
	}
}

// coerceAmount converts a decoded amount into a non-negative integer.
// Missing values are 0 without complaint.
func coerceAmount(v any) (int, error) {
	var f float64
	switch val := v.(type) {
	case nil:
		return 0, nil
	case json.Number:
		parsed, err := val.Float64()
		if err != nil {
			return 0, fmt.Errorf("unparsable amount %q", val.String())
		}
		f = parsed
	case string:
		digits := amountCharsPattern.ReplaceAllString(val, "")
		if digits == "" {
			return 0, fmt.Errorf("unparsable amount %q", val)
		}
		parsed, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			return 0, fmt.Errorf("unparsable amount %q", val)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unparsable amount %v", val)
	}

	if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid amount %v", f)
	}
	if f > maxAmount {
		return 0, fmt.Errorf("invalid amount %v: out of range", f)
	}
	return int(f), nil
}

// normalizeDate converts LLM dates into YYYY-MM-DD, defaulting to today
func normalizeDate(text string, now time.Time) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return now.Format(DateLayout)
	}
	for _, layout := range []string{DateLayout, "2006/01/02", "2006-1-2", "2006/1/2"} {
		if d, err := time.Parse(layout, text); err == nil {
			return d.Format(DateLayout)
		}
	}
	if d, ok := parseLocalizedDate(text); ok {
		return d
	}
	return now.Format(DateLayout)
}
