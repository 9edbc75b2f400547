package expense

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the ISO 8601 calendar date layout used for every record date
const DateLayout = "2006-01-02"

// Category is the classification bucket of an expense
type Category string

const (
	CategoryTransport Category = "transport"
	CategoryLodging   Category = "lodging"
	CategoryMeal      Category = "meal"
	CategorySupplies  Category = "supplies"
	CategoryOther     Category = "other"
	CategoryError     Category = "error"
)

// Categories lists the reportable categories in display order
var Categories = []Category{
	CategoryTransport,
	CategoryLodging,
	CategoryMeal,
	CategorySupplies,
	CategoryOther,
}

var categoryAliases = map[string]Category{
	"transport":      CategoryTransport,
	"transportation": CategoryTransport,
	"travel":         CategoryTransport,
	"交通費":            CategoryTransport,
	"lodging":        CategoryLodging,
	"hotel":          CategoryLodging,
	"accommodation":  CategoryLodging,
	"宿泊費":            CategoryLodging,
	"meal":           CategoryMeal,
	"meals":          CategoryMeal,
	"food":           CategoryMeal,
	"飲食費":            CategoryMeal,
	"supplies":       CategorySupplies,
	"supply":         CategorySupplies,
	"消耗品費":           CategorySupplies,
	"other":          CategoryOther,
	"その他":            CategoryOther,
	"error":          CategoryError,
	"エラー":            CategoryError,
}

// ParseCategory maps an LLM-provided label onto a Category.
// Unknown labels fall into CategoryOther.
func ParseCategory(label string) Category {
	key := strings.ToLower(strings.TrimSpace(label))
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return CategoryOther
}

// Record is a classified expense entry
type Record struct {
	Category    Category `json:"category"`
	Amount      int      `json:"amount"`
	Date        string   `json:"date"` // YYYY-MM-DD
	Description string   `json:"description"`
	IsValid     bool     `json:"is_valid"`
	Notes       string   `json:"notes"`
}

// ErrorRecord builds the sentinel record returned when a response cannot be parsed
func ErrorRecord(now time.Time, diagnostic string) Record {
	return Record{
		Category:    CategoryError,
		Amount:      0,
		Date:        now.Format(DateLayout),
		Description: "parse error",
		IsValid:     false,
		Notes:       diagnostic,
	}
}

// IsError reports whether r is a sentinel error record
func (r Record) IsError() bool {
	return r.Category == CategoryError
}

// Extraction holds the fields pulled out of raw OCR text
type Extraction struct {
	Date            string `json:"date"`
	Amount          int    `json:"amount"`
	Description     string `json:"description"`
	RawText         string `json:"raw_text"`
	SourceImagePath string `json:"source_image_path"`
}

// Candidate renders the extraction as input text for the classifier
func (e Extraction) Candidate() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s ¥%d\n", e.Description, e.Date, e.Amount)
	if raw := strings.TrimSpace(e.RawText); raw != "" {
		b.WriteString("\nReceipt text:\n")
		b.WriteString(raw)
	}
	return b.String()
}

// LedgerEntry is a record persisted in the ledger
type LedgerEntry struct {
	ID              string    `json:"id"`
	Record          Record    `json:"record"`
	SourceImagePath string    `json:"source_image_path,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
