package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kajiwara321/expense-report-tool/internal/expense"
)

// receiptService is the part of expense.Service OCR mode drives
type receiptService interface {
	ProcessImage(ctx context.Context, imagePath string) (*expense.ImageResult, error)
	ProcessDirectory(ctx context.Context, dir string) ([]*expense.ImageResult, []expense.ImageFailure, error)
}

// runOCR processes a single image or every image in dir and prints a summary.
// It returns the valid records.
func runOCR(ctx context.Context, out io.Writer, service receiptService, image, dir string) ([]expense.Record, error) {
	var (
		results  []*expense.ImageResult
		failures []expense.ImageFailure
	)

	if image != "" {
		result, err := service.ProcessImage(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("processing %s: %w", image, err)
		}
		results = append(results, result)
	} else {
		var err error
		results, failures, err = service.ProcessDirectory(ctx, dir)
		if err != nil {
			return nil, err
		}
	}

	var records []expense.Record
	for _, r := range results {
		e := r.Extraction
		fmt.Fprintf(out, "%s  %s  %s  %s\n", e.Date, expense.FormatYen(e.Amount), e.Description, e.SourceImagePath)
		if !r.Record.IsValid {
			slog.Warn("Skipping receipt classified as invalid", "path", e.SourceImagePath, "notes", r.Record.Notes)
			continue
		}
		records = append(records, r.Record)
	}

	for _, f := range failures {
		fmt.Fprintf(out, "FAILED  %s: %v\n", f.Path, f.Err)
	}
	fmt.Fprintf(out, "Processed %d receipt(s), %d failed\n", len(results), len(failures))

	if len(records) > 0 {
		fmt.Fprintln(out, separator)
		fmt.Fprintln(out, expense.Summarize(records).Format(time.Now().Format(expense.DateLayout)))
	}
	return records, nil
}
