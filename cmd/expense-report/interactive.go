package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kajiwara321/expense-report-tool/internal/expense"
)

const separator = "--------------------------------------------------"

// expenseService is the part of expense.Service the CLI drives
type expenseService interface {
	ClassifyExpense(ctx context.Context, text string) (expense.Record, error)
	GenerateReport(ctx context.Context, records []expense.Record) (string, error)
}

type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// ask prints question and returns the trimmed answer; ok is false at end of input
func (p *prompter) ask(question string) (answer string, ok bool) {
	fmt.Fprint(p.out, question)
	if !p.scanner.Scan() {
		fmt.Fprintln(p.out)
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

func (p *prompter) confirm(question string) bool {
	answer, ok := p.ask(question + " (y/n): ")
	return ok && strings.EqualFold(answer, "y")
}

// runInteractive classifies expenses typed on in until the user quits, then
// prints a report. It returns the valid records.
func runInteractive(ctx context.Context, in io.Reader, out io.Writer, service expenseService) ([]expense.Record, error) {
	p := &prompter{scanner: bufio.NewScanner(in), out: out}

	fmt.Fprintln(out, separator)
	fmt.Fprintln(out, "=== Expense Report Tool ===")
	fmt.Fprintln(out, "Enter one expense per line ('q' to quit).")
	fmt.Fprintln(out, "Format: item date amount details")
	fmt.Fprintln(out, "Example: Taxi 2024-03-13 ¥1,500 Tokyo Station to the office")
	fmt.Fprintln(out, separator)

	var records []expense.Record
	for {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		text, ok := p.ask("Expense: ")
		if !ok || strings.EqualFold(text, "q") {
			break
		}
		if text == "" {
			continue
		}

		record, err := service.ClassifyExpense(ctx, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return records, err
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			if !p.confirm("Retry?") {
				break
			}
			continue
		}

		if record.IsValid {
			records = append(records, record)
		}
		printRecord(out, record)

		if !p.confirm("Continue?") {
			break
		}
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No expenses entered.")
		return nil, nil
	}

	fmt.Fprintln(out, separator)
	fmt.Fprintln(out, "=== Generating report ===")
	fmt.Fprintln(out, report(ctx, service, records))
	fmt.Fprintln(out, separator)
	return records, nil
}

// report asks the LLM for a report, falling back to the local summary
func report(ctx context.Context, service expenseService, records []expense.Record) string {
	text, err := service.GenerateReport(ctx, records)
	if err != nil {
		slog.Warn("Report generation failed, using local summary", "error", err)
		return expense.Summarize(records).Format(time.Now().Format(expense.DateLayout))
	}
	return text
}

func printRecord(out io.Writer, record expense.Record) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "%+v\n", record)
		return
	}
	fmt.Fprintf(out, "=== Classification ===\n%s\n%s\n", data, separator)
}
