package spreadsheet

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"github.com/kajiwara321/expense-report-tool/internal/expense"
)

const (
	// SheetName is the worksheet expenses are written to
	SheetName = "Expenses"

	totalLabel  = "Total"
	yenFormat   = "¥#,##0"
	minColWidth = 8
	maxColWidth = 50
)

var headers = []string{"No.", "Date", "Description", "Amount", "Category"}

// Columns, 1-based as excelize expects
const (
	colNo = iota + 1
	colDate
	colDescription
	colAmount
	colCategory
)

// DefaultOutputPath returns the timestamped file name used when no output path is given
func DefaultOutputPath(now time.Time) string {
	return fmt.Sprintf("expense_report_%s.xlsx", now.Format("20060102_150405"))
}

// Writer renders expense records into styled xlsx workbooks
type Writer struct{}

// NewWriter creates a new Writer
func NewWriter() *Writer {
	return &Writer{}
}

// Write creates a new workbook at path holding records and a total row
func (w *Writer) Write(records []expense.Record, path string) error {
	f, err := newWorkbook()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fill(f, 1, 0, records); err != nil {
		return err
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}

	slog.Info("Expense data written", "path", path, "records", len(records))
	return nil
}

// Append adds records after the existing rows of the workbook at path,
// replacing its total row. A missing workbook is created.
func (w *Writer) Append(records []expense.Record, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		slog.Info("Workbook not found, creating it", "path", path)
		return w.Write(records, path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	idx, err := f.GetSheetIndex(SheetName)
	if err != nil {
		return fmt.Errorf("finding sheet: %w", err)
	}
	if idx == -1 {
		if _, err := f.NewSheet(SheetName); err != nil {
			return fmt.Errorf("creating sheet: %w", err)
		}
		if err := writeHeader(f); err != nil {
			return err
		}
	}

	lastRow, existingTotal, err := existingData(f)
	if err != nil {
		return err
	}
	if err := fill(f, lastRow, existingTotal, records); err != nil {
		return err
	}
	if err := f.Save(); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}

	slog.Info("Expense data appended", "path", path, "records", len(records))
	return nil
}

// Export writes a new workbook holding records to out
func (w *Writer) Export(out io.Writer, records []expense.Record) error {
	f, err := newWorkbook()
	if err != nil {
		return err
	}
	defer f.Close()

	if err := fill(f, 1, 0, records); err != nil {
		return err
	}
	if err := f.Write(out); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}

func newWorkbook() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("naming sheet: %w", err)
	}
	if err := writeHeader(f); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeHeader(f *excelize.File) error {
	for i, h := range headers {
		if err := setCell(f, i+1, 1, h); err != nil {
			return err
		}
	}

	style, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12},
		Fill:      solidFill("DDEBF7"),
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
		Border:    borders(1),
	})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}
	return styleRange(f, colNo, 1, colCategory, 1, style)
}

// existingData returns the last data row of the sheet and the sum of its
// numeric amounts. Rows from the old total onward are removed.
func existingData(f *excelize.File) (int, int, error) {
	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return 0, 0, fmt.Errorf("reading rows: %w", err)
	}

	lastRow := 1
	total := 0
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if cellAt(row, colDescription) == totalLabel {
			break
		}
		if cellAt(row, colNo) == "" && cellAt(row, colDescription) == "" {
			continue
		}
		lastRow = i + 1
		if amount, err := strconv.ParseFloat(cellAt(row, colAmount), 64); err == nil {
			total += int(amount)
		}
	}

	for r := len(rows); r > lastRow; r-- {
		if err := f.RemoveRow(SheetName, r); err != nil {
			return 0, 0, fmt.Errorf("removing row %d: %w", r, err)
		}
	}
	return lastRow, total, nil
}

// fill writes records below lastRow, numbering on from the rows above,
// then a blank row and the total row
func fill(f *excelize.File, lastRow, total int, records []expense.Record) error {
	styles, err := newDataStyles(f)
	if err != nil {
		return err
	}

	for i, r := range records {
		row := lastRow + i + 1
		values := []any{row - 1, r.Date, r.Description, r.Amount, string(r.Category)}
		for col, v := range values {
			if err := setCell(f, col+1, row, v); err != nil {
				return err
			}
		}
		total += r.Amount

		base, amount := styles.odd, styles.oddAmount
		if row%2 == 0 {
			base, amount = styles.even, styles.evenAmount
		}
		if err := styleRange(f, colNo, row, colCategory, row, base); err != nil {
			return err
		}
		if err := styleRange(f, colAmount, row, colAmount, row, amount); err != nil {
			return err
		}
	}

	totalRow := lastRow + len(records) + 2
	if err := setCell(f, colDescription, totalRow, totalLabel); err != nil {
		return err
	}
	if err := setCell(f, colAmount, totalRow, total); err != nil {
		return err
	}
	if err := styleRange(f, colDescription, totalRow, colDescription, totalRow, styles.totalLabel); err != nil {
		return err
	}
	if err := styleRange(f, colAmount, totalRow, colAmount, totalRow, styles.total); err != nil {
		return err
	}

	return fitColumns(f)
}

type dataStyles struct {
	odd, even             int
	oddAmount, evenAmount int
	totalLabel, total     int
}

func newDataStyles(f *excelize.File) (*dataStyles, error) {
	numFmt := yenFormat
	specs := []*excelize.Style{
		{Alignment: &excelize.Alignment{Vertical: "center"}, Border: borders(1)},
		{Alignment: &excelize.Alignment{Vertical: "center"}, Border: borders(1), Fill: solidFill("F5F5F5")},
		{Alignment: &excelize.Alignment{Vertical: "center"}, Border: borders(1), CustomNumFmt: &numFmt},
		{Alignment: &excelize.Alignment{Vertical: "center"}, Border: borders(1), Fill: solidFill("F5F5F5"), CustomNumFmt: &numFmt},
		{Font: &excelize.Font{Bold: true, Size: 12}, Alignment: &excelize.Alignment{Horizontal: "right", Vertical: "center"}},
		{
			Font:         &excelize.Font{Bold: true, Size: 12},
			Fill:         solidFill("FFC000"),
			Alignment:    &excelize.Alignment{Horizontal: "right", Vertical: "center"},
			Border:       borders(2),
			CustomNumFmt: &numFmt,
		},
	}

	ids := make([]int, len(specs))
	for i, spec := range specs {
		id, err := f.NewStyle(spec)
		if err != nil {
			return nil, fmt.Errorf("creating style: %w", err)
		}
		ids[i] = id
	}
	return &dataStyles{
		odd: ids[0], even: ids[1],
		oddAmount: ids[2], evenAmount: ids[3],
		totalLabel: ids[4], total: ids[5],
	}, nil
}

// fitColumns sizes every column to its longest value; non-ASCII characters
// count double
func fitColumns(f *excelize.File) error {
	rows, err := f.GetRows(SheetName, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("reading rows: %w", err)
	}

	for col := colNo; col <= colCategory; col++ {
		longest := 0
		for _, row := range rows {
			longest = max(longest, displayWidth(cellAt(row, col)))
		}
		name, err := excelize.ColumnNumberToName(col)
		if err != nil {
			return err
		}
		width := float64(min(maxColWidth, max(minColWidth, longest+2)))
		if err := f.SetColWidth(SheetName, name, name, width); err != nil {
			return fmt.Errorf("setting column width: %w", err)
		}
	}
	return nil
}

func displayWidth(s string) int {
	n := 0
	for _, r := range s {
		n++
		if r >= utf8.RuneSelf {
			n++
		}
	}
	return n
}

func cellAt(row []string, col int) string {
	if col-1 < len(row) {
		return row[col-1]
	}
	return ""
}

func setCell(f *excelize.File, col, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(SheetName, cell, value); err != nil {
		return fmt.Errorf("setting cell %s: %w", cell, err)
	}
	return nil
}

func styleRange(f *excelize.File, fromCol, fromRow, toCol, toRow, style int) error {
	from, err := excelize.CoordinatesToCellName(fromCol, fromRow)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(toCol, toRow)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, from, to, style); err != nil {
		return fmt.Errorf("styling %s:%s: %w", from, to, err)
	}
	return nil
}

func solidFill(color string) excelize.Fill {
	return excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{color}}
}

func borders(style int) []excelize.Border {
	sides := []string{"left", "right", "top", "bottom"}
	out := make([]excelize.Border, 0, len(sides))
	for _, side := range sides {
		out = append(out, excelize.Border{Type: side, Color: "000000", Style: style})
	}
	return out
}
