package expense_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/xuri/excelize/v2"

	"github.com/kajiwara321/expense-report-tool/internal/expense"
	"github.com/kajiwara321/expense-report-tool/internal/scanning"
	"github.com/kajiwara321/expense-report-tool/internal/spreadsheet"
)

// stubOCR returns canned receipt text for any image
type stubOCR struct {
	text string
}

func (s *stubOCR) ExtractText(ctx context.Context, imagePath string) (string, error) {
	return s.text, nil
}

func ollamaReply(content string) http.HandlerFunc {
	return ghttp.CombineHandlers(
		ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
		ghttp.RespondWithJSONEncoded(http.StatusOK, map[string]any{
			"message": map[string]string{"role": "assistant", "content": content},
			"done":    true,
		}),
	)
}

var _ = Describe("Integration", func() {
	var (
		tempDir  string
		db       *expense.BoltDB
		store    *expense.LocalStorage
		service  *expense.Service
		server   *expense.Server
		ollama   *ghttp.Server
		ghServer *ghttp.Server
	)

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()

		var err error
		db, err = expense.NewBoltDB(filepath.Join(tempDir, "test.db"))
		Expect(err).NotTo(HaveOccurred())

		store, err = expense.NewLocalStorage(filepath.Join(tempDir, "receipts"))
		Expect(err).NotTo(HaveOccurred())

		ollama = ghttp.NewServer()
		llm, err := scanning.NewOllama(ollama.URL(), "llama3.1", "llava", 5*time.Second)
		Expect(err).NotTo(HaveOccurred())

		service = expense.NewService(db, llm, &stubOCR{text: "Cafe Bleu\n2024年3月13日\n合計 ¥1,500\n"}, "")
		server = expense.NewServer(service, spreadsheet.NewWriter(), store, expense.BasicAuth{})
		ghServer = ghttp.NewServer()
	})

	AfterEach(func() {
		ghServer.Close()
		ollama.Close()
		db.Close()
	})

	It("should upload a receipt, classify typed input and export the ledger", func() {
		ollama.AppendHandlers(
			ollamaReply(`{"category": "meal", "amount": 1500, "date": "2024-03-13", "description": "Cafe Bleu", "is_valid": true, "notes": ""}`),
			ollamaReply(`{"category": "transport", "amount": 2000, "date": "2024-03-14", "description": "taxi", "is_valid": true, "notes": ""}`),
		)
		ghServer.AppendHandlers(
			server.ServeHTTP, // upload
			server.ServeHTTP, // classify
			server.ServeHTTP, // list
			server.ServeHTTP, // export
		)

		// --- Step 1: Upload ---
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", "cafe.jpg")
		Expect(err).NotTo(HaveOccurred())
		_, err = part.Write([]byte("fake jpeg"))
		Expect(err).NotTo(HaveOccurred())
		Expect(writer.Close()).To(Succeed())

		resp, err := http.Post(ghServer.URL()+"/api/receipts", writer.FormDataContentType(), body)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))

		var result expense.ImageResult
		Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
		resp.Body.Close()
		Expect(result.Record.Category).To(Equal(expense.CategoryMeal))
		Expect(result.Extraction.SourceImagePath).To(BeAnExistingFile())

		// --- Step 2: Classify typed input ---
		resp, err = http.Post(ghServer.URL()+"/api/expenses", "application/json", strings.NewReader(`{"text": "taxi 2000"}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		resp.Body.Close()

		// --- Step 3: List ---
		resp, err = http.Get(ghServer.URL() + "/api/expenses")
		Expect(err).NotTo(HaveOccurred())
		var entries []expense.LedgerEntry
		Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
		resp.Body.Close()
		Expect(entries).To(HaveLen(2))

		var imageEntries int
		for _, e := range entries {
			if e.SourceImagePath != "" {
				imageEntries++
				Expect(e.SourceImagePath).To(Equal(result.Extraction.SourceImagePath))
			}
		}
		Expect(imageEntries).To(Equal(1))

		// --- Step 4: Export ---
		resp, err = http.Get(ghServer.URL() + "/api/expenses/export.xlsx")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		f, err := excelize.OpenReader(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		defer f.Close()
		rows, err := f.GetRows(spreadsheet.SheetName, excelize.Options{RawCellValue: true})
		Expect(err).NotTo(HaveOccurred())

		last := rows[len(rows)-1]
		Expect(last).To(ContainElements("Total", "3500"))
	})
})
