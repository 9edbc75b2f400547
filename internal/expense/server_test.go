package expense

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

// mockExporter is a mock implementation of Exporter
type mockExporter struct {
	records []Record
	err     error
}

func (m *mockExporter) Export(w io.Writer, records []Record) error {
	m.records = records
	if m.err != nil {
		return m.err
	}
	_, err := w.Write([]byte("xlsx"))
	return err
}

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		llm         *mockLLM
		ocr         *mockOCR
		exporter    *mockExporter
		uploadDir   string
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	setupServer := func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
		service = NewServiceWithDeps(db, llm, ocr, "", &mockIDGenerator{},
			&mockTimeSource{now: time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)})
		storage, err := NewLocalStorage(uploadDir)
		Expect(err).NotTo(HaveOccurred())
		server = NewServerWithMux(service, exporter, storage, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	}

	seed := func() {
		db.entries["entry-a"] = &LedgerEntry{
			ID:        "entry-a",
			Record:    Record{Category: CategoryMeal, Amount: 1500, Date: "2024-03-13", Description: "lunch", IsValid: true},
			CreatedAt: time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC),
		}
	}

	postJSON := func(path, body string) *http.Response {
		resp, err := http.Post(ghttpServer.URL()+path, "application/json", strings.NewReader(body))
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		db = newMockDB()
		llm = newMockLLM()
		ocr = newMockOCR()
		exporter = &mockExporter{}
		uploadDir = GinkgoT().TempDir()
		auth = BasicAuth{}
		setupServer()
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleHealth", func() {
		It("should return status OK", func() {
			resp, err := http.Get(ghttpServer.URL() + "/healthz")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			resp.Body.Close()
		})
	})

	Describe("CORS", func() {
		It("should answer preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/expenses", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("handleClassifyExpense", func() {
		When("the request is valid", func() {
			It("should return the classified record", func() {
				resp := postJSON("/api/expenses", `{"text": "lunch 1500 yen"}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var record Record
				Expect(json.NewDecoder(resp.Body).Decode(&record)).To(Succeed())
				Expect(record.Category).To(Equal(CategoryMeal))
				Expect(record.Amount).To(Equal(1500))
				Expect(db.entries).To(HaveLen(1))
			})
		})

		When("the text is missing", func() {
			It("should return status Bad Request", func() {
				resp := postJSON("/api/expenses", `{"text": ""}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the body is not JSON", func() {
			It("should return status Bad Request", func() {
				resp := postJSON("/api/expenses", `nope`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("the LLM fails", func() {
			BeforeEach(func() {
				llm.err = errors.New("unavailable")
			})

			It("should return status Bad Gateway", func() {
				resp := postJSON("/api/expenses", `{"text": "taxi 2000"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
				resp.Body.Close()
			})
		})
	})

	Describe("handleListExpenses", func() {
		When("no expenses exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				body, err := io.ReadAll(resp.Body)
				Expect(err).NotTo(HaveOccurred())
				Expect(strings.TrimSpace(string(body))).To(Equal("[]"))
			})
		})

		When("expenses exist", func() {
			BeforeEach(seed)

			It("should return them", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				var entries []*LedgerEntry
				Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
				Expect(entries).To(HaveLen(1))
				Expect(entries[0].ID).To(Equal("entry-a"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.listErr = errors.New("boom")
			})

			It("should return status Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetExpense", func() {
		BeforeEach(seed)

		It("should return the entry", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/entry-a")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("should return Not Found for unknown IDs", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/missing")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})

		It("should return Internal Server Error when the ledger fails", func() {
			db.getErr = errors.New("bolt: database not open")
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/entry-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
			resp.Body.Close()
		})
	})

	Describe("handleDeleteExpense", func() {
		BeforeEach(seed)

		del := func(id string) *http.Response {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/expenses/"+id, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		It("should delete the entry", func() {
			resp := del("entry-a")
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			resp.Body.Close()
			Expect(db.entries).To(BeEmpty())
		})

		It("should return Not Found for unknown IDs", func() {
			resp := del("missing")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			resp.Body.Close()
		})
	})

	Describe("handleUploadReceipt", func() {
		upload := func(filename string) *http.Response {
			var b bytes.Buffer
			writer := multipart.NewWriter(&b)
			part, err := writer.CreateFormFile("file", filename)
			Expect(err).NotTo(HaveOccurred())
			part.Write([]byte("fake image data"))
			writer.Close()

			resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("upload succeeds", func() {
			It("should return the extraction and record", func() {
				resp := upload("lunch receipt!.jpg")
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var result ImageResult
				Expect(json.NewDecoder(resp.Body).Decode(&result)).To(Succeed())
				Expect(result.Extraction.Amount).To(Equal(1500))
				Expect(result.Record.Category).To(Equal(CategoryMeal))
				Expect(filepath.Dir(result.Extraction.SourceImagePath)).To(Equal(filepath.Join(uploadDir, "processed")))
				Expect(filepath.Base(result.Extraction.SourceImagePath)).To(HaveSuffix("_lunch receipt.jpg"))
			})
		})

		When("OCR fails", func() {
			BeforeEach(func() {
				ocr.failFor = "blurry"
			})

			It("should return status Unprocessable Entity and keep the upload pending", func() {
				resp := upload("blurry.jpg")
				Expect(resp.StatusCode).To(Equal(http.StatusUnprocessableEntity))
				resp.Body.Close()

				pending, err := filepath.Glob(filepath.Join(uploadDir, "pending", "*_blurry.jpg"))
				Expect(err).NotTo(HaveOccurred())
				Expect(pending).To(HaveLen(1))
			})
		})

		When("the file type is unsupported", func() {
			It("should return status Bad Request", func() {
				resp := upload("notes.txt")
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})

		When("no file is sent", func() {
			It("should return status Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.WriteField("other", "value")
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleCreateReport", func() {
		BeforeEach(func() {
			llm.reply = "report body"
		})

		When("records are posted", func() {
			It("should return the report and summary", func() {
				resp := postJSON("/api/reports", `{"records": [{"category": "transport", "amount": 320, "date": "2024-03-01", "description": "train", "is_valid": true}]}`)
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))

				var body struct {
					Report  string  `json:"report"`
					Summary Summary `json:"summary"`
				}
				Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
				Expect(body.Report).To(Equal("report body"))
				Expect(body.Summary.Total).To(Equal(320))
			})
		})

		When("no records are posted", func() {
			BeforeEach(seed)

			It("should report on the ledger", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/reports", "application/json", nil)
				Expect(err).NotTo(HaveOccurred())
				defer resp.Body.Close()
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(llm.requests[0].Input).To(ContainSubstring(`"description": "lunch"`))
			})
		})

		When("there is nothing to report", func() {
			It("should return status Bad Request", func() {
				resp := postJSON("/api/reports", `{}`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				resp.Body.Close()
			})
		})
	})

	Describe("handleExport", func() {
		BeforeEach(seed)

		It("should stream the workbook", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/expenses/export.xlsx")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"))
			body, err := io.ReadAll(resp.Body)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(body)).To(Equal("xlsx"))
			Expect(exporter.records).To(HaveLen(1))
		})
	})

	Describe("authentication", func() {
		BeforeEach(func() {
			auth = BasicAuth{Username: "admin", Password: "secret"}
			setupServer()
		})

		When("credentials are missing", func() {
			It("should return status Unauthorized", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/expenses")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
				resp.Body.Close()
			})
		})

		When("credentials are valid", func() {
			It("should return status OK", func() {
				req, err := http.NewRequest(http.MethodGet, ghttpServer.URL()+"/api/expenses", nil)
				Expect(err).NotTo(HaveOccurred())
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
				resp, err := http.DefaultClient.Do(req)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})

		When("the health check is requested", func() {
			It("should not require credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})
	})
})
