package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// maxUploadSize bounds receipt uploads; phone photos can be large
const maxUploadSize = int64(50 << 20)

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "receipt"
	}
	return base + ext
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleClassifyExpense classifies a free-text expense
func (s *Server) handleClassifyExpense(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "Expense text is required")
		return
	}

	record, err := s.service.ClassifyExpense(r.Context(), req.Text)
	if err != nil {
		slog.Error("Error classifying expense", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, record)
}

// handleListExpenses returns all ledger entries
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListEntries()
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleGetExpense returns a single ledger entry
func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	entry, err := s.service.GetEntry(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "Expense not found")
			return
		}
		slog.Error("Error getting expense", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteExpense deletes a ledger entry
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteEntry(r.PathValue("id")); err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, "Expense not found")
			return
		}
		slog.Error("Error deleting expense", "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting expense")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUploadReceipt stores an uploaded receipt image and processes it
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return
		}
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer f.Close()

	filename := sanitizeFilename(header.Filename)
	if !SupportedImageExtensions[filepath.Ext(filename)] {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type %q", filepath.Ext(filename)))
		return
	}

	path, err := s.storage.Save(filename, f)
	if err != nil {
		slog.Error("Error saving upload", "filename", header.Filename, "error", err)
		writeError(w, http.StatusInternalServerError, "Error saving file. Please try again.")
		return
	}

	result, err := s.service.ProcessImage(r.Context(), path)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		// Uploads that reached pending stay there for a later batch run
		if _, statErr := os.Stat(path); statErr == nil {
			if delErr := s.storage.Delete(path); delErr != nil {
				slog.Error("Error deleting upload", "path", path, "error", delErr)
			}
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// handleCreateReport generates an LLM report for the given records, or for
// the whole ledger when none are given
func (s *Server) handleCreateReport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Records []Record `json:"records"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	records := req.Records
	if len(records) == 0 {
		entries, err := s.service.ListEntries()
		if err != nil {
			slog.Error("Error listing expenses", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		records = Records(entries)
	}

	report, err := s.service.GenerateReport(r.Context(), records)
	if err != nil {
		if errors.Is(err, ErrNoRecords) {
			writeError(w, http.StatusBadRequest, "No expenses to report")
			return
		}
		slog.Error("Error generating report", "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"report":  report,
		"summary": Summarize(records),
	})
}

// handleExport streams the ledger as an xlsx workbook
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	entries, err := s.service.ListEntries()
	if err != nil {
		slog.Error("Error listing expenses", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="expenses.xlsx"`)
	if err := s.exporter.Export(w, Records(entries)); err != nil {
		slog.Error("Error exporting expenses", "error", err)
	}
}
