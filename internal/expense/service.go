package expense

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kajiwara321/expense-report-tool/internal/scanning"
	"github.com/kajiwara321/expense-report-tool/internal/staging"
)

// SupportedImageExtensions lists the receipt formats picked up in batch mode
var SupportedImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".heic": true,
	".heif": true,
	".pdf":  true,
}

// IDGenerator generates unique IDs for ledger entries
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ImageResult is the outcome of processing one receipt image
type ImageResult struct {
	Extraction Extraction `json:"extraction"`
	Record     Record     `json:"record"`
}

// ImageFailure records a receipt image that could not be processed
type ImageFailure struct {
	Path string
	Err  error
}

// Service classifies expenses and processes receipt images.
// Calls are serialized so only one expense is in flight at a time.
type Service struct {
	mu          sync.Mutex
	db          DB
	llm         scanning.LLM
	ocr         scanning.TextExtractor
	stagingRoot string
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// An empty stagingRoot stages each image next to its source file.
func NewService(db DB, llm scanning.LLM, ocr scanning.TextExtractor, stagingRoot string) *Service {
	return NewServiceWithDeps(db, llm, ocr, stagingRoot, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, llm scanning.LLM, ocr scanning.TextExtractor, stagingRoot string, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		llm:         llm,
		ocr:         ocr,
		stagingRoot: stagingRoot,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ClassifyExpense asks the LLM to classify free-text expense input.
// Malformed replies come back as a sentinel error record, not an error.
func (s *Service) ClassifyExpense(ctx context.Context, text string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return Record{}, fmt.Errorf("expense text is required")
	}
	return s.classify(ctx, text, "")
}

func (s *Service) classify(ctx context.Context, text, sourceImagePath string) (Record, error) {
	slog.Info("Classifying expense", "text", text)

	reply, err := s.llm.Generate(ctx, scanning.Request{
		Instruction: classifierInstruction,
		Input:       "Classify the following expense:\n\n" + text,
		JSON:        true,
	})
	if err != nil {
		return Record{}, fmt.Errorf("classifying expense: %w", err)
	}

	record := SafeParse(reply, s.timeSource.Now())
	if !record.IsValid {
		slog.Warn("Expense classified as invalid", "category", record.Category, "notes", record.Notes)
		return record, nil
	}

	if err := s.save(record, sourceImagePath); err != nil {
		return record, err
	}
	slog.Info("Classified expense", "category", record.Category, "amount", record.Amount)
	return record, nil
}

func (s *Service) save(record Record, sourceImagePath string) error {
	entry := &LedgerEntry{
		ID:              s.idGenerator.Generate(),
		Record:          record,
		SourceImagePath: sourceImagePath,
		CreatedAt:       s.timeSource.Now(),
	}
	if err := s.db.SaveEntry(entry); err != nil {
		return fmt.Errorf("saving entry to database: %w", err)
	}
	return nil
}

// ProcessImage stages a receipt image, runs OCR over it, extracts fields and
// classifies the result. The image ends up in the processed directory.
func (s *Service) ProcessImage(ctx context.Context, imagePath string) (*ImageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.processImage(ctx, imagePath)
}

func (s *Service) processImage(ctx context.Context, imagePath string) (*ImageResult, error) {
	stager, err := s.stagerFor(imagePath)
	if err != nil {
		return nil, err
	}

	var text string
	processedPath, err := stager.Run(imagePath, func(stagedPath string) error {
		var ocrErr error
		text, ocrErr = s.ocr.ExtractText(ctx, stagedPath)
		if ocrErr != nil {
			return fmt.Errorf("extracting text: %w", ocrErr)
		}
		return nil
	})
	if err != nil {
		slog.Error("Failed to process receipt image", "path", imagePath, "error", err)
		return nil, err
	}

	extraction := Extract(text, processedPath, s.timeSource.Now())
	slog.Info("Expense data extracted",
		"date", extraction.Date,
		"amount", extraction.Amount,
		"description", extraction.Description,
		"source_image", extraction.SourceImagePath,
	)

	record, err := s.classify(ctx, extraction.Candidate(), processedPath)
	if err != nil {
		return &ImageResult{Extraction: extraction}, err
	}

	return &ImageResult{Extraction: extraction, Record: record}, nil
}

func (s *Service) stagerFor(imagePath string) (*staging.Stager, error) {
	root := s.stagingRoot
	if root == "" {
		root = filepath.Dir(imagePath)
		// Files resumed from pending belong to the parent root
		if filepath.Base(root) == "pending" {
			root = filepath.Dir(root)
		}
	}
	return newStager(root)
}

func newStager(root string) (*staging.Stager, error) {
	stager, err := staging.NewStager(root)
	if err != nil {
		return nil, fmt.Errorf("preparing staging directories: %w", err)
	}
	return stager, nil
}

// ProcessDirectory processes every supported image directly inside dir, one
// at a time. Files left in pending by an interrupted run are resumed first.
// Per-image failures are collected and do not stop the batch.
func (s *Service) ProcessDirectory(ctx context.Context, dir string) ([]*ImageResult, []ImageFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths, err := s.batchPaths(dir)
	if err != nil {
		return nil, nil, err
	}
	if len(paths) == 0 {
		slog.Warn("No receipt images found", "dir", dir)
	}

	var (
		results  []*ImageResult
		failures []ImageFailure
	)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return results, failures, err
		}

		result, err := s.processImage(ctx, path)
		if err != nil {
			failures = append(failures, ImageFailure{Path: path, Err: err})
			if errors.Is(err, context.Canceled) {
				return results, failures, err
			}
			continue
		}
		results = append(results, result)
	}

	return results, failures, nil
}

func (s *Service) batchPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading image directory: %w", err)
	}

	root := s.stagingRoot
	if root == "" {
		root = dir
	}
	stager, err := newStager(root)
	if err != nil {
		return nil, err
	}
	paths, err := stager.Pending()
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		if e.IsDir() || !SupportedImageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}

// GenerateReport asks the LLM for a plain-text report over records
func (s *Service) GenerateReport(ctx context.Context, records []Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(records) == 0 {
		return "", ErrNoRecords
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling records: %w", err)
	}

	slog.Info("Generating report", "records", len(records))
	report, err := s.llm.Generate(ctx, scanning.Request{
		Instruction: reporterInstruction,
		Input: fmt.Sprintf("Today is %s. Create an expense report from the following data:\n\n%s",
			s.timeSource.Now().Format(DateLayout), data),
	})
	if err != nil {
		return "", fmt.Errorf("generating report: %w", err)
	}
	return report, nil
}

// ListEntries returns all ledger entries, oldest first
func (s *Service) ListEntries() ([]*LedgerEntry, error) {
	entries, err := s.db.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	return entries, nil
}

// GetEntry retrieves a ledger entry by ID
func (s *Service) GetEntry(id string) (*LedgerEntry, error) {
	entry, err := s.db.GetEntry(id)
	if err != nil {
		return nil, fmt.Errorf("getting entry: %w", err)
	}
	return entry, nil
}

// DeleteEntry removes a ledger entry
func (s *Service) DeleteEntry(id string) error {
	if err := s.db.DeleteEntry(id); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Records returns the records of the given entries
func Records(entries []*LedgerEntry) []Record {
	records := make([]Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, e.Record)
	}
	return records
}
