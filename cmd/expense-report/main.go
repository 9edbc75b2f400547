package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/kajiwara321/expense-report-tool/internal/config"
	"github.com/kajiwara321/expense-report-tool/internal/expense"
	"github.com/kajiwara321/expense-report-tool/internal/scanning"
	"github.com/kajiwara321/expense-report-tool/internal/spreadsheet"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		var usageErr *config.UsageError
		if errors.As(err, &usageErr) {
			fmt.Fprintf(os.Stderr, "%s\n", usageErr.Usage)
			if errors.Is(err, ff.ErrHelp) {
				os.Exit(0)
			}
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if cfg.ShowVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	setupLogging(cfg)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "\nInterrupted, exiting.")
			os.Exit(130)
		}
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

// setupLogging keeps interactive prompts free of info logs unless debugging
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch {
	case cfg.Debug:
		level = slog.LevelDebug
	case cfg.Mode() == config.ModeInteractive:
		level = slog.LevelWarn
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func run(ctx context.Context, cfg *config.Config) error {
	// Initialize database
	slog.Info("Initializing database...", "path", cfg.DBPath)
	db, err := expense.NewBoltDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	llm, err := newLLM(cfg)
	if err != nil {
		return err
	}
	defer llm.Close()

	var ocr scanning.TextExtractor
	if cfg.UsesOCR() {
		if ocr, err = newOCR(cfg, llm); err != nil {
			return err
		}
		if closer, ok := ocr.(io.Closer); ok && any(ocr) != any(llm) {
			defer closer.Close()
		}
	}

	service := expense.NewService(db, llm, ocr, cfg.StagingDir)
	writer := spreadsheet.NewWriter()

	switch cfg.Mode() {
	case config.ModeServe:
		return serve(ctx, cfg, service, writer)
	case config.ModeOCR:
		records, err := runOCR(ctx, os.Stdout, service, cfg.Image, cfg.ImageDir)
		if err != nil {
			return err
		}
		return writeSpreadsheet(cfg, writer, records, true)
	default:
		records, err := runInteractive(ctx, os.Stdin, os.Stdout, service)
		if err != nil {
			return err
		}
		return writeSpreadsheet(cfg, writer, records, cfg.Output != "")
	}
}

func newLLM(cfg *config.Config) (scanning.LLM, error) {
	switch cfg.LLM {
	case "gemini":
		slog.Info("Initializing Gemini...", "model", cfg.GeminiModel)
		llm, err := scanning.NewGemini(cfg.GeminiKey, cfg.GeminiModel, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return llm, nil
	case "ollama":
		slog.Info("Initializing Ollama...", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
		llm, err := scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.VisionModel, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("invalid llm %q", cfg.LLM)
	}
}

// newOCR reuses the LLM client when it can also transcribe images
func newOCR(cfg *config.Config, llm scanning.LLM) (scanning.TextExtractor, error) {
	if cfg.OCREngine == "tesseract" {
		slog.Info("Initializing Tesseract...", "languages", cfg.TessLangs)
		return scanning.NewTesseract(cfg.TessLangs, cfg.TessData), nil
	}

	if cfg.OCREngine == cfg.LLM {
		if ocr, ok := llm.(scanning.TextExtractor); ok {
			return ocr, nil
		}
	}

	switch cfg.OCREngine {
	case "gemini":
		ocr, err := scanning.NewGemini(cfg.GeminiKey, cfg.GeminiModel, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("initializing gemini OCR: %w", err)
		}
		return ocr, nil
	case "ollama":
		ocr, err := scanning.NewOllama(cfg.OllamaURL, cfg.OllamaModel, cfg.VisionModel, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("initializing ollama OCR: %w", err)
		}
		return ocr, nil
	default:
		return nil, fmt.Errorf("invalid ocr engine %q", cfg.OCREngine)
	}
}

func serve(ctx context.Context, cfg *config.Config, service *expense.Service, writer *spreadsheet.Writer) error {
	basicAuth := expense.BasicAuth{
		Username: cfg.AuthUser,
		Password: cfg.AuthPass,
	}
	storage, err := expense.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	server := expense.NewServer(service, writer, storage, basicAuth)

	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if cfg.AuthUser != "" || cfg.AuthPass != "" {
		slog.Info("Basic auth enabled", "user", cfg.AuthUser)
	}

	if err := server.Start(ctx, addr); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("Shutting down...")
	return nil
}

func writeSpreadsheet(cfg *config.Config, writer *spreadsheet.Writer, records []expense.Record, enabled bool) error {
	if !enabled || len(records) == 0 {
		return nil
	}

	path := cfg.Output
	if path == "" {
		path = spreadsheet.DefaultOutputPath(time.Now())
	}

	write := writer.Write
	if cfg.Append {
		write = writer.Append
	}
	if err := write(records, path); err != nil {
		return fmt.Errorf("writing spreadsheet: %w", err)
	}
	fmt.Printf("Spreadsheet saved: %s\n", path)
	return nil
}
