package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

// EnvVarPrefix prefixes every flag's environment variable, e.g. EXPENSE_REPORT_PORT
const EnvVarPrefix = "EXPENSE_REPORT"

// Mode selects how the tool runs
type Mode string

const (
	ModeInteractive Mode = "interactive"
	ModeOCR         Mode = "ocr"
	ModeServe       Mode = "serve"
)

// Config holds the runtime configuration of the tool
type Config struct {
	LLM         string
	GeminiKey   string
	GeminiModel string
	OllamaURL   string
	OllamaModel string
	VisionModel string
	Timeout     time.Duration

	OCREngine  string
	TessLangs  string
	TessData   string
	StagingDir string

	DBPath      string
	OCR         bool
	Image       string
	ImageDir    string
	Output      string
	Append      bool
	Serve       bool
	Port        int
	UploadDir   string
	AuthUser    string
	AuthPass    string
	Debug       bool
	ShowVersion bool
}

// UsageError is returned when the command line cannot be parsed
type UsageError struct {
	Usage string
	Err   error
}

func (e *UsageError) Error() string {
	return e.Err.Error()
}

func (e *UsageError) Unwrap() error {
	return e.Err
}

// Load reads env files (missing files are ignored), then parses flags and
// EXPENSE_REPORT_* environment variables. With no env files given, .env is tried.
func Load(args []string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", file, err)
		}
	}

	var cfg Config
	flags := ff.NewFlagSet("expense-report")
	flags.StringVar(&cfg.LLM, 0, "llm", "gemini", "LLM provider: 'gemini' or 'ollama'")
	flags.StringVar(&cfg.GeminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
	flags.StringVar(&cfg.GeminiModel, 0, "gemini-model", "gemini-2.5-pro", "Google Gemini model name")
	flags.StringVar(&cfg.OllamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	flags.StringVar(&cfg.OllamaModel, 0, "ollama-model", "llama3.1", "Ollama model for classification and reports")
	flags.StringVar(&cfg.VisionModel, 0, "ollama-vision-model", "llava", "Ollama model for receipt transcription")
	flags.DurationVar(&cfg.Timeout, 0, "timeout", 60*time.Second, "Timeout for each LLM call")
	flags.StringVar(&cfg.OCREngine, 0, "ocr-engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
	flags.StringVar(&cfg.TessLangs, 0, "tess-langs", "jpn+eng", "Tesseract languages")
	flags.StringVar(&cfg.TessData, 0, "tessdata", "", "Tesseract tessdata directory (optional)")
	flags.StringVar(&cfg.StagingDir, 0, "staging-dir", "", "Root for pending/processed directories (default: next to each image)")
	flags.StringVar(&cfg.DBPath, 0, "db", "expense-report.db", "Ledger database file path")
	flags.BoolVar(&cfg.OCR, 0, "ocr", "Process receipt images instead of typed input")
	flags.StringVar(&cfg.Image, 0, "image", "", "Receipt image to process (OCR mode)")
	flags.StringVar(&cfg.ImageDir, 0, "image-dir", "", "Directory of receipt images to process (OCR mode)")
	flags.StringVar(&cfg.Output, 0, "output", "", "Spreadsheet output path (default: expense_report_<timestamp>.xlsx)")
	flags.BoolVar(&cfg.Append, 0, "append", "Append to the output spreadsheet instead of replacing it")
	flags.BoolVar(&cfg.Serve, 0, "serve", "Run the HTTP server")
	flags.IntVar(&cfg.Port, 0, "port", 8080, "HTTP server port")
	flags.StringVar(&cfg.UploadDir, 0, "upload-dir", "./receipts", "Directory for uploaded receipts (serve mode)")
	flags.StringVar(&cfg.AuthUser, 0, "auth-user", "", "Basic auth username (optional)")
	flags.StringVar(&cfg.AuthPass, 0, "auth-pass", "", "Basic auth password (optional)")
	flags.BoolVar(&cfg.Debug, 0, "debug", "Enable debug logging")
	flags.BoolVar(&cfg.ShowVersion, 'v', "version", "Show version information")

	if err := ff.Parse(flags, args, ff.WithEnvVarPrefix(EnvVarPrefix)); err != nil {
		return nil, &UsageError{Usage: ffhelp.Flags(flags).String(), Err: err}
	}

	if cfg.GeminiKey == "" {
		cfg.GeminiKey = os.Getenv("GEMINI_API_KEY")
	}
	return &cfg, nil
}

// Mode reports which mode the flags select; serve wins over OCR
func (c *Config) Mode() Mode {
	switch {
	case c.Serve:
		return ModeServe
	case c.OCR || c.Image != "" || c.ImageDir != "":
		return ModeOCR
	default:
		return ModeInteractive
	}
}

// Validate checks that the selected providers and mode have what they need
func (c *Config) Validate() error {
	switch c.LLM {
	case "gemini", "ollama":
	default:
		return fmt.Errorf("invalid llm %q: must be 'gemini' or 'ollama'", c.LLM)
	}

	switch c.OCREngine {
	case "tesseract", "gemini", "ollama":
	default:
		return fmt.Errorf("invalid ocr engine %q: must be 'tesseract', 'gemini' or 'ollama'", c.OCREngine)
	}

	if (c.LLM == "gemini" || c.OCREngine == "gemini") && c.GeminiKey == "" {
		return errors.New("gemini API key is required: set --gemini-key or GEMINI_API_KEY")
	}

	if c.Timeout <= 0 {
		return fmt.Errorf("invalid timeout %s", c.Timeout)
	}

	if c.Mode() == ModeOCR && c.Image == "" && c.ImageDir == "" {
		return errors.New("OCR mode requires --image or --image-dir")
	}
	if c.Image != "" && c.ImageDir != "" {
		return errors.New("--image and --image-dir are mutually exclusive")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	return nil
}

// UsesOCR reports whether an OCR engine must be constructed
func (c *Config) UsesOCR() bool {
	return c.Mode() != ModeInteractive
}
