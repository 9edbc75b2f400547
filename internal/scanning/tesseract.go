package scanning

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/kajiwara321/expense-report-tool/internal/imaging"
)

// Tesseract implements TextExtractor with a local Tesseract installation
type Tesseract struct {
	languages []string
	dataPath  string
}

// NewTesseract creates a Tesseract extractor.
// languages uses Tesseract's plus-separated form, e.g. "jpn+eng".
func NewTesseract(languages, dataPath string) *Tesseract {
	if languages == "" {
		languages = "jpn+eng"
	}
	return &Tesseract{
		languages: strings.Split(languages, "+"),
		dataPath:  dataPath,
	}
}

// ExtractText preprocesses the image and runs OCR over it
func (t *Tesseract) ExtractText(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	img, err := imaging.Decode(data, imaging.ContentTypeForPath(imagePath))
	if err != nil {
		return "", err
	}
	slog.Debug("Image loaded", "path", imagePath, "width", img.Bounds().Dx(), "height", img.Bounds().Dy())

	processed, err := imaging.EncodePNG(imaging.Preprocess(img))
	if err != nil {
		return "", err
	}

	client := gosseract.NewClient()
	defer client.Close()

	if t.dataPath != "" {
		if err := client.SetTessdataPrefix(t.dataPath); err != nil {
			return "", fmt.Errorf("setting tessdata prefix: %w", err)
		}
	}
	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("setting language: %w", err)
	}
	if err := client.SetImageFromBytes(processed); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("extracting text: %w", err)
	}

	slog.Debug("Text extracted", "length", len(text))
	return text, nil
}
