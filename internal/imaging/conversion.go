package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// JPEGQuality is the quality used when re-encoding receipts as JPEG
const JPEGQuality = 90

// IsHEIC checks if the image data is in HEIC/HEIF format.
// HEIC files carry an ftyp box at offset 4 with a HEIC-family brand.
func IsHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// IsHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func IsHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// IsHEICPath checks the file extension for HEIC/HEIF
func IsHEICPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".heic" || ext == ".heif"
}

// ContentTypeForPath guesses a MIME type from the file extension
func ContentTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// Decode decodes PDF (first page), HEIC/HEIF, JPEG, PNG and GIF data
func Decode(data []byte, mimeType string) (image.Image, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))

	if mimeType == "application/pdf" {
		return decodePDF(data)
	}

	// Go's standard image package doesn't support HEIC
	if IsHEIC(data) || IsHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// decodePDF renders the first page; receipts are almost always single page
func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// ToJPEG converts any supported input to JPEG.
// Transparent regions are flattened onto white.
func ToJPEG(data []byte, mimeType string) ([]byte, error) {
	img, err := Decode(data, mimeType)
	if err != nil {
		return nil, err
	}

	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// ToPNG converts PDFs and non-PNG images to PNG.
// It returns the PNG data and whether a conversion occurred.
func ToPNG(data []byte, mimeType string) ([]byte, bool, error) {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	if mimeType == "image/png" && !IsHEIC(data) {
		return data, false, nil
	}

	img, err := Decode(data, mimeType)
	if err != nil {
		return nil, false, fmt.Errorf("converting image to PNG: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, false, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), true, nil
}
