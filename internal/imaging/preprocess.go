package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/anthonynsimon/bild/adjust"
	"github.com/anthonynsimon/bild/effect"
	"github.com/anthonynsimon/bild/segment"
)

const (
	// contrastChange doubles the distance of every level from mid-gray
	contrastChange  = 1.0
	medianRadius    = 1
	binaryThreshold = 150
)

// Preprocess prepares a receipt photo for OCR: grayscale, contrast boost,
// 3x3 median filter, then binarization.
func Preprocess(img image.Image) *image.Gray {
	gray := effect.Grayscale(img)
	contrasted := adjust.Contrast(gray, contrastChange)
	smoothed := effect.Median(contrasted, medianRadius)
	return segment.Threshold(smoothed, binaryThreshold)
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}
