package scanning

import "context"

// Request is a single instruction + input exchange with a language model
type Request struct {
	// Instruction is sent as the system prompt
	Instruction string
	// Input is the user content
	Input string
	// JSON asks the model to constrain its reply to JSON where supported
	JSON bool
}

// LLM defines the interface for text generation
type LLM interface {
	// Generate returns the model's reply text
	Generate(ctx context.Context, req Request) (string, error)
	// Close closes the client and releases resources
	Close() error
}

// TextExtractor defines the interface for OCR over receipt images
type TextExtractor interface {
	// ExtractText returns the raw text found in the image at imagePath
	ExtractText(ctx context.Context, imagePath string) (string, error)
}
