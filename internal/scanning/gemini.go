package scanning

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/kajiwara321/expense-report-tool/internal/imaging"
)

const defaultGeminiModel = "gemini-2.5-pro"

// Gemini implements LLM and TextExtractor using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini client
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		timeout:   timeout,
	}, nil
}

// Generate sends the instruction as a system prompt and returns the reply text
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	model := g.client.GenerativeModel(g.modelName)
	configureModel(model, req)

	return g.generate(ctx, model, genai.Text(req.Input))
}

// configureModel applies the request's instruction to the model. JSON
// requests run at temperature 0; the instruction itself asks for JSON and
// callers repair the reply.
func configureModel(model *genai.GenerativeModel, req Request) {
	if req.Instruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.Instruction)},
		}
	}
	if req.JSON {
		model.SetTemperature(0)
	}
}

// ExtractText transcribes a receipt image with the vision model
func (g *Gemini) ExtractText(ctx context.Context, imagePath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	pngData, _, err := imaging.ToPNG(data, imaging.ContentTypeForPath(imagePath))
	if err != nil {
		return "", err
	}

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	model := g.client.GenerativeModel(g.modelName)
	return g.generate(ctx, model, genai.ImageData("png", pngData), genai.Text(transcribePrompt))
}

func (g *Gemini) generate(ctx context.Context, model *genai.GenerativeModel, parts ...genai.Part) (string, error) {
	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	return strings.TrimSpace(responseText.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
