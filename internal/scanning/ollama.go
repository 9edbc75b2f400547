package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/kajiwara321/expense-report-tool/internal/imaging"
)

// Ollama implements LLM and TextExtractor using a local Ollama server
type Ollama struct {
	baseURL     string
	model       string
	visionModel string
	client      *http.Client
}

// NewOllama creates a new Ollama client.
// visionModel is used for ExtractText and defaults to llava.
func NewOllama(baseURL, modelName, visionModel string, timeout time.Duration) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3.1"
	}
	if visionModel == "" {
		visionModel = "llava"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second // Ollama can be slow, especially for vision models
	}

	return &Ollama{
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       modelName,
		visionModel: visionModel,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ollamaChatRequest represents the request body for Ollama's chat API
type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// ollamaChatResponse represents the response from Ollama's chat API
type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Generate sends the instruction as a system message and returns the reply text
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]ollamaMessage, 0, 2)
	if req.Instruction != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.Instruction})
	}
	messages = append(messages, ollamaMessage{Role: "user", Content: req.Input})

	chatReq := ollamaChatRequest{
		Model:    o.model,
		Messages: messages,
	}
	if req.JSON {
		chatReq.Format = "json"
	}

	return o.chat(ctx, chatReq)
}

// ExtractText transcribes a receipt image with the vision model
func (o *Ollama) ExtractText(ctx context.Context, imagePath string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}

	pngData, _, err := imaging.ToPNG(data, imaging.ContentTypeForPath(imagePath))
	if err != nil {
		return "", err
	}

	return o.chat(ctx, ollamaChatRequest{
		Model: o.visionModel,
		Messages: []ollamaMessage{
			{
				Role:    "user",
				Content: transcribePrompt,
				Images:  []string{base64.StdEncoding.EncodeToString(pngData)},
			},
		},
	})
}

func (o *Ollama) chat(ctx context.Context, chatReq ollamaChatRequest) (string, error) {
	jsonData, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error (status %d): %s", resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Close closes the Ollama client (no-op for HTTP client)
func (o *Ollama) Close() error {
	return nil
}
