package summarize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiSummarizer uses the Gemini API.
type GeminiSummarizer struct {
	client *genai.Client
	model  string
	prompt string
}

// NewGemini creates a Gemini-backed summarizer. baseURL is only set in
// tests.
func NewGemini(ctx context.Context, apiKey, model, baseURL string) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = defaultGeminiModel
	}
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: model, prompt: DefaultPrompt}, nil
}

func (g *GeminiSummarizer) Summarize(ctx context.Context, lines []string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		genai.Text(strings.Join(lines, "\n")),
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.prompt, genai.RoleUser),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}
