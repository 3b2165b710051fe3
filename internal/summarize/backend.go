package summarize

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/kalambet/tagask/internal/ollama"
)

const (
	BackendFlow   = "flow"
	BackendOllama = "ollama"
	BackendGemini = "gemini"
)

// Options selects and configures a summarizer backend.
type Options struct {
	Backend string

	FlowURL   string
	FlowToken oauth2.TokenSource

	OllamaURL   string
	OllamaModel string

	GeminiAPIKey string
	GeminiModel  string
}

// New returns the summarizer named by opts.Backend; empty means flow.
func New(ctx context.Context, opts Options) (Summarizer, error) {
	switch opts.Backend {
	case "", BackendFlow:
		if opts.FlowURL == "" {
			return nil, fmt.Errorf("summarizer %q: flow URL is required", BackendFlow)
		}
		return NewFlow(opts.FlowURL, opts.FlowToken), nil
	case BackendOllama:
		if opts.OllamaURL == "" || opts.OllamaModel == "" {
			return nil, fmt.Errorf("summarizer %q: URL and model are required", BackendOllama)
		}
		return NewOllama(ollama.New(opts.OllamaURL), opts.OllamaModel), nil
	case BackendGemini:
		return NewGemini(ctx, opts.GeminiAPIKey, opts.GeminiModel, "")
	default:
		return nil, fmt.Errorf("unknown summarizer backend %q", opts.Backend)
	}
}
