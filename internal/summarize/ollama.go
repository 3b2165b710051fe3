package summarize

import (
	"context"
	"strings"

	"github.com/kalambet/tagask/internal/ollama"
)

// DefaultPrompt instructs local and hosted models how to summarize.
const DefaultPrompt = "You summarize workplace help conversations. " +
	"Given chat lines in the form \"Name: message\", write a short summary of the question asked, " +
	"the answer or workaround that was found, and any open follow-ups. Use plain sentences."

// OllamaSummarizer runs the transcript through a local Ollama model.
type OllamaSummarizer struct {
	client *ollama.Client
	model  string
	prompt string
}

func NewOllama(client *ollama.Client, model string) *OllamaSummarizer {
	return &OllamaSummarizer{client: client, model: model, prompt: DefaultPrompt}
}

func (o *OllamaSummarizer) Summarize(ctx context.Context, lines []string) (string, error) {
	return o.client.Chat(ctx, o.model, []ollama.Message{
		{Role: "system", Content: o.prompt},
		{Role: "user", Content: strings.Join(lines, "\n")},
	})
}
