// Package summarize turns a conversation into a short AI-written summary
// and stores it on the matching history entry.
package summarize

import (
	"context"
	"errors"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kalambet/tagask/internal/directory"
)

// Fixed results returned instead of a summary.
const (
	NothingToSummarize = "No conversation content found to summarize."
	SummaryFailed      = "An error occurred while generating the summary."
	NoSummaryText      = "No summary text returned."
)

// ErrSummaryFailed is returned by Refresh when no summary could be produced.
var ErrSummaryFailed = errors.New("summary generation failed")

// IsSentinel reports whether s is one of the fixed non-summary results.
func IsSentinel(s string) bool {
	switch s {
	case NothingToSummarize, SummaryFailed, NoSummaryText:
		return true
	}
	return false
}

// Summarizer condenses transcript lines into a summary in one call.
type Summarizer interface {
	Summarize(ctx context.Context, lines []string) (string, error)
}

type MessageSource interface {
	GetConversationMessages(ctx context.Context, conversationID string) ([]directory.ChatMessage, error)
}

type SummaryAttacher interface {
	AttachSummary(ctx context.Context, conversationID, summary string) error
}

type Bridge struct {
	summarizer Summarizer
	policy     *bluemonday.Policy
	logger     *zap.Logger
}

func NewBridge(s Summarizer, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{summarizer: s, policy: bluemonday.StrictPolicy(), logger: logger}
}

// Summarize fetches the conversation and returns its summary. It never
// fails: problems come back as SummaryFailed, an empty conversation as
// NothingToSummarize.
func (b *Bridge) Summarize(ctx context.Context, src MessageSource, conversationID string) string {
	msgs, err := src.GetConversationMessages(ctx, conversationID)
	if err != nil {
		b.logger.Error("fetching conversation messages",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return SummaryFailed
	}

	lines := Transcript(msgs)
	if len(lines) == 0 {
		return NothingToSummarize
	}

	text, err := b.summarizer.Summarize(ctx, lines)
	if err != nil {
		b.logger.Error("summarizer call failed",
			zap.String("conversation_id", conversationID), zap.Int("lines", len(lines)), zap.Error(err))
		return SummaryFailed
	}
	text = strings.TrimSpace(b.plain(text))
	if text == "" {
		return NoSummaryText
	}
	return text
}

// plain strips any markup from a summarizer reply and returns readable
// text, so quotes and ampersands survive as themselves.
func (b *Bridge) plain(text string) string {
	return html.UnescapeString(b.policy.Sanitize(text))
}

// Refresh summarizes the conversation and attaches the result to its
// history entry. Sentinel results are returned but not attached;
// SummaryFailed also yields ErrSummaryFailed so callers can retry.
func (b *Bridge) Refresh(ctx context.Context, src MessageSource, h SummaryAttacher, conversationID string) (string, error) {
	summary := b.Summarize(ctx, src, conversationID)
	if summary == SummaryFailed {
		return summary, ErrSummaryFailed
	}
	if IsSentinel(summary) {
		return summary, nil
	}
	if err := h.AttachSummary(ctx, conversationID, summary); err != nil {
		return summary, err
	}
	return summary, nil
}
