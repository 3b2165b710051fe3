// Package history records dispatched questions so they can be browsed by tag
// and annotated with a conversation summary later.
package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/storage"
)

// DefaultLimit is used when a query passes a non-positive limit.
const DefaultLimit = 5

// ErrNotFound is returned by Get for an unknown conversation.
var ErrNotFound = storage.ErrNotFound

type Store interface {
	InsertHistory(ctx context.Context, e storage.HistoryEntry) error
	ListHistoryByTag(ctx context.Context, tagID string, limit int) ([]storage.HistoryEntry, error)
	ListRecentHistory(ctx context.Context, limit int) ([]storage.HistoryEntry, error)
	GetHistoryByConversation(ctx context.Context, conversationID string) (storage.HistoryEntry, error)
	SetHistorySummary(ctx context.Context, conversationID, summary string) (bool, error)
}

// NewEntry is what a caller supplies; the id and timestamp are assigned by
// the History.
type NewEntry struct {
	Topic           string
	Body            string
	Tags            []storage.TagRef
	ConversationID  string
	ConversationURL string
	RequesterID     string
}

type History struct {
	mu     sync.Mutex
	store  Store
	now    func() time.Time
	last   time.Time
	seeded bool
	logger *zap.Logger
}

type Option func(*History)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

func New(store Store, logger *zap.Logger, opts ...Option) *History {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &History{store: store, now: time.Now, logger: logger}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Append stores a new entry with a fresh id and a creation time strictly
// after every entry appended before it.
func (h *History) Append(ctx context.Context, in NewEntry) (storage.HistoryEntry, error) {
	if in.ConversationID == "" {
		return storage.HistoryEntry{}, errors.New("history: conversation id is required")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.seeded {
		recent, err := h.store.ListRecentHistory(ctx, 1)
		if err != nil {
			return storage.HistoryEntry{}, fmt.Errorf("reading latest history entry: %w", err)
		}
		if len(recent) > 0 {
			h.last = recent[0].CreatedAt
		}
		h.seeded = true
	}

	created := h.now().UTC()
	if !created.After(h.last) {
		created = h.last.Add(time.Nanosecond)
	}

	e := storage.HistoryEntry{
		ID:              uuid.NewString(),
		Topic:           in.Topic,
		Body:            in.Body,
		Tags:            append([]storage.TagRef(nil), in.Tags...),
		ConversationID:  in.ConversationID,
		ConversationURL: in.ConversationURL,
		RequesterID:     in.RequesterID,
		CreatedAt:       created,
	}
	if err := h.store.InsertHistory(ctx, e); err != nil {
		return storage.HistoryEntry{}, fmt.Errorf("appending history entry: %w", err)
	}
	h.last = created
	return e, nil
}

// TopByTag returns up to limit entries tagged tagID, newest first.
func (h *History) TopByTag(ctx context.Context, tagID string, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out, err := h.store.ListHistoryByTag(ctx, tagID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history for tag %s: %w", tagID, err)
	}
	return nonNil(out), nil
}

// Recent returns up to limit entries across all tags, newest first.
func (h *History) Recent(ctx context.Context, limit int) ([]storage.HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	out, err := h.store.ListRecentHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent history: %w", err)
	}
	return nonNil(out), nil
}

func (h *History) Get(ctx context.Context, conversationID string) (storage.HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.store.GetHistoryByConversation(ctx, conversationID)
}

// AttachSummary overwrites the summary of the entry for conversationID. An
// unknown conversation is not an error.
func (h *History) AttachSummary(ctx context.Context, conversationID, summary string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	found, err := h.store.SetHistorySummary(ctx, conversationID, summary)
	if err != nil {
		return fmt.Errorf("attaching summary to %s: %w", conversationID, err)
	}
	if !found {
		h.logger.Debug("no history entry for summarized conversation", zap.String("conversation_id", conversationID))
	}
	return nil
}

func nonNil(es []storage.HistoryEntry) []storage.HistoryEntry {
	if es == nil {
		return []storage.HistoryEntry{}
	}
	return es
}
