package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Job types and statuses.
const (
	JobSummarizeConversation = "summarize_conversation"

	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// LeaderboardEntry is one person's score. Seq is assigned by the store on
// first insert and orders entries with equal points.
type LeaderboardEntry struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Points      int    `json:"points"`
	Seq         int64  `json:"-"`
}

// TagRef is a tag id and name captured when a question was sent.
type TagRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type HistoryEntry struct {
	ID              string    `json:"id"`
	Topic           string    `json:"topic"`
	Body            string    `json:"body"`
	Tags            []TagRef  `json:"tags"`
	ConversationID  string    `json:"conversationId"`
	ConversationURL string    `json:"conversationUrl,omitempty"`
	RequesterID     string    `json:"requesterId"`
	CreatedAt       time.Time `json:"createdAt"`
	Summary         string    `json:"summary,omitempty"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Backend is the full persistence surface. The SQLite Store and the MongoDB
// store both implement it.
type Backend interface {
	GetLeaderboardEntry(ctx context.Context, userID string) (LeaderboardEntry, error)
	AddLeaderboardPoints(ctx context.Context, userID, displayName string, delta int) error
	ListLeaderboard(ctx context.Context) ([]LeaderboardEntry, error)

	InsertHistory(ctx context.Context, e HistoryEntry) error
	ListHistoryByTag(ctx context.Context, tagID string, limit int) ([]HistoryEntry, error)
	ListRecentHistory(ctx context.Context, limit int) ([]HistoryEntry, error)
	GetHistoryByConversation(ctx context.Context, conversationID string) (HistoryEntry, error)
	SetHistorySummary(ctx context.Context, conversationID, summary string) (bool, error)

	EnqueueJob(ctx context.Context, job Job) error
	ClaimNextJob(ctx context.Context, types []string) (*Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
	GetJob(ctx context.Context, id string) (Job, error)

	Close() error
}

// JobBackoff is the delay before a job that failed attempts times is
// retried.
func JobBackoff(attempts int) time.Duration {
	return time.Duration(1<<min(attempts, 16)) * time.Second
}
