// Package worker runs queued summary refreshes in the background.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/storage"
	"github.com/kalambet/tagask/internal/summarize"
)

const defaultPoll = 500 * time.Millisecond

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
}

// Refresher summarizes a conversation and stores the result.
type Refresher interface {
	Refresh(ctx context.Context, src summarize.MessageSource, h summarize.SummaryAttacher, conversationID string) (string, error)
}

// ProviderFactory hands out directory providers; the worker always asks
// for the app identity.
type ProviderFactory interface {
	Provider(token string) (directory.Provider, error)
}

// Worker processes summarize_conversation jobs from the job queue.
type Worker struct {
	store     JobStore
	refresher Refresher
	providers ProviderFactory
	history   summarize.SummaryAttacher
	poll      time.Duration
	logger    *zap.Logger
}

// New creates a Worker. If pollInterval is <= 0, it defaults to 500ms.
func New(store JobStore, r Refresher, providers ProviderFactory, h summarize.SummaryAttacher, pollInterval time.Duration, logger *zap.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = defaultPoll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:     store,
		refresher: r,
		providers: providers,
		history:   h,
		poll:      pollInterval,
		logger:    logger,
	}
}

type summaryPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Enqueue queues a summary refresh for conversationID and returns the job
// id. maxAttempts <= 0 uses the store default.
func Enqueue(ctx context.Context, store JobStore, conversationID string, maxAttempts int) (string, error) {
	if conversationID == "" {
		return "", errors.New("conversation id is required")
	}
	payload, err := json.Marshal(summaryPayload{ConversationID: conversationID})
	if err != nil {
		return "", fmt.Errorf("marshaling payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        storage.JobSummarizeConversation,
		PayloadJSON: string(payload),
	}
	if maxAttempts > 0 {
		job.MaxAttempts = maxAttempts
	}
	if err := store.EnqueueJob(ctx, job); err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	return job.ID, nil
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", zap.Error(err))
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job. It reports whether a job was
// processed, whatever its outcome.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{storage.JobSummarizeConversation})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempts+1), zap.Error(err))
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", zap.String("job_id", job.ID), zap.Error(failErr))
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload summaryPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}
	if payload.ConversationID == "" {
		return errors.New("payload has no conversation id")
	}

	gw, err := w.providers.Provider("")
	if err != nil {
		return fmt.Errorf("getting directory provider: %w", err)
	}

	summary, err := w.refresher.Refresh(ctx, gw, w.history, payload.ConversationID)
	if err != nil {
		return fmt.Errorf("refreshing summary for %s: %w", payload.ConversationID, err)
	}
	w.logger.Debug("summary refreshed",
		zap.String("conversation_id", payload.ConversationID),
		zap.Bool("attached", !summarize.IsSentinel(summary)))
	return nil
}
