package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/storage"
	"github.com/kalambet/tagask/internal/summarize"
	"github.com/kalambet/tagask/internal/worker"
)

func handleLeaderboard(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Ledger.List(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list leaderboard: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleRecentHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.History.Recent(r.Context(), historyLimit(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleHistoryByTag(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.History.TopByTag(r.Context(), chi.URLParam(r, "tagId"), historyLimit(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list history: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e, err := deps.History.Get(r.Context(), chi.URLParam(r, "conversationId"))
		if errors.Is(err, history.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "history entry not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get history entry: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, e)
	}
}

type summaryResponse struct {
	ConversationID string `json:"conversationId"`
	Summary        string `json:"summary"`
	Attached       bool   `json:"attached"`
}

// handleSummary summarizes a conversation and attaches the result to its
// history entry. With ?async=true the work is queued instead.
func handleSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID := chi.URLParam(r, "conversationId")

		if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
			if deps.Jobs == nil {
				httpError(w, http.StatusServiceUnavailable, "unavailable", "background summaries are not enabled")
				return
			}
			jobID, err := worker.Enqueue(r.Context(), deps.Jobs, convID, deps.MaxAttempts)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to queue summary: %v", err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID, "status": storage.JobPending})
			return
		}

		if deps.Bridge == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "no summarizer is configured")
			return
		}
		p, ok := provider(w, r, deps)
		if !ok {
			return
		}

		summary, err := deps.Bridge.Refresh(r.Context(), p, deps.History, convID)
		if err != nil && !errors.Is(err, summarize.ErrSummaryFailed) {
			deps.logger().Error("attaching summary", zap.String("conversation_id", convID), zap.Error(err))
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store summary")
			return
		}
		writeJSON(w, http.StatusOK, summaryResponse{
			ConversationID: convID,
			Summary:        summary,
			Attached:       err == nil && !summarize.IsSentinel(summary),
		})
	}
}
