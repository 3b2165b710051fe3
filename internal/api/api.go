// Package api exposes the question, leaderboard, history, summary and tag
// operations over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/audience"
	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/dispatch"
	"github.com/kalambet/tagask/internal/graph"
	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/question"
	"github.com/kalambet/tagask/internal/storage"
	"github.com/kalambet/tagask/internal/summarize"
	"github.com/kalambet/tagask/internal/worker"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ProviderFactory hands out a directory provider for a caller token, or for
// the app identity when the token is empty.
type ProviderFactory interface {
	Provider(token string) (directory.Provider, error)
}

type Ledger interface {
	question.Ledger
	List(ctx context.Context) ([]storage.LeaderboardEntry, error)
}

type History interface {
	question.HistoryAppender
	summarize.SummaryAttacher
	TopByTag(ctx context.Context, tagID string, limit int) ([]storage.HistoryEntry, error)
	Recent(ctx context.Context, limit int) ([]storage.HistoryEntry, error)
	Get(ctx context.Context, conversationID string) (storage.HistoryEntry, error)
}

// Deps holds everything the HTTP and MCP surfaces call into.
type Deps struct {
	Token     string
	Providers ProviderFactory
	Ledger    Ledger
	History   History
	// Bridge is nil when no summarizer is configured.
	Bridge *summarize.Bridge
	// Jobs is nil when asynchronous summaries are disabled.
	Jobs        worker.JobStore
	MaxAttempts int
	// DefaultTeamID is used by MCP callers that leave the team out.
	DefaultTeamID string
	Rand          dispatch.Rand
	Logger        *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// orchestrator wires a question orchestrator onto one provider.
func (d Deps) orchestrator(p directory.Provider) *question.Orchestrator {
	var opts []dispatch.Option
	if d.Rand != nil {
		opts = append(opts, dispatch.WithRand(d.Rand))
	}
	log := d.logger()
	return question.NewOrchestrator(
		audience.NewResolver(p, log),
		dispatch.NewDispatcher(p, log, opts...),
		d.Ledger, d.History, log,
	)
}

// NewHandler returns the HTTP API. Everything except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/questions", handleAsk(deps))
		r.Get("/leaderboard", handleLeaderboard(deps))

		r.Get("/history", handleRecentHistory(deps))
		r.Get("/history/by-tag/{tagId}", handleHistoryByTag(deps))
		r.Get("/history/{conversationId}", handleGetHistory(deps))
		r.Post("/history/{conversationId}/summary", handleSummary(deps))

		r.Route("/teams/{teamId}/tags", func(r chi.Router) {
			r.Get("/", handleListTags(deps))
			r.Post("/", handleCreateTag(deps))
			r.Get("/{tagId}", handleGetTag(deps))
			r.Patch("/{tagId}", handleUpdateTag(deps))
			r.Delete("/{tagId}", handleDeleteTag(deps))
			r.Post("/{tagId}/duplicate", handleDuplicateTag(deps))
			r.Get("/{tagId}/members", handleTagMembers(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// provider resolves the directory provider for the request, writing the
// error response itself when there is none.
func provider(w http.ResponseWriter, r *http.Request, deps Deps) (directory.Provider, bool) {
	p, err := deps.Providers.Provider(graphToken(r))
	if errors.Is(err, graph.ErrNoCredentials) {
		httpError(w, http.StatusUnauthorized, "authentication_error",
			"no directory credentials: pass a Graph token in %s or configure app credentials", graphTokenHeader)
		return nil, false
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "api_error", "creating directory client: %v", err)
		return nil, false
	}
	return p, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	httpErrorWith(w, code, errType, fmt.Sprintf(format, args...), nil)
}

// httpErrorWith writes {"error":{"message","type",...extra}}.
func httpErrorWith(w http.ResponseWriter, code int, errType, msg string, extra map[string]any) {
	body := map[string]any{
		"message": msg,
		"type":    errType,
	}
	for k, v := range extra {
		body[k] = v
	}
	writeJSON(w, code, map[string]any{"error": body})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

const maxHistoryLimit = 50

func historyLimit(r *http.Request) int {
	return parseIntParam(r, "limit", history.DefaultLimit, maxHistoryLimit)
}
