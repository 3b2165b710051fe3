// Package question implements the "ask a question" operation: validate,
// resolve the audience, dispatch, then record points and history.
package question

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/dispatch"
	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/storage"
)

// ErrNoEligibleRecipients reports that nobody matched every tag (and, when
// asked, was online). It is an outcome, not a fault.
var ErrNoEligibleRecipients = errors.New("no eligible recipients")

// ValidationError lists everything wrong with a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid question: " + strings.Join(e.Problems, "; ")
}

// Request is one question. TagNames optionally maps tag ids to display
// names for the email subject and the history snapshot.
type Request struct {
	Tags        []string          `json:"tags"`
	TagNames    map[string]string `json:"tagNames,omitempty"`
	Topic       string            `json:"topic"`
	Body        string            `json:"body"`
	TeamID      string            `json:"teamId"`
	RequesterID string            `json:"requesterId"`
	Delivery    dispatch.Delivery `json:"delivery"`
	Target      dispatch.Target   `json:"target"`
	OnlyOnline  bool              `json:"onlyOnline"`
}

// Validate checks the request without any external call. An empty Target
// means all matching members.
func (r Request) Validate() error {
	var problems []string
	if len(r.Tags) == 0 {
		problems = append(problems, "at least one tag is required")
	}
	for i, t := range r.Tags {
		if strings.TrimSpace(t) == "" {
			problems = append(problems, fmt.Sprintf("tag %d is blank", i))
		}
	}
	if strings.TrimSpace(r.Topic) == "" {
		problems = append(problems, "topic is required")
	}
	if strings.TrimSpace(r.Body) == "" {
		problems = append(problems, "body is required")
	}
	if strings.TrimSpace(r.TeamID) == "" {
		problems = append(problems, "team id is required")
	}
	if strings.TrimSpace(r.RequesterID) == "" {
		problems = append(problems, "requester id is required")
	}
	switch r.Delivery {
	case dispatch.DeliveryEmail, dispatch.DeliveryTeams:
	default:
		problems = append(problems, fmt.Sprintf("delivery must be %q or %q", dispatch.DeliveryEmail, dispatch.DeliveryTeams))
	}
	switch r.Target {
	case "", dispatch.TargetAll, dispatch.TargetOneRandom:
	default:
		problems = append(problems, fmt.Sprintf("target must be %q or %q", dispatch.TargetAll, dispatch.TargetOneRandom))
	}
	if r.OnlyOnline && r.Delivery == dispatch.DeliveryEmail {
		problems = append(problems, "online-only targeting cannot be combined with email delivery")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// uniqueTags returns the tag ids without duplicates, in request order.
func (r Request) uniqueTags() []string {
	seen := make(map[string]struct{}, len(r.Tags))
	var out []string
	for _, t := range r.Tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (r Request) tagRefs(ids []string) []storage.TagRef {
	out := make([]storage.TagRef, 0, len(ids))
	for _, id := range ids {
		name := r.TagNames[id]
		if name == "" {
			name = id
		}
		out = append(out, storage.TagRef{ID: id, Name: name})
	}
	return out
}

// Result is a sent question. Degraded lists side effects that failed after
// the question went out; it never means the question was not sent.
type Result struct {
	Receipt   dispatch.Receipt  `json:"receipt"`
	Strategy  dispatch.Strategy `json:"strategy"`
	HistoryID string            `json:"historyId,omitempty"`
	Degraded  []string          `json:"degraded,omitempty"`
}

type AudienceResolver interface {
	Resolve(ctx context.Context, teamID string, tags []string, requesterID string, onlyOnline bool) ([]directory.Member, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, intent dispatch.Intent, audience []directory.Member, requesterID, topic, body string) (dispatch.Receipt, error)
}

type Ledger interface {
	Award(ctx context.Context, userID, displayName string, delta int) error
}

type HistoryAppender interface {
	Append(ctx context.Context, in history.NewEntry) (storage.HistoryEntry, error)
}

type Orchestrator struct {
	resolver   AudienceResolver
	dispatcher Dispatcher
	ledger     Ledger
	history    HistoryAppender
	logger     *zap.Logger
}

func NewOrchestrator(r AudienceResolver, d Dispatcher, l Ledger, h HistoryAppender, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{resolver: r, dispatcher: d, ledger: l, history: h, logger: logger}
}

// Ask runs the question flow. Phase one validates, resolves and dispatches;
// any failure there returns before points or history are touched. Phase two
// awards points and appends history, and its failures only degrade the
// result.
//
// Errors: *ValidationError, ErrNoEligibleRecipients, *dispatch.DeliveryError
// (including audience lookup failures) and *dispatch.PartialDispatchError.
func (o *Orchestrator) Ask(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	if req.Target == "" {
		req.Target = dispatch.TargetAll
	}

	tags := req.uniqueTags()
	refs := req.tagRefs(tags)
	intent := dispatch.Intent{Delivery: req.Delivery, Target: req.Target}
	for _, r := range refs {
		intent.TagNames = append(intent.TagNames, r.Name)
	}

	audience, err := o.resolver.Resolve(ctx, req.TeamID, tags, req.RequesterID, req.OnlyOnline)
	if err != nil {
		return Result{}, &dispatch.DeliveryError{Strategy: intent.Strategy(), Err: fmt.Errorf("resolving audience: %w", err)}
	}
	if len(audience) == 0 {
		return Result{}, ErrNoEligibleRecipients
	}

	receipt, err := o.dispatcher.Dispatch(ctx, intent, audience, req.RequesterID, req.Topic, req.Body)
	if err != nil {
		return Result{}, err
	}

	res := Result{Receipt: receipt, Strategy: intent.Strategy()}
	o.record(context.WithoutCancel(ctx), req, refs, &res)
	return res, nil
}

// record is phase two. It runs on a context that outlives the caller's
// cancellation since the question has already been delivered.
func (o *Orchestrator) record(ctx context.Context, req Request, refs []storage.TagRef, res *Result) {
	for _, rc := range res.Receipt.Recipients {
		if err := o.ledger.Award(ctx, rc.UserID, rc.DisplayName, 1); err != nil {
			o.logger.Warn("awarding point failed",
				zap.String("user_id", rc.UserID), zap.Error(err))
			res.Degraded = append(res.Degraded, fmt.Sprintf("leaderboard: %s", rc.UserID))
		}
	}

	if res.Receipt.ViaEmail {
		return
	}
	entry, err := o.history.Append(ctx, history.NewEntry{
		Topic:           req.Topic,
		Body:            req.Body,
		Tags:            refs,
		ConversationID:  res.Receipt.ConversationID,
		ConversationURL: res.Receipt.ConversationURL,
		RequesterID:     req.RequesterID,
	})
	if err != nil {
		o.logger.Warn("appending history failed",
			zap.String("conversation_id", res.Receipt.ConversationID), zap.Error(err))
		res.Degraded = append(res.Degraded, "history")
		return
	}
	res.HistoryID = entry.ID
}
