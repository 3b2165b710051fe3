package question

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kalambet/tagask/internal/audience"
	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/directory/directorytest"
	"github.com/kalambet/tagask/internal/dispatch"
	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/leaderboard"
	"github.com/kalambet/tagask/internal/storage"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

type harness struct {
	fake    *directorytest.Fake
	store   *storage.Store
	ledger  *leaderboard.Ledger
	history *history.History
	orch    *Orchestrator
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	h := &harness{
		fake:    directorytest.NewFake(),
		store:   store,
		ledger:  leaderboard.New(store),
		history: history.New(store, logger),
		logs:    logs,
	}
	h.orch = NewOrchestrator(
		audience.NewResolver(h.fake, logger),
		dispatch.NewDispatcher(h.fake, logger, dispatch.WithRand(fixedRand(1))),
		h.ledger, h.history, logger,
	)
	return h
}

func baseRequest() Request {
	return Request{
		Tags:        []string{"t1", "t2"},
		Topic:       "X",
		Body:        "help",
		TeamID:      "T",
		RequesterID: "u0",
		Delivery:    dispatch.DeliveryTeams,
		Target:      dispatch.TargetOneRandom,
	}
}

func points(t *testing.T, l *leaderboard.Ledger) map[string]int {
	t.Helper()
	all, err := l.List(context.Background())
	require.NoError(t, err)
	out := map[string]int{}
	for _, e := range all {
		out[e.UserID] = e.Points
	}
	return out
}

func TestAskDirectOneScenario(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1", "u2", "u3")
	h.fake.AddTag("t2", "u2", "u3", "u4")
	ctx := context.Background()

	res, err := h.orch.Ask(ctx, baseRequest())
	require.NoError(t, err)

	require.Len(t, h.fake.Directs, 1)
	picked := h.fake.Directs[0].MemberID
	assert.Contains(t, []string{"u2", "u3"}, picked)
	assert.Equal(t, "u0", h.fake.Directs[0].OwnerID)
	assert.Empty(t, h.fake.Groups)

	assert.Equal(t, dispatch.StrategyDirect, res.Strategy)
	require.Len(t, res.Receipt.Recipients, 1)
	assert.Equal(t, picked, res.Receipt.Recipients[0].UserID)
	assert.Empty(t, res.Degraded)

	assert.Equal(t, map[string]int{picked: 1}, points(t, h.ledger))

	entries, err := h.history.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, []storage.TagRef{{ID: "t1", Name: "t1"}, {ID: "t2", Name: "t2"}}, entries[0].Tags)
	assert.Equal(t, res.Receipt.ConversationID, entries[0].ConversationID)
	assert.Equal(t, res.HistoryID, entries[0].ID)
	assert.Equal(t, "u0", entries[0].RequesterID)
}

func TestAskGroupAwardsEveryRecipient(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u0", "u1", "u2")
	req := baseRequest()
	req.Tags = []string{"t1"}
	req.TagNames = map[string]string{"t1": "Backend"}
	req.Target = dispatch.TargetAll

	res, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, h.fake.Groups, 1)
	assert.Equal(t, []string{"u1", "u2"}, h.fake.Groups[0].MemberIDs)
	assert.Equal(t, "u0", h.fake.Groups[0].OwnerID)
	assert.Equal(t, []string{"Name u1", "Name u2"}, res.Receipt.Names())
	assert.Equal(t, map[string]int{"u1": 1, "u2": 1}, points(t, h.ledger))

	e, err := h.history.Get(context.Background(), res.Receipt.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, []storage.TagRef{{ID: "t1", Name: "Backend"}}, e.Tags)
}

func TestAskEmailAwardsButSkipsHistory(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1", "u2")
	h.fake.Mail["u1"] = "u1@corp.example"
	req := baseRequest()
	req.Tags = []string{"t1"}
	req.TagNames = map[string]string{"t1": "Backend"}
	req.Delivery = dispatch.DeliveryEmail

	res, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, res.Receipt.ViaEmail)
	assert.Equal(t, dispatch.StrategyEmail, res.Strategy)
	require.Len(t, h.fake.Emails, 1)
	assert.Equal(t, "Call for aid - X - Backend", h.fake.Emails[0].Subject)
	assert.Equal(t, map[string]int{"u1": 1}, points(t, h.ledger))

	entries, err := h.history.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, res.HistoryID)
}

func TestAskOnlineEmailRejectedBeforeAnyCall(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1")
	req := baseRequest()
	req.Delivery = dispatch.DeliveryEmail
	req.OnlyOnline = true

	_, err := h.orch.Ask(context.Background(), req)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 1)
	assert.Zero(t, h.fake.MemberCalls)
	assert.Empty(t, h.fake.PresenceCalls)
}

func TestAskEmptyTagShortCircuits(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1", "u2")
	h.fake.AddTag("t3")
	req := baseRequest()
	req.Tags = []string{"t1", "t3"}

	_, err := h.orch.Ask(context.Background(), req)
	require.ErrorIs(t, err, ErrNoEligibleRecipients)
	assert.Empty(t, h.fake.Directs)
	assert.Empty(t, h.fake.Groups)
	assert.Empty(t, h.fake.Emails)
	assert.Empty(t, points(t, h.ledger))
}

func TestAskValidationCollectsProblems(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Ask(context.Background(), Request{Tags: []string{"t1", " "}, Delivery: "fax", Target: "some"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Problems, 7)
}

func TestAskDuplicateTagsAccepted(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1")
	req := baseRequest()
	req.Tags = []string{"t1", "t1"}

	res, err := h.orch.Ask(context.Background(), req)
	require.NoError(t, err)
	e, err := h.history.Get(context.Background(), res.Receipt.ConversationID)
	require.NoError(t, err)
	assert.Len(t, e.Tags, 1)
}

func TestAskMembershipFailureIsDeliveryError(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1")
	h.fake.AddTag("t2", "u1")
	h.fake.MemberErr["t2"] = errors.New("graph down")

	_, err := h.orch.Ask(context.Background(), baseRequest())
	var de *dispatch.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Empty(t, points(t, h.ledger))
}

func TestAskDispatchFailureRecordsNothing(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1")
	h.fake.AddTag("t2", "u1")
	h.fake.PostErr = errors.New("throttled")

	_, err := h.orch.Ask(context.Background(), baseRequest())
	var pe *dispatch.PartialDispatchError
	require.ErrorAs(t, err, &pe)
	assert.NotEmpty(t, pe.Conversation.ID)

	assert.Empty(t, points(t, h.ledger))
	entries, err := h.history.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type brokenLedger struct{}

func (brokenLedger) Award(context.Context, string, string, int) error {
	return errors.New("ledger offline")
}

type brokenHistory struct{}

func (brokenHistory) Append(context.Context, history.NewEntry) (storage.HistoryEntry, error) {
	return storage.HistoryEntry{}, errors.New("history offline")
}

func TestAskSideEffectFailuresDegradeOnly(t *testing.T) {
	fake := directorytest.NewFake()
	fake.AddTag("t1", "u1", "u2")
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	orch := NewOrchestrator(
		audience.NewResolver(fake, logger),
		dispatch.NewDispatcher(fake, logger),
		brokenLedger{}, brokenHistory{}, logger,
	)
	req := baseRequest()
	req.Tags = []string{"t1"}
	req.Target = dispatch.TargetAll

	res, err := orch.Ask(context.Background(), req)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Receipt.ConversationID)
	assert.Equal(t, []string{"leaderboard: u1", "leaderboard: u2", "history"}, res.Degraded)
	assert.Equal(t, 2, logs.FilterMessage("awarding point failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("appending history failed").Len())
	require.Len(t, fake.Posts, 1)
}

func TestAskCancelledAfterDispatchStillRecords(t *testing.T) {
	h := newHarness(t)
	h.fake.AddTag("t1", "u1")
	ctx, cancel := context.WithCancel(context.Background())

	orch := NewOrchestrator(
		audience.NewResolver(h.fake, nil),
		cancelAfterDispatch{Dispatcher: dispatch.NewDispatcher(h.fake, nil), cancel: cancel},
		h.ledger, h.history, nil,
	)
	req := baseRequest()
	req.Tags = []string{"t1"}

	_, err := orch.Ask(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"u1": 1}, points(t, h.ledger))
}

type cancelAfterDispatch struct {
	*dispatch.Dispatcher
	cancel context.CancelFunc
}

func (c cancelAfterDispatch) Dispatch(ctx context.Context, intent dispatch.Intent, audience []directory.Member, requesterID, topic, body string) (dispatch.Receipt, error) {
	rc, err := c.Dispatcher.Dispatch(ctx, intent, audience, requesterID, topic, body)
	c.cancel()
	return rc, err
}
