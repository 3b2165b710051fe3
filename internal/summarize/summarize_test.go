package summarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kalambet/tagask/internal/directory"
	"github.com/kalambet/tagask/internal/directory/directorytest"
	"github.com/kalambet/tagask/internal/history"
	"github.com/kalambet/tagask/internal/ollama"
	"github.com/kalambet/tagask/internal/storage"
)

type stubSummarizer struct {
	calls int
	lines []string
	out   string
	err   error
}

func (s *stubSummarizer) Summarize(_ context.Context, lines []string) (string, error) {
	s.calls++
	s.lines = lines
	return s.out, s.err
}

func newestFirst() []directory.ChatMessage {
	return []directory.ChatMessage{
		{ID: "3", SenderName: "Bob", Content: "<p>try <b>kubectl rollout undo</b></p>", ContentType: "html"},
		{ID: "2", SenderName: "", Content: "   ", ContentType: "text"},
		{ID: "1", SenderName: "Ann", Content: "how do I roll back?", ContentType: "text"},
		{ID: "0", Content: "", ContentType: "text"},
	}
}

func TestTranscriptChronologicalAndFiltered(t *testing.T) {
	got := Transcript(newestFirst())
	assert.Equal(t, []string{
		"Ann: how do I roll back?",
		"Bob: try kubectl rollout undo",
	}, got)
}

func TestTranscriptDefaultsSender(t *testing.T) {
	got := Transcript([]directory.ChatMessage{{Content: "hi", ContentType: "text"}})
	assert.Equal(t, []string{"User: hi"}, got)
}

func TestPlainTextDropsScripts(t *testing.T) {
	assert.Equal(t, "a b", plainText("<div>a<script>alert(1)</script></div><p>b</p>", "HTML"))
	assert.Equal(t, "", plainText("<p> </p>", "html"))
}

func TestBridgeSummarize(t *testing.T) {
	f := directorytest.NewFake()
	f.Messages["c1"] = newestFirst()
	s := &stubSummarizer{out: "  Ann asked about rollbacks.  "}
	b := NewBridge(s, nil)

	got := b.Summarize(context.Background(), f, "c1")
	assert.Equal(t, "Ann asked about rollbacks.", got)
	assert.Equal(t, []string{"Ann: how do I roll back?", "Bob: try kubectl rollout undo"}, s.lines)
}

func TestBridgeEmptyConversationSkipsSummarizer(t *testing.T) {
	f := directorytest.NewFake()
	s := &stubSummarizer{out: "x"}
	b := NewBridge(s, nil)

	assert.Equal(t, NothingToSummarize, b.Summarize(context.Background(), f, "empty"))
	assert.Zero(t, s.calls)
}

func TestBridgeFailuresBecomeSentinel(t *testing.T) {
	f := directorytest.NewFake()
	f.Messages["c1"] = newestFirst()
	b := NewBridge(&stubSummarizer{err: errors.New("timeout")}, nil)
	assert.Equal(t, SummaryFailed, b.Summarize(context.Background(), f, "c1"))

	f.MessagesErr = errors.New("forbidden")
	b = NewBridge(&stubSummarizer{out: "x"}, nil)
	assert.Equal(t, SummaryFailed, b.Summarize(context.Background(), f, "c1"))
}

func TestBridgeStripsMarkup(t *testing.T) {
	f := directorytest.NewFake()
	f.Messages["c1"] = newestFirst()
	b := NewBridge(&stubSummarizer{out: `<b>Fixed</b><script>alert(1)</script>`}, nil)
	assert.Equal(t, "Fixed", b.Summarize(context.Background(), f, "c1"))
}

func TestBridgeKeepsPlainTextPunctuation(t *testing.T) {
	f := directorytest.NewFake()
	f.Messages["c1"] = newestFirst()
	const reply = `Bob's fix: use "x < y" & retry`
	b := NewBridge(&stubSummarizer{out: reply}, nil)
	assert.Equal(t, reply, b.Summarize(context.Background(), f, "c1"))
}

func TestBridgeEmptyReply(t *testing.T) {
	f := directorytest.NewFake()
	f.Messages["c1"] = newestFirst()
	b := NewBridge(&stubSummarizer{out: ""}, nil)
	assert.Equal(t, NoSummaryText, b.Summarize(context.Background(), f, "c1"))
}

func TestBridgeRefresh(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	h := history.New(store, nil)
	_, err = h.Append(ctx, history.NewEntry{Topic: "t", Body: "b", ConversationID: "c1", RequesterID: "u0"})
	require.NoError(t, err)

	f := directorytest.NewFake()
	f.Messages["c1"] = newestFirst()

	got, err := NewBridge(&stubSummarizer{out: "resolved"}, nil).Refresh(ctx, f, h, "c1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", got)
	e, err := h.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", e.Summary)

	// A failed attempt leaves the stored summary alone.
	got, err = NewBridge(&stubSummarizer{err: errors.New("down")}, nil).Refresh(ctx, f, h, "c1")
	require.ErrorIs(t, err, ErrSummaryFailed)
	assert.Equal(t, SummaryFailed, got)
	e, err = h.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", e.Summary)

	// Nothing to summarize is not an error and attaches nothing.
	got, err = NewBridge(&stubSummarizer{out: "x"}, nil).Refresh(ctx, f, h, "empty")
	require.NoError(t, err)
	assert.Equal(t, NothingToSummarize, got)
}

func TestFlowSummarizer(t *testing.T) {
	var got map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer flow-tok", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"predictionOutput":{"text":"short summary"}}`))
	}))
	defer srv.Close()

	f := NewFlow(srv.URL, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "flow-tok"}))
	text, err := f.Summarize(context.Background(), []string{"Ann: hi", "Bob: hello"})
	require.NoError(t, err)
	assert.Equal(t, "short summary", text)
	assert.Equal(t, []string{"Ann: hi", "Bob: hello"}, got["messages"])
}

func TestFlowText(t *testing.T) {
	assert.Equal(t, "s", flowText([]byte(`{"predictionOutput":{"text":"s"}}`)))
	assert.Equal(t, `{"other":1}`, flowText([]byte(`{"other":1}`)))
	assert.Equal(t, "plain reply", flowText([]byte("plain reply")))
	assert.Equal(t, "", flowText([]byte(`{"predictionOutput":{"text":null}}`)))
	assert.Equal(t, `{"predictionOutput":{}}`, flowText([]byte(`{"predictionOutput":{}}`)))
}

func TestFlowSummarizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewFlow(srv.URL, nil).Summarize(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestFlowSummarizerRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"predictionOutput":{"text":"ok"}}`))
	}))
	defer srv.Close()

	f := NewFlow(srv.URL, nil)
	f.backoff = time.Millisecond
	text, err := f.Summarize(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string           `json:"model"`
			Messages []ollama.Message `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.2", req.Model)
		if assert.Len(t, req.Messages, 2) {
			assert.Equal(t, "system", req.Messages[0].Role)
			assert.Equal(t, "Ann: hi\nBob: hello", req.Messages[1].Content)
		}
		json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": "greetings"}})
	}))
	defer srv.Close()

	text, err := NewOllama(ollama.New(srv.URL), "llama3.2").Summarize(context.Background(), []string{"Ann: hi", "Bob: hello"})
	require.NoError(t, err)
	assert.Equal(t, "greetings", text)
}

func TestGeminiSummarizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"gemini summary"}]}}]}`))
	}))
	defer srv.Close()

	g, err := NewGemini(context.Background(), "test-key", "", srv.URL)
	require.NoError(t, err)
	text, err := g.Summarize(context.Background(), []string{"Ann: hi"})
	require.NoError(t, err)
	assert.Equal(t, "gemini summary", text)
}

func TestNewSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, Options{FlowURL: "https://flow.example/run"})
	require.NoError(t, err)
	assert.IsType(t, &FlowSummarizer{}, s)

	s, err = New(ctx, Options{Backend: BackendOllama, OllamaURL: "http://localhost:11434", OllamaModel: "llama3.2"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaSummarizer{}, s)

	_, err = New(ctx, Options{Backend: BackendGemini})
	assert.Error(t, err)

	_, err = New(ctx, Options{})
	assert.Error(t, err)

	_, err = New(ctx, Options{Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestIsSentinel(t *testing.T) {
	assert.True(t, IsSentinel(NothingToSummarize))
	assert.True(t, IsSentinel(SummaryFailed))
	assert.True(t, IsSentinel(NoSummaryText))
	assert.False(t, IsSentinel("a real summary"))
}
