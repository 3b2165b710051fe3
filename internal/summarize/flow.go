package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	flowTimeout    = 60 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	maxFlowBody    = 1 << 20
)

// FlowSummarizer posts the transcript to an HTTP workflow endpoint as
// {"messages": [...]} and reads the reply from predictionOutput.text.
type FlowSummarizer struct {
	url        string
	httpClient *http.Client
	backoff    time.Duration
}

// NewFlow builds a flow client. ts may be nil for endpoints that
// authenticate through the URL signature alone.
func NewFlow(url string, ts oauth2.TokenSource) *FlowSummarizer {
	var transport http.RoundTripper = http.DefaultTransport
	if ts != nil {
		transport = &oauth2.Transport{Source: ts, Base: http.DefaultTransport}
	}
	return &FlowSummarizer{
		url:        url,
		httpClient: &http.Client{Timeout: flowTimeout, Transport: transport},
		backoff:    initialBackoff,
	}
}

type rateLimitError struct {
	status int
}

func (e *rateLimitError) Error() string {
	return fmt.Sprintf("rate limited (HTTP %d)", e.status)
}

func isRateLimit(err error) bool {
	var rl *rateLimitError
	return errors.As(err, &rl)
}

func (f *FlowSummarizer) Summarize(ctx context.Context, lines []string) (string, error) {
	body, err := json.Marshal(map[string][]string{"messages": lines})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	var lastErr error
	for attempt := range maxRetries {
		text, err := f.post(ctx, body)
		if err == nil {
			return text, nil
		}
		if !isRateLimit(err) {
			return "", err
		}
		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(f.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return "", fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (f *FlowSummarizer) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxFlowBody))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{status: resp.StatusCode}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("flow returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return flowText(raw), nil
}

// flowText extracts predictionOutput.text. A body of another shape is
// returned as is; a null text is returned as "".
func flowText(raw []byte) string {
	var out struct {
		PredictionOutput *struct {
			Text *string `json:"text"`
		} `json:"predictionOutput"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || out.PredictionOutput == nil {
		return string(raw)
	}
	if out.PredictionOutput.Text == nil {
		var probe map[string]map[string]json.RawMessage
		if json.Unmarshal(raw, &probe) == nil {
			if _, ok := probe["predictionOutput"]["text"]; ok {
				return ""
			}
		}
		return string(raw)
	}
	return *out.PredictionOutput.Text
}
