// Package graph implements the directory provider over the Microsoft Graph
// REST API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/kalambet/tagask/internal/directory"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
	// maxMessagePages caps how much chat history a summary pulls in.
	maxMessagePages = 20
)

// StatusError is a non-2xx Graph response. A 404 unwraps to
// directory.ErrNotFound.
type StatusError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("graph %s %s: HTTP %d", e.Method, e.Path, e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *StatusError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return directory.ErrNotFound
	}
	return nil
}

func isRateLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusTooManyRequests
}

// Client talks to Graph with tokens from an oauth2.TokenSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	backoff    time.Duration
	mailSender string
	logger     *zap.Logger
}

type Option func(*Client)

// WithBaseURL points the client at another Graph root (for testing).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithBackoff sets the initial delay between rate-limited retries.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) { c.backoff = d }
}

// WithMailSender sends mail as the given user instead of /me. App-only
// tokens have no /me and need this.
func WithMailSender(userID string) Option {
	return func(c *Client) { c.mailSender = userID }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Graph client authenticating with ts.
func New(ts oauth2.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: &oauth2.Transport{Source: ts, Base: http.DefaultTransport},
		},
		backoff: initialBackoff,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) url(format string, ids ...string) string {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = url.PathEscape(id)
	}
	return c.baseURL + fmt.Sprintf(format, args...)
}

// pageURL returns the URL for a page: the first page when token is empty,
// otherwise the @odata.nextLink handed out earlier.
func (c *Client) pageURL(first, token string) (string, error) {
	if token == "" {
		return first, nil
	}
	if !strings.HasPrefix(token, c.baseURL+"/") {
		return "", fmt.Errorf("graph: page token %q is not a Graph link", token)
	}
	return token, nil
}

// do sends one request, retrying on 429 with exponential backoff. in is
// JSON-encoded when non-nil; out is decoded when non-nil.
func (c *Client) do(ctx context.Context, method, rawURL string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = b
	}

	var lastErr error
	for attempt := range maxRetries {
		err := c.doOnce(ctx, method, rawURL, body, out)
		if err == nil {
			return nil
		}
		if !isRateLimit(err) {
			return err
		}
		lastErr = err
		if attempt < maxRetries-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			c.logger.Debug("graph rate limited, retrying",
				zap.String("method", method), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("rate limited after %d retries: %w", maxRetries, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, rawURL string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, rd)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Method: method, Path: strings.TrimPrefix(rawURL, c.baseURL), Status: resp.StatusCode}
		var eb struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(raw, &eb) == nil {
			se.Code = eb.Error.Code
			se.Message = eb.Error.Message
		}
		return se
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}
