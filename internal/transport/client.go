// ABOUTME: HTTP client for the gateway thread API: live streams, history, status, send and resume
// ABOUTME: Streaming endpoints answer with Server-Sent Events decoded by SSEStream

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/interrupt"
	"github.com/2389/coven-chat/internal/reconnect"
)

// Client talks to the gateway over HTTP. It implements the engine's
// Transport, Sender and ResumeSink, replay.HistorySource and
// reconnect.StatusQuery.
type Client struct {
	baseURL string
	sender  string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

// ClientOptions configures a Client.
type ClientOptions struct {
	// Sender names the author of sent messages.
	Sender string
	// Token is the bearer credential; empty sends no Authorization header.
	Token string
	// HTTPClient defaults to a client without timeout, as responses stream.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewClient creates a client for the gateway at baseURL.
func NewClient(baseURL string, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	sender := opts.Sender
	if sender == "" {
		sender = "coven-chat"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		sender:  sender,
		token:   opts.Token,
		http:    hc,
		logger:  logger.With("component", "transport"),
	}
}

// sendRequest is the JSON body sent to POST /api/send.
type sendRequest struct {
	ThreadID string `json:"thread_id"`
	Sender   string `json:"sender"`
	Content  string `json:"content"`
}

// errorBody is the JSON error shape of non-2xx responses.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) threadURL(threadID, suffix string) string {
	return fmt.Sprintf("%s/api/threads/%s/%s", c.baseURL, url.PathEscape(threadID), suffix)
}

// Subscribe opens the live stream of one source, resuming after cursor.
func (c *Client) Subscribe(ctx context.Context, threadID, source, cursor string) (event.Stream, error) {
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u := c.threadURL(threadID, "events")
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return c.stream(ctx, http.MethodGet, u, nil, nil)
}

// Replay opens the persisted history of a thread.
func (c *Client) Replay(ctx context.Context, threadID string) (event.Stream, error) {
	stream, err := c.stream(ctx, http.MethodGet, c.threadURL(threadID, "history"), nil, nil)
	if errors.Is(err, ErrWorkflowUnavailable) {
		return nil, ErrHistoryNotFound
	}
	return stream, err
}

// Status reports whether the thread's workflow can be resumed.
func (c *Client) Status(ctx context.Context, threadID string) (reconnect.Status, error) {
	req, err := c.request(ctx, http.MethodGet, c.threadURL(threadID, "status"), nil)
	if err != nil {
		return reconnect.Status{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return reconnect.Status{}, fmt.Errorf("querying status: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return reconnect.Status{}, readError(resp)
	}

	var st reconnect.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return reconnect.Status{}, fmt.Errorf("decoding status: %w", err)
	}
	return st, nil
}

// Send posts a user message and returns its response stream. The
// idempotency key lets the gateway drop retried submissions.
func (c *Client) Send(ctx context.Context, threadID, content, idempotencyKey string) (event.Stream, error) {
	body, err := json.Marshal(sendRequest{ThreadID: threadID, Sender: c.sender, Content: content})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	return c.stream(ctx, http.MethodPost, c.baseURL+"/api/send", body, headers)
}

// Resolve posts a decision batch and returns the continuation stream.
func (c *Client) Resolve(ctx context.Context, threadID string, resume *interrupt.Resume) (event.Stream, error) {
	body, err := json.Marshal(resume)
	if err != nil {
		return nil, fmt.Errorf("marshaling resume: %w", err)
	}
	return c.stream(ctx, http.MethodPost, c.threadURL(threadID, "resume"), body, nil)
}

func (c *Client) request(ctx context.Context, method, u string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) stream(ctx context.Context, method, u string, body []byte, headers map[string]string) (event.Stream, error) {
	req, err := c.request(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamDisconnected, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, readError(resp)
	}
	c.logger.Debug("stream opened", "method", method, "url", u)
	return NewSSEStream(resp.Body), nil
}

func readError(resp *http.Response) error {
	var body errorBody
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&body)
	}
	return statusError(resp.StatusCode, body.Code, body.Error)
}
