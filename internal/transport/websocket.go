// ABOUTME: WebSocket subscription transport for gateways that push events over a socket
// ABOUTME: Every text message is one JSON envelope; a normal close ends the stream

package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/2389/coven-chat/internal/event"
)

// WebSocketTransport opens live subscriptions over WebSocket. History,
// status, send and resume stay on the HTTP Client.
type WebSocketTransport struct {
	baseURL string
	token   string
	logger  *slog.Logger
}

// NewWebSocketTransport creates a transport for the gateway at baseURL
// (http, https, ws or wss).
func NewWebSocketTransport(baseURL, token string, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		logger:  logger.With("component", "websocket"),
	}
}

func (t *WebSocketTransport) streamURL(threadID, source, cursor string) (string, error) {
	u, err := url.Parse(t.baseURL)
	if err != nil {
		return "", fmt.Errorf("parsing gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/threads/" + url.PathEscape(threadID) + "/ws"
	q := url.Values{}
	if source != "" {
		q.Set("source", source)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe dials the socket for one source, resuming after cursor.
func (t *WebSocketTransport) Subscribe(ctx context.Context, threadID, source, cursor string) (event.Stream, error) {
	u, err := t.streamURL(threadID, source, cursor)
	if err != nil {
		return nil, err
	}
	opts := &websocket.DialOptions{}
	if t.token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + t.token}}
	}

	conn, resp, err := websocket.Dial(ctx, u, opts)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return nil, statusError(resp.StatusCode, "", "")
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrStreamDisconnected, err)
	}
	conn.SetReadLimit(maxFrameSize)
	t.logger.Debug("socket opened", "thread_id", threadID, "source", source)

	ctx, cancel := context.WithCancel(ctx)
	return &wsStream{ctx: ctx, cancel: cancel, conn: conn}, nil
}

// wsStream adapts a websocket connection to event.Stream.
type wsStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	conn   *websocket.Conn
	once   sync.Once
}

func (s *wsStream) Recv() (*event.Envelope, error) {
	typ, data, err := s.conn.Read(s.ctx)
	if err != nil {
		switch {
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
			return nil, io.EOF
		case websocket.CloseStatus(err) == websocket.StatusGoingAway:
			return nil, fmt.Errorf("%w: server going away", ErrStreamDisconnected)
		case errors.Is(err, context.Canceled):
			return nil, event.ErrStreamClosed
		default:
			return nil, fmt.Errorf("%w: %v", ErrStreamDisconnected, err)
		}
	}
	if typ != websocket.MessageText {
		return nil, &event.MalformedEventError{Reason: "binary websocket message"}
	}

	var env event.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &event.MalformedEventError{Reason: "invalid JSON message: " + err.Error()}
	}
	return &env, nil
}

func (s *wsStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close(websocket.StatusNormalClosure, "done")
		s.cancel()
	})
	return err
}
