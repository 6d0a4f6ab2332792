// ABOUTME: Server-Sent Events decoder exposing a gateway response body as an event.Stream
// ABOUTME: Each "event:"/"data:" block becomes one envelope; a broken body reads as a disconnect

package transport

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/2389/coven-chat/internal/event"
)

// maxFrameSize bounds a single SSE line.
const maxFrameSize = 1 << 20

// SSEStream decodes an SSE body. The data of each block is a JSON envelope;
// the SSE event name and id fill the envelope's event and _eventId when the
// JSON omits them.
type SSEStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool
}

// NewSSEStream wraps body. Close closes body.
func NewSSEStream(body io.ReadCloser) *SSEStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrameSize)
	return &SSEStream{body: body, scanner: scanner}
}

// Recv returns the next envelope, io.EOF at the clean end of the body, or
// ErrStreamDisconnected when the body breaks.
func (s *SSEStream) Recv() (*event.Envelope, error) {
	var (
		eventType string
		eventID   string
		dataLines []string
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if len(dataLines) == 0 {
				eventType, eventID = "", ""
				continue
			}
			return decodeFrame(eventType, eventID, strings.Join(dataLines, "\n"))
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = strings.TrimSpace(value)
		case "id":
			eventID = strings.TrimSpace(value)
		case "data":
			dataLines = append(dataLines, value)
		}
	}

	if s.isClosed() {
		return nil, event.ErrStreamClosed
	}
	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamDisconnected, err)
	}
	if len(dataLines) > 0 {
		return decodeFrame(eventType, eventID, strings.Join(dataLines, "\n"))
	}
	return nil, io.EOF
}

func decodeFrame(eventType, eventID, data string) (*event.Envelope, error) {
	var env event.Envelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return nil, &event.MalformedEventError{
			Event:   event.Type(eventType),
			EventID: eventID,
			Reason:  "invalid JSON data: " + err.Error(),
		}
	}
	if env.Event == "" {
		env.Event = event.Type(eventType)
	}
	if env.EventID == "" {
		env.EventID = eventID
	}
	return &env, nil
}

// Close closes the body. Repeated calls are no-ops.
func (s *SSEStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	if err := s.body.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (s *SSEStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
