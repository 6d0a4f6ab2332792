// ABOUTME: Ordered envelope sequence contract shared by transports, history sources and resume sinks
// ABOUTME: SliceStream serves a fixed envelope list, used by local stores and tests

package event

import (
	"errors"
	"io"
	"sync"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("stream closed")

// Stream is an ordered sequence of envelopes. Recv returns io.EOF at the
// end of the sequence. A *MalformedEventError from Recv skips one frame and
// the stream stays usable. Close is idempotent.
type Stream interface {
	Recv() (*Envelope, error)
	Close() error
}

// SliceStream is a Stream over a fixed list of envelopes.
type SliceStream struct {
	mu     sync.Mutex
	envs   []*Envelope
	pos    int
	closed bool
}

// NewSliceStream returns a stream that yields envs in order.
func NewSliceStream(envs ...*Envelope) *SliceStream {
	return &SliceStream{envs: envs}
}

// Recv returns the next envelope.
func (s *SliceStream) Recv() (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStreamClosed
	}
	if s.pos >= len(s.envs) {
		return nil, io.EOF
	}
	env := s.envs[s.pos]
	s.pos++
	return env, nil
}

// Close marks the stream closed.
func (s *SliceStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
