// ABOUTME: EventLog interface and types for the local per-thread envelope log
// ABOUTME: Shared by SQLiteStore and MemoryStore; Tee records a remote history while it replays

package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/replay"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// ThreadSummary describes one recorded thread.
type ThreadSummary struct {
	ID          string
	Events      int
	LastEventID string
	UpdatedAt   time.Time
}

// EventLog is an append-only log of envelopes keyed by thread. Record
// satisfies the engine's Recorder and Replay satisfies replay.HistorySource.
type EventLog interface {
	// Record appends env to the thread's log. An envelope whose _eventId is
	// already recorded for the thread is ignored. replay_done markers are
	// never recorded.
	Record(ctx context.Context, threadID string, env *event.Envelope) error
	// Replay returns the thread's envelopes in record order followed by a
	// replay_done marker, or transport.ErrHistoryNotFound.
	Replay(ctx context.Context, threadID string) (event.Stream, error)
	// Threads lists recorded threads, most recently updated first.
	Threads(ctx context.Context) ([]ThreadSummary, error)
	Close() error
}

// Recorder is the write half of an EventLog.
type Recorder interface {
	Record(ctx context.Context, threadID string, env *event.Envelope) error
}

// replayDone terminates every locally served history.
func replayDone(threadID string) *event.Envelope {
	return &event.Envelope{Event: event.TypeReplayDone, ThreadID: threadID}
}

// recordable reports whether env belongs in the log.
func recordable(env *event.Envelope) bool {
	return env != nil && env.Event != event.TypeReplayDone
}

// Tee wraps src so every envelope it replays is also recorded in rec. A
// thread fetched once from the gateway can then be replayed offline. A
// failed write is logged and stops recording for that replay; the replay
// itself continues.
func Tee(src replay.HistorySource, rec Recorder, logger *slog.Logger) replay.HistorySource {
	if logger == nil {
		logger = slog.Default()
	}
	return &teeSource{src: src, rec: rec, logger: logger.With("component", "store")}
}

type teeSource struct {
	src    replay.HistorySource
	rec    Recorder
	logger *slog.Logger
}

func (t *teeSource) Replay(ctx context.Context, threadID string) (event.Stream, error) {
	s, err := t.src.Replay(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return &teeStream{ctx: ctx, threadID: threadID, stream: s, src: t}, nil
}

type teeStream struct {
	ctx      context.Context
	threadID string
	stream   event.Stream
	src      *teeSource
	failed   bool
}

func (t *teeStream) Recv() (*event.Envelope, error) {
	env, err := t.stream.Recv()
	if err != nil {
		return nil, err
	}
	if recordable(env) && !t.failed {
		if rerr := t.src.rec.Record(t.ctx, t.threadID, env); rerr != nil {
			t.failed = true
			t.src.logger.Warn("recording history failed", "thread_id", t.threadID, "error", rerr)
		}
	}
	return env, nil
}

func (t *teeStream) Close() error { return t.stream.Close() }

var (
	_ EventLog = (*SQLiteStore)(nil)
	_ EventLog = (*MemoryStore)(nil)
)
