// ABOUTME: History replayer that rebuilds a thread document from a persisted event log
// ABOUTME: Reports interrupts the log leaves unresolved instead of guessing their outcome

package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/thread"
)

// HistorySource opens the persisted event log of a thread. The stream ends
// with a replay_done envelope.
type HistorySource interface {
	Replay(ctx context.Context, threadID string) (event.Stream, error)
}

// Dedupe records event cursors and reports repeats.
type Dedupe interface {
	Seen(id string) bool
}

// Result summarizes one replay.
type Result struct {
	Events      int
	Applied     int
	Malformed   int
	Duplicates  int
	LastEventID string
	// Complete is set when the replay_done marker was reached.
	Complete bool
	// Unresolved lists interrupts no later event in the log settled. Their
	// outcome may exist only in the live buffer.
	Unresolved []*document.Interrupt
}

// Replayer drives a thread over a history stream.
type Replayer struct {
	th     *thread.Thread
	dedupe Dedupe
	logger *slog.Logger
}

// New creates a replayer for th. dedupe may be nil.
func New(th *thread.Thread, dedupe Dedupe, logger *slog.Logger) *Replayer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Replayer{
		th:     th,
		dedupe: dedupe,
		logger: logger.With("component", "replay"),
	}
}

// Run opens the thread's history from src and drains it.
func (r *Replayer) Run(ctx context.Context, src HistorySource, threadID string) (Result, error) {
	stream, err := src.Replay(ctx, threadID)
	if err != nil {
		return Result{}, fmt.Errorf("open history: %w", err)
	}
	return r.Drain(ctx, stream)
}

// Drain applies every envelope of stream until replay_done or end of
// stream, then closes it.
func (r *Replayer) Drain(ctx context.Context, stream event.Stream) (Result, error) {
	defer func() { _ = stream.Close() }()

	var res Result
	for !res.Complete {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		env, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			r.logger.Warn("history ended without replay_done", "events", res.Events)
			break
		}
		if errors.Is(err, event.ErrMalformedEvent) {
			res.Malformed++
			r.logger.Debug("skipping malformed frame", "error", err)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("read history: %w", err)
		}
		res.Events++

		if env.EventID != "" {
			if r.dedupe != nil && r.dedupe.Seen(env.EventID) {
				res.Duplicates++
				continue
			}
			res.LastEventID = env.EventID
		}

		ev, err := event.Parse(env)
		if err != nil {
			res.Malformed++
			r.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		out, err := r.th.Apply(ev)
		if err != nil {
			res.Malformed++
			r.logger.Debug("skipping unapplicable event", "event", env.Event, "error", err)
			continue
		}
		if out.ReplayDone {
			res.Complete = true
			continue
		}
		res.Applied++
	}

	res.Unresolved = r.th.Unresolved()
	for _, in := range res.Unresolved {
		// Tentative until the reconnection status says otherwise.
		in.Interactive = false
	}
	r.logger.Debug("replay finished",
		"events", res.Events,
		"applied", res.Applied,
		"malformed", res.Malformed,
		"unresolved", len(res.Unresolved))
	return res, nil
}
