// ABOUTME: Live subscriptions pumped into the engine inbox, with bounded retry after disconnects
// ABOUTME: Closing is idempotent and frames from closed or replaced streams are discarded

package engine

import (
	"context"
	"errors"
	"io"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/interrupt"
	"github.com/2389/coven-chat/internal/reconnect"
	"github.com/2389/coven-chat/internal/transport"
)

// subscription is one logical stream. Its event.Stream is replaced when a
// retry reconnects. Fields are owned by the Run goroutine.
type subscription struct {
	id     string
	source string
	turn   int
	stream event.Stream
	ctx    context.Context
	cancel context.CancelFunc
	closed bool
}

// current reports whether a message from stream still belongs to sub.
func (s *subscription) current(stream event.Stream) bool {
	return !s.closed && s.stream == stream
}

func (s *subscription) close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if s.stream != nil {
		_ = s.stream.Close()
	}
}

type frame struct {
	sub    *subscription
	stream event.Stream
	env    *event.Envelope
	err    error
}

type ended struct {
	sub    *subscription
	stream event.Stream
	err    error
}

type retried struct {
	sub    *subscription
	stream event.Stream
	result reconnect.RetryResult
}

type command struct {
	fn    func() error
	reply chan error
}

// addStream registers stream under source and starts pumping it.
func (e *Engine) addStream(source string, stream event.Stream) *subscription {
	ctx, cancel := context.WithCancel(e.ctx)
	sub := &subscription{
		id:     uuid.NewString(),
		source: source,
		turn:   -1,
		stream: stream,
		ctx:    ctx,
		cancel: cancel,
	}
	if cur := e.th.Document().CurrentTurn(); cur != nil {
		sub.turn = cur.Index
	}
	e.subs[sub.id] = sub
	e.logger.Debug("subscription opened", "sub_id", sub.id, "source", source, "turn", sub.turn)
	go e.pump(sub.ctx, sub, stream)
	return sub
}

// pump forwards every frame of stream to the inbox until the stream ends.
func (e *Engine) pump(ctx context.Context, sub *subscription, stream event.Stream) {
	defer func() { _ = stream.Close() }()
	for {
		env, err := stream.Recv()
		var msg any = frame{sub: sub, stream: stream, env: env}
		last := false
		switch {
		case errors.Is(err, event.ErrMalformedEvent):
			msg = frame{sub: sub, stream: stream, err: err}
		case err != nil:
			msg = ended{sub: sub, stream: stream, err: err}
			last = true
		}
		select {
		case e.inbox <- msg:
		case <-ctx.Done():
			return
		}
		if last {
			return
		}
	}
}

func (e *Engine) ended(m ended) {
	sub := m.sub
	if !sub.current(m.stream) {
		return
	}
	main := sub.source == reconnect.MainSource
	canRetry := e.recon != nil && e.cfg.Transport != nil
	var limited *transport.RateLimitedError

	switch {
	case errors.Is(m.err, io.EOF) && main && canRetry && e.midTurn() && !e.mainAttached(sub):
		e.logger.Info("main stream ended mid-turn, retrying")
		sub.stream = nil
		go e.retry(sub)

	case errors.Is(m.err, io.EOF), errors.Is(m.err, event.ErrStreamClosed):
		e.drop(sub)
		if main && !e.mainAttached(nil) && e.hitl.State() == interrupt.StateNone {
			e.th.Finalize()
		}

	case errors.Is(m.err, transport.ErrStreamDisconnected) && canRetry:
		e.logger.Info("stream disconnected, retrying", "source", sub.source)
		sub.stream = nil
		go e.retry(sub)

	case errors.As(m.err, &limited):
		e.drop(sub)
		e.abort(limited.Detail)
		e.lastErr = limited

	case errors.Is(m.err, transport.ErrWorkflowUnavailable):
		e.logger.Debug("workflow gone", "source", sub.source)
		e.drop(sub)
		if main {
			e.th.Finalize()
		}

	default:
		e.logger.Warn("stream failed", "source", sub.source, "error", m.err)
		e.drop(sub)
		if main {
			e.th.Finalize()
		}
	}
}

// retry runs the reconnection loop off the Run goroutine.
func (e *Engine) retry(sub *subscription) {
	stream, res := e.recon.Retry(sub.ctx, e.cfg.ThreadID, func(ctx context.Context) (event.Stream, error) {
		return e.cfg.Transport.Subscribe(ctx, e.cfg.ThreadID, sub.source, e.seen.Last())
	})
	select {
	case e.inbox <- retried{sub: sub, stream: stream, result: res}:
	case <-sub.ctx.Done():
		if stream != nil {
			_ = stream.Close()
		}
	}
}

func (e *Engine) retried(m retried) {
	sub := m.sub
	if sub.closed {
		if m.stream != nil {
			_ = m.stream.Close()
		}
		return
	}
	if m.result.Outcome == reconnect.Reconnected {
		sub.stream = m.stream
		go e.pump(sub.ctx, sub, m.stream)
		return
	}

	e.logger.Info("giving up on stream",
		"source", sub.source,
		"outcome", m.result.Outcome.String(),
		"attempts", m.result.Attempts)
	e.drop(sub)
	if sub.source == reconnect.MainSource {
		e.th.Finalize()
	}
}

func (e *Engine) drop(sub *subscription) {
	sub.close()
	delete(e.subs, sub.id)
	e.logger.Debug("subscription closed", "sub_id", sub.id, "source", sub.source)
}

// midTurn reports whether the main assistant message is still streaming:
// no finish signal or interrupt has closed it.
func (e *Engine) midTurn() bool {
	tc := e.th.Main()
	return tc != nil && tc.Message != nil && tc.Message.Streaming
}

// mainAttached reports whether a main subscription other than except is open.
func (e *Engine) mainAttached(except *subscription) bool {
	for _, sub := range e.subs {
		if sub != except && sub.source == reconnect.MainSource {
			return true
		}
	}
	return false
}

// teardown closes task subscriptions opened before turn index bound.
func (e *Engine) teardown(bound int) {
	for _, sub := range e.subs {
		if sub.source != reconnect.MainSource && sub.turn < bound {
			e.drop(sub)
		}
	}
}

func (e *Engine) closeSource(source string) {
	for _, sub := range e.subs {
		if sub.source == source {
			e.drop(sub)
		}
	}
}

func (e *Engine) closeAll() {
	for _, sub := range e.subs {
		e.drop(sub)
	}
}
