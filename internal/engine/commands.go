// ABOUTME: User-facing engine callbacks: send, interrupt decisions and task view selection
// ABOUTME: Document changes run on the Run goroutine; network calls run on the caller's goroutine

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/interrupt"
	"github.com/2389/coven-chat/internal/reconnect"
	"github.com/2389/coven-chat/internal/thread"
)

// do runs fn on the Run goroutine and waits for its result.
func (e *Engine) do(ctx context.Context, fn func() error) error {
	c := command{fn: fn, reply: make(chan error, 1)}
	select {
	case e.inbox <- c:
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-c.reply:
		return err
	case <-e.done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

type sendKind int

const (
	sendTurn sendKind = iota
	sendQueued
	sendDecision
)

type sendPlan struct {
	kind   sendKind
	key    string
	msg    *document.Message
	resume *interrupt.Resume
}

// SendMessage submits user input. Depending on state it opens a turn,
// queues behind the streaming turn, or becomes the feedback of a plan
// rejection. Rate limits and send failures are returned and recorded on
// the affected message.
func (e *Engine) SendMessage(ctx context.Context, content string) error {
	if content == "" {
		return thread.ErrEmptyMessage
	}
	var plan sendPlan
	err := e.do(ctx, func() error {
		var err error
		plan, err = e.planSend(content)
		return err
	})
	if err != nil {
		return err
	}
	if plan.kind == sendDecision {
		return e.resolve(ctx, plan.resume)
	}
	if e.cfg.Sender == nil {
		_ = e.do(ctx, func() error { return e.sent(plan, content, nil, ErrOffline) })
		return ErrOffline
	}

	stream, sendErr := e.cfg.Sender.Send(ctx, e.cfg.ThreadID, content, plan.key)
	return e.do(ctx, func() error { return e.sent(plan, content, stream, sendErr) })
}

func (e *Engine) planSend(content string) (sendPlan, error) {
	if e.hitl.AwaitingFeedback() {
		r, err := e.hitl.CaptureFeedback(content)
		if err != nil {
			return sendPlan{}, err
		}
		e.th.ExpectEcho(content)
		return sendPlan{kind: sendDecision, resume: r}, nil
	}
	if id := e.pendingPlan(); id != "" {
		r, err := e.hitl.Reject(id, content)
		if err != nil {
			return sendPlan{}, err
		}
		e.th.ExpectEcho(content)
		return sendPlan{kind: sendDecision, resume: r}, nil
	}

	plan := sendPlan{key: uuid.NewString()}
	if e.th.IsOpen() {
		msg, err := e.th.Queue().Enqueue(content)
		if err != nil {
			return sendPlan{}, err
		}
		plan.kind = sendQueued
		plan.msg = msg
		return plan, nil
	}

	turn, err := e.th.BeginTurn(content)
	if err != nil {
		return sendPlan{}, err
	}
	e.th.ExpectEcho(content)
	e.lastErr = nil
	plan.kind = sendTurn
	plan.msg = turn.User()
	return plan, nil
}

// pendingPlan returns the oldest plan approval awaiting a decision.
func (e *Engine) pendingPlan() string {
	awaiting := e.hitl.Awaiting()
	for _, in := range e.th.Document().PendingInterrupts() {
		if in.Kind == document.KindPlanApproval && slices.Contains(awaiting, in.ID) {
			return in.ID
		}
	}
	return ""
}

// sent completes a send on the Run goroutine.
func (e *Engine) sent(plan sendPlan, content string, stream event.Stream, err error) error {
	if err == nil {
		e.addStream(reconnect.MainSource, stream)
		return nil
	}

	e.th.CancelEcho(content)
	e.lastErr = err
	switch plan.kind {
	case sendQueued:
		if msg := e.th.Queue().Cancel(); msg != nil {
			e.logger.Debug("queued message withdrawn", "message", msg.ID)
		}
	default:
		e.th.AbortTurn(err.Error())
	}
	e.logger.Warn("send failed", "error", err)
	return fmt.Errorf("send message: %w", err)
}

// resolve delivers a completed batch and follows its continuation.
func (e *Engine) resolve(ctx context.Context, r *interrupt.Resume) error {
	if r == nil {
		return nil
	}
	if e.cfg.Resume == nil {
		return ErrOffline
	}
	stream, err := e.cfg.Resume.Resolve(ctx, e.cfg.ThreadID, r)
	return e.do(ctx, func() error {
		if err != nil {
			e.lastErr = err
			e.logger.Warn("resume failed", "error", err)
			return fmt.Errorf("resume: %w", err)
		}
		e.addStream(reconnect.MainSource, stream)
		return nil
	})
}

func (e *Engine) decide(ctx context.Context, fn func() (*interrupt.Resume, error)) error {
	var r *interrupt.Resume
	err := e.do(ctx, func() error {
		var err error
		r, err = fn()
		return err
	})
	if err != nil {
		return err
	}
	return e.resolve(ctx, r)
}

// Approve accepts a plan or workspace proposal.
func (e *Engine) Approve(ctx context.Context, id string) error {
	return e.decide(ctx, func() (*interrupt.Resume, error) {
		return e.hitl.Approve(id)
	})
}

// Reject declines a plan or workspace proposal. A plan rejected without
// feedback takes the next SendMessage as its feedback.
func (e *Engine) Reject(ctx context.Context, id, feedback string) error {
	return e.decide(ctx, func() (*interrupt.Resume, error) {
		r, err := e.hitl.Reject(id, feedback)
		if err == nil && feedback != "" {
			if in, _ := e.th.Document().FindInterrupt(id); in != nil && in.Kind == document.KindPlanApproval {
				e.th.ExpectEcho(feedback)
			}
		}
		return r, err
	})
}

// Answer replies to a question.
func (e *Engine) Answer(ctx context.Context, id, text string) error {
	return e.decide(ctx, func() (*interrupt.Resume, error) {
		return e.hitl.Answer(id, text)
	})
}

// Skip dismisses a question or workspace proposal.
func (e *Engine) Skip(ctx context.Context, id string) error {
	return e.decide(ctx, func() (*interrupt.Resume, error) {
		return e.hitl.Skip(id)
	})
}

// OpenTask selects the task whose transcript the user is viewing.
func (e *Engine) OpenTask(ctx context.Context, key string) error {
	return e.do(ctx, func() error {
		if e.th.Document().Task(key) == nil {
			return fmt.Errorf("%s: %w", key, ErrUnknownTask)
		}
		e.openTask = key
		return nil
	})
}

// CloseTask returns the view to the main conversation.
func (e *Engine) CloseTask(ctx context.Context) error {
	return e.do(ctx, func() error {
		e.openTask = ""
		return nil
	})
}

// IsRejection reports whether err came from an interrupt decision the
// coordinator refused.
func IsRejection(err error) bool {
	return errors.Is(err, interrupt.ErrUnknownInterrupt) ||
		errors.Is(err, interrupt.ErrAlreadyDecided) ||
		errors.Is(err, interrupt.ErrInvalidDecision)
}
