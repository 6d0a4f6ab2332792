// ABOUTME: Reconnection controller: attach-time status decisions and bounded retry after disconnects
// ABOUTME: Status is re-checked before every retry; a non-resumable workflow abandons the retry loop

package reconnect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
)

// MainSource names the main conversation stream. Task streams use their task key.
const MainSource = ""

// Status is the execution state of a thread's workflow.
type Status struct {
	CanReconnect   bool     `json:"canReconnect"`
	ActiveTaskKeys []string `json:"activeTaskKeys"`
}

// StatusQuery reports execution status.
type StatusQuery interface {
	Status(ctx context.Context, threadID string) (Status, error)
}

// Plan is the attach decision for a thread.
type Plan struct {
	Status Status
	// Resumable is set when live subscriptions should be opened.
	Resumable bool
	// Unavailable is set when the workflow no longer exists.
	Unavailable bool
	// Sources lists the streams to subscribe: MainSource first, then task keys.
	Sources []string
	// AwaitBuffer holds unresolved interrupts whose resolution the live
	// buffer will deliver; the user is not prompted for them.
	AwaitBuffer []*document.Interrupt
	// Interactive holds unresolved interrupts the user must act on now.
	Interactive []*document.Interrupt
}

// Outcome is how a retry loop ended.
type Outcome int

const (
	Reconnected Outcome = iota
	Abandoned
	Exhausted
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Reconnected:
		return "reconnected"
	case Abandoned:
		return "abandoned"
	case Exhausted:
		return "exhausted"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// RetryResult reports a retry loop.
type RetryResult struct {
	Outcome  Outcome
	Attempts int
	Status   Status
}

// Options configures a Controller.
type Options struct {
	Policy Policy
	// Unavailable reports whether a status error means the workflow is gone.
	// Other status errors are treated as transient.
	Unavailable func(error) bool
	// Sleep waits between attempts; it returns early with ctx's error.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

// Controller decides how to attach to a thread and retries broken streams.
type Controller struct {
	status      StatusQuery
	policy      Policy
	unavailable func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// New creates a controller over a status query.
func New(status StatusQuery, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		status:      status,
		policy:      opts.Policy,
		unavailable: opts.Unavailable,
		sleep:       opts.Sleep,
		logger:      logger.With("component", "reconnect"),
	}
	if c.policy.Attempts == 0 && c.policy.Base == 0 {
		c.policy = DefaultPolicy()
	}
	if c.unavailable == nil {
		c.unavailable = func(error) bool { return false }
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	return c
}

// Plan queries status and decides how to attach given the interrupts a
// history replay left unresolved. Resumable threads get the main stream plus
// one stream per active task; unresolved interrupts then wait for the live
// buffer. Otherwise they become interactive.
func (c *Controller) Plan(ctx context.Context, threadID string, unresolved []*document.Interrupt) (Plan, error) {
	st, err := c.status.Status(ctx, threadID)
	if err != nil {
		if c.unavailable(err) {
			c.logger.Debug("workflow unavailable", "thread_id", threadID)
			markInteractive(unresolved, true)
			return Plan{Unavailable: true, Interactive: unresolved}, nil
		}
		return Plan{}, fmt.Errorf("query status: %w", err)
	}

	plan := Plan{Status: st}
	if !st.CanReconnect {
		markInteractive(unresolved, true)
		plan.Interactive = unresolved
		return plan, nil
	}

	plan.Resumable = true
	plan.Sources = append([]string{MainSource}, st.ActiveTaskKeys...)
	markInteractive(unresolved, false)
	plan.AwaitBuffer = unresolved
	c.logger.Debug("attach plan",
		"thread_id", threadID,
		"sources", len(plan.Sources),
		"awaiting_buffer", len(unresolved))
	return plan, nil
}

func markInteractive(ins []*document.Interrupt, v bool) {
	for _, in := range ins {
		in.Interactive = v
	}
}

// Retry re-establishes a stream after an unexpected disconnect. Before each
// attempt it waits the policy delay and re-checks status; a workflow that is
// no longer resumable ends the loop as Abandoned. Running out of attempts
// ends it as Exhausted. Neither case is an error.
func (c *Controller) Retry(ctx context.Context, threadID string, dial func(context.Context) (event.Stream, error)) (event.Stream, RetryResult) {
	var res RetryResult
	for attempt := range c.policy.Attempts {
		res.Attempts = attempt + 1
		if err := c.sleep(ctx, c.policy.Delay(attempt)); err != nil {
			res.Outcome = Cancelled
			return nil, res
		}

		st, err := c.status.Status(ctx, threadID)
		switch {
		case err != nil && c.unavailable(err):
			res.Outcome = Abandoned
			return nil, res
		case err != nil:
			c.logger.Debug("status check failed", "attempt", res.Attempts, "error", err)
			continue
		case !st.CanReconnect:
			res.Status = st
			res.Outcome = Abandoned
			c.logger.Debug("workflow no longer resumable", "attempt", res.Attempts)
			return nil, res
		}
		res.Status = st

		stream, err := dial(ctx)
		if err == nil {
			res.Outcome = Reconnected
			c.logger.Info("stream reconnected", "thread_id", threadID, "attempt", res.Attempts)
			return stream, res
		}
		if errors.Is(err, context.Canceled) {
			res.Outcome = Cancelled
			return nil, res
		}
		c.logger.Warn("reconnect attempt failed", "attempt", res.Attempts, "error", err)
	}
	res.Outcome = Exhausted
	return nil, res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
