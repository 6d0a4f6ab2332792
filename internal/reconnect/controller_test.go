// ABOUTME: Tests for the reconnection controller and backoff policy
// ABOUTME: Uses a scripted status query and a recording sleeper instead of real time

package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
)

var errGone = errors.New("gone")

type scriptedStatus struct {
	replies []Status
	errs    []error
	calls   int
}

func (s *scriptedStatus) Status(context.Context, string) (Status, error) {
	i := min(s.calls, len(s.replies)-1)
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return s.replies[i], err
}

type recordingSleep struct{ waits []time.Duration }

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.waits = append(r.waits, d)
	return ctx.Err()
}

func newController(st StatusQuery, rs *recordingSleep) *Controller {
	return New(st, Options{
		Unavailable: func(err error) bool { return errors.Is(err, errGone) },
		Sleep:       rs.sleep,
	})
}

func TestBackoff_Schedule(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	for i, d := range want {
		assert.Equal(t, d, Backoff(i), "attempt %d", i)
	}
	assert.Zero(t, Backoff(5))
	assert.Zero(t, Backoff(-1))
}

func TestPolicy_CustomBase(t *testing.T) {
	p := Policy{Attempts: 3, Base: 100 * time.Millisecond}
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Zero(t, p.Delay(3))
}

func TestController_PlanResumableAwaitsBuffer(t *testing.T) {
	st := &scriptedStatus{replies: []Status{{CanReconnect: true, ActiveTaskKeys: []string{"research:k1"}}}}
	c := newController(st, &recordingSleep{})
	in := &document.Interrupt{ID: "q1", Kind: document.KindUserQuestion, Interactive: true}

	plan, err := c.Plan(t.Context(), "th", []*document.Interrupt{in})
	require.NoError(t, err)

	assert.True(t, plan.Resumable)
	assert.Equal(t, []string{MainSource, "research:k1"}, plan.Sources)
	assert.Equal(t, []*document.Interrupt{in}, plan.AwaitBuffer)
	assert.Empty(t, plan.Interactive)
	assert.False(t, in.Interactive)
}

func TestController_PlanNotResumablePrompts(t *testing.T) {
	st := &scriptedStatus{replies: []Status{{CanReconnect: false}}}
	c := newController(st, &recordingSleep{})
	in := &document.Interrupt{ID: "q1", Kind: document.KindUserQuestion}

	plan, err := c.Plan(t.Context(), "th", []*document.Interrupt{in})
	require.NoError(t, err)

	assert.False(t, plan.Resumable)
	assert.Empty(t, plan.Sources)
	assert.Equal(t, []*document.Interrupt{in}, plan.Interactive)
	assert.True(t, in.Interactive)
}

func TestController_PlanUnavailableIsBenign(t *testing.T) {
	st := &scriptedStatus{replies: []Status{{}}, errs: []error{errGone}}
	c := newController(st, &recordingSleep{})

	plan, err := c.Plan(t.Context(), "th", nil)
	require.NoError(t, err)
	assert.True(t, plan.Unavailable)
	assert.False(t, plan.Resumable)
}

func TestController_PlanTransientError(t *testing.T) {
	boom := errors.New("503")
	st := &scriptedStatus{replies: []Status{{}}, errs: []error{boom}}
	c := newController(st, &recordingSleep{})

	_, err := c.Plan(t.Context(), "th", nil)
	assert.ErrorIs(t, err, boom)
}

func TestController_RetryExhaustsWithBackoff(t *testing.T) {
	st := &scriptedStatus{replies: []Status{{CanReconnect: true}}}
	rs := &recordingSleep{}
	c := newController(st, rs)
	dials := 0

	stream, res := c.Retry(t.Context(), "th", func(context.Context) (event.Stream, error) {
		dials++
		return nil, errors.New("refused")
	})

	assert.Nil(t, stream)
	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, 5, res.Attempts)
	assert.Equal(t, 5, dials)
	assert.Equal(t, 5, st.calls, "status re-checked before every attempt")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}, rs.waits)
}

func TestController_RetryAbandonsWhenNoLongerResumable(t *testing.T) {
	st := &scriptedStatus{replies: []Status{{CanReconnect: true}, {CanReconnect: false}}}
	c := newController(st, &recordingSleep{})
	dials := 0

	_, res := c.Retry(t.Context(), "th", func(context.Context) (event.Stream, error) {
		dials++
		return nil, errors.New("refused")
	})

	assert.Equal(t, Abandoned, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, dials)
}

func TestController_RetryAbandonsWhenUnavailable(t *testing.T) {
	st := &scriptedStatus{replies: []Status{{}}, errs: []error{errGone}}
	c := newController(st, &recordingSleep{})

	_, res := c.Retry(t.Context(), "th", func(context.Context) (event.Stream, error) {
		t.Fatal("dial after workflow disappeared")
		return nil, nil
	})
	assert.Equal(t, Abandoned, res.Outcome)
}

func TestController_RetryReconnects(t *testing.T) {
	st := &scriptedStatus{
		replies: []Status{{}, {CanReconnect: true, ActiveTaskKeys: []string{"a:1"}}},
		errs:    []error{errors.New("timeout")},
	}
	c := newController(st, &recordingSleep{})
	want := event.NewSliceStream()

	got, res := c.Retry(t.Context(), "th", func(context.Context) (event.Stream, error) {
		return want, nil
	})

	assert.Equal(t, Reconnected, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Same(t, want, got)
	assert.Equal(t, []string{"a:1"}, res.Status.ActiveTaskKeys)
}

func TestController_RetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	st := &scriptedStatus{replies: []Status{{CanReconnect: true}}}
	c := newController(st, &recordingSleep{})

	_, res := c.Retry(ctx, "th", func(context.Context) (event.Stream, error) {
		return nil, nil
	})
	assert.Equal(t, Cancelled, res.Outcome)
	assert.Zero(t, st.calls)
}
