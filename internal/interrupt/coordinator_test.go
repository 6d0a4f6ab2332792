// ABOUTME: Tests for the interrupt/resume coordinator
// ABOUTME: Covers the batching law, optimistic status, feedback capture and invalid decisions

package interrupt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/document"
)

func pending(id string, kind document.InterruptKind) *document.Interrupt {
	return &document.Interrupt{ID: id, Kind: kind, Status: document.StatusPending}
}

func TestCoordinator_ScenarioC(t *testing.T) {
	c := New(nil)
	in := pending("i1", document.KindPlanApproval)
	c.Register([]*document.Interrupt{in})
	assert.Equal(t, StatePending, c.State())
	assert.True(t, in.Interactive)

	r, err := c.Approve("i1")
	require.NoError(t, err)
	assert.Equal(t, document.StatusApproved, in.Status)
	require.NotNil(t, r)
	assert.Equal(t, map[string]Decision{"i1": {Type: Approve}}, r.Decisions)
	assert.Equal(t, StateNone, c.State())
	assert.Empty(t, c.Awaiting())
}

func TestCoordinator_BatchingLaw(t *testing.T) {
	c := New(nil)
	q1 := pending("q1", document.KindUserQuestion)
	q2 := pending("q2", document.KindUserQuestion)
	ws := pending("w1", document.KindCreateWorkspace)
	c.Register([]*document.Interrupt{q1, q2, ws})
	assert.Equal(t, []string{"q1", "q2", "w1"}, c.Awaiting())

	resumes := 0
	respond := func(r *Resume, err error) {
		t.Helper()
		require.NoError(t, err)
		if r != nil {
			resumes++
		}
	}

	respond(c.Answer("q1", "blue"))
	assert.Equal(t, 0, resumes, "one of three answered never resumes")
	assert.Equal(t, document.StatusAnswered, q1.Status, "optimistic")
	assert.Equal(t, "blue", q1.Answer)

	respond(c.Skip("w1"))
	assert.Equal(t, 0, resumes)

	r, err := c.Answer("q2", "green")
	require.NoError(t, err)
	require.NotNil(t, r)
	resumes++
	assert.Len(t, r.Decisions, 3)
	assert.Equal(t, Decision{Type: Skip}, r.Decisions["w1"])

	_, err = c.Answer("q2", "again")
	assert.ErrorIs(t, err, ErrUnknownInterrupt)
	assert.Equal(t, 1, resumes)
}

func TestCoordinator_DoubleDecision(t *testing.T) {
	c := New(nil)
	c.Register([]*document.Interrupt{pending("q1", document.KindUserQuestion), pending("q2", document.KindUserQuestion)})
	_, err := c.Answer("q1", "x")
	require.NoError(t, err)
	_, err = c.Skip("q1")
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestCoordinator_PlanRejectionArmsFeedback(t *testing.T) {
	c := New(nil)
	in := pending("i1", document.KindPlanApproval)
	c.Register([]*document.Interrupt{in})

	r, err := c.Reject("i1", "")
	require.NoError(t, err)
	assert.Nil(t, r, "rejection without feedback does not resume")
	assert.Equal(t, document.StatusRejected, in.Status)
	assert.Equal(t, StateAwaitingFeedback, c.State())
	assert.True(t, c.AwaitingFeedback())

	_, err = c.Approve("i1")
	assert.ErrorIs(t, err, ErrAlreadyDecided)

	r, err = c.CaptureFeedback("use postgres instead")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, Decision{Type: Reject, Feedback: "use postgres instead"}, r.Decisions["i1"])
	assert.Equal(t, "use postgres instead", in.Feedback)
	assert.Equal(t, StateNone, c.State())

	_, err = c.CaptureFeedback("again")
	assert.ErrorIs(t, err, ErrNoFeedbackPending)
}

func TestCoordinator_FeedbackHoldsBatch(t *testing.T) {
	c := New(nil)
	c.Register([]*document.Interrupt{pending("p", document.KindPlanApproval), pending("q", document.KindUserQuestion)})

	r, err := c.Reject("p", "")
	require.NoError(t, err)
	assert.Nil(t, r)
	r, err = c.Answer("q", "yes")
	require.NoError(t, err)
	assert.Nil(t, r, "armed feedback keeps the batch open")

	r, err = c.CaptureFeedback("smaller steps")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Len(t, r.Decisions, 2)
}

func TestCoordinator_InlineRejectionFeedback(t *testing.T) {
	c := New(nil)
	in := pending("i1", document.KindPlanApproval)
	c.Register([]*document.Interrupt{in})
	r, err := c.Reject("i1", "too risky")
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "too risky", in.Feedback)
}

func TestCoordinator_InvalidDecisions(t *testing.T) {
	c := New(nil)
	c.Register([]*document.Interrupt{
		pending("plan", document.KindPlanApproval),
		pending("q", document.KindStartQuestion),
	})

	_, err := c.Answer("plan", "x")
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = c.Skip("plan")
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = c.Approve("q")
	assert.ErrorIs(t, err, ErrInvalidDecision)
	_, err = c.Approve("missing")
	assert.ErrorIs(t, err, ErrUnknownInterrupt)
}

func TestCoordinator_RegisterSkipsResolved(t *testing.T) {
	c := New(nil)
	done := pending("i1", document.KindPlanApproval)
	done.Status = document.StatusApproved
	c.Register([]*document.Interrupt{done})
	assert.Equal(t, StateNone, c.State())
	assert.False(t, done.Interactive)
}

func TestCoordinator_ForgetAndReset(t *testing.T) {
	c := New(nil)
	c.Register([]*document.Interrupt{pending("a", document.KindUserQuestion), pending("b", document.KindUserQuestion)})
	_, err := c.Answer("a", "x")
	require.NoError(t, err)

	assert.Nil(t, c.Forget("a"))
	assert.Equal(t, []string{"b"}, c.Awaiting())
	assert.Empty(t, c.Collected())

	c.Reset()
	assert.Equal(t, StateNone, c.State())
}

func TestCoordinator_ForgetCompletesBatch(t *testing.T) {
	c := New(nil)
	q1 := pending("q1", document.KindUserQuestion)
	q2 := pending("q2", document.KindUserQuestion)
	c.Register([]*document.Interrupt{q1, q2})

	r, err := c.Answer("q1", "blue")
	require.NoError(t, err)
	assert.Nil(t, r)

	r = c.Forget("q2")
	require.NotNil(t, r)
	assert.Equal(t, map[string]Decision{"q1": {Type: Answer, Answer: "blue"}}, r.Decisions)
	assert.Equal(t, StateNone, c.State())

	assert.Nil(t, c.Forget("q1"), "nothing left to release")
}

func TestCoordinator_ForgetWithNothingDecided(t *testing.T) {
	c := New(nil)
	c.Register([]*document.Interrupt{pending("q1", document.KindUserQuestion)})
	assert.Nil(t, c.Forget("q1"))
	assert.Equal(t, StateNone, c.State())
}
