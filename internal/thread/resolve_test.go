// ABOUTME: Tests for heuristic interrupt resolution
// ABOUTME: Covers plan approval by next user message and phrase matching on tool results

package thread

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/document"
)

func pausedThread(t *testing.T, kind string) (*Thread, *document.Interrupt) {
	t.Helper()
	th := New("th", DefaultOptions())
	feed(t, th, `{"event":"user_message","content":"Go"}`)
	feed(t, th, `{"event":"tool_calls","tool_calls":[{"id":"t1","name":"ask"}]}`)
	out := feed(t, th, `{"event":"interrupt","interrupt_id":"i1","action_requests":[{"type":"`+kind+`"}]}`)
	require.Len(t, out.Effect.Interrupts, 1)
	return th, out.Effect.Interrupts[0]
}

func TestResolve_EmptyUserMessageApprovesPlan(t *testing.T) {
	th, in := pausedThread(t, "plan_approval")
	out := feed(t, th, `{"event":"user_message","content":""}`)
	require.Len(t, out.Resolved, 1)
	assert.Equal(t, document.StatusApproved, in.Status)
	assert.Len(t, th.Document().Turns, 1)
	assert.Empty(t, th.Unresolved())
}

func TestResolve_UserMessageRejectsPlanWithFeedback(t *testing.T) {
	th, in := pausedThread(t, "plan_approval")
	out := feed(t, th, `{"event":"user_message","content":"smaller steps please"}`)
	require.Len(t, out.Resolved, 1)
	assert.Equal(t, document.StatusRejected, in.Status)
	assert.Equal(t, "smaller steps please", in.Feedback)
	assert.Len(t, th.Document().Turns, 1, "feedback does not open a turn")
}

func TestResolve_QuestionAnsweredByToolResult(t *testing.T) {
	th, in := pausedThread(t, "user_question")
	out := feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"User answered: blue"}`)
	require.Len(t, out.Resolved, 1)
	assert.Equal(t, document.StatusAnswered, in.Status)
	assert.Equal(t, "blue", in.Answer)
}

func TestResolve_QuestionSkipped(t *testing.T) {
	th, in := pausedThread(t, "start_question")
	feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"The user skipped this question"}`)
	assert.Equal(t, document.StatusSkipped, in.Status)
}

func TestResolve_WorkspaceProposal(t *testing.T) {
	th, in := pausedThread(t, "create_workspace")
	feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"Workspace created at /w/1"}`)
	assert.Equal(t, document.StatusApproved, in.Status)

	th, in = pausedThread(t, "create_workspace")
	feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"User DECLINED the workspace"}`)
	assert.Equal(t, document.StatusRejected, in.Status)
}

func TestResolve_UnmatchedResultLeavesPending(t *testing.T) {
	th, in := pausedThread(t, "user_question")
	out := feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"something else"}`)
	assert.Empty(t, out.Resolved)
	assert.Equal(t, document.StatusPending, in.Status)
	require.Len(t, th.Unresolved(), 1)
	assert.Same(t, in, th.Unresolved()[0])
}

func TestResolve_IsMonotonic(t *testing.T) {
	th, in := pausedThread(t, "user_question")
	feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"User answered: yes"}`)
	feed(t, th, `{"event":"tool_calls","tool_calls":[{"id":"t2","name":"x"}]}`)
	feed(t, th, `{"event":"tool_call_result","tool_call_id":"t2","content":"skipped"}`)
	assert.Equal(t, document.StatusAnswered, in.Status)
}

func TestResolve_SubagentResultLeavesQuestionPending(t *testing.T) {
	th, in := pausedThread(t, "user_question")
	out := feed(t, th, `{"event":"tool_calls","agent":"task:research:k1","tool_calls":[{"id":"s1","name":"run_tests"}]}`)
	assert.Equal(t, "research:k1", out.TaskKey)
	out = feed(t, th, `{"event":"tool_call_result","agent":"task:research:k1","tool_call_id":"s1","content":"40 passed, 2 skipped"}`)
	assert.Empty(t, out.Resolved)
	assert.Equal(t, document.StatusPending, in.Status)
	assert.Len(t, th.Unresolved(), 1)
}

func TestResolve_ClaimedInterruptWaitsForTheUser(t *testing.T) {
	th, in := pausedThread(t, "user_question")
	th.Claim(in)
	out := feed(t, th, `{"event":"tool_call_result","tool_call_id":"t1","content":"User answered: blue"}`)
	assert.Empty(t, out.Resolved)
	assert.Equal(t, document.StatusPending, in.Status)
	assert.Empty(t, th.Unresolved())
}

func TestMatch(t *testing.T) {
	rest, ok := match(`User answered: "42"`, []string{"user answered"})
	assert.True(t, ok)
	assert.Equal(t, "42", rest)

	_, ok = match("nothing", []string{"", "absent"})
	assert.False(t, ok)

	rest, ok = match("İstanbul trip. USER ANSWERED: İzmir", []string{"user answered"})
	assert.True(t, ok)
	assert.Equal(t, "İzmir", rest)

	rest, ok = match("Straße skipped", []string{"SKIPPED"})
	assert.True(t, ok)
	assert.Empty(t, rest)
}
