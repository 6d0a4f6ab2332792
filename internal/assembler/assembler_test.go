// ABOUTME: Tests for the content assembler
// ABOUTME: Covers text, reasoning titles, tool lifecycle, todo snapshots, spawn stubs and interrupts

package assembler

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
)

func newFixture() (*Assembler, *TaskContext, *document.Document) {
	doc := document.New("th")
	m := doc.NewMessage(document.RoleAssistant)
	m.Streaming = true
	return New(doc, DefaultConfig(), nil), NewTaskContext(m), doc
}

func apply(t *testing.T, a *Assembler, tc *TaskContext, p event.Payload) Effect {
	t.Helper()
	eff, err := a.Apply(tc, p)
	require.NoError(t, err)
	return eff
}

func TestAssembler_TextChunksAndFinish(t *testing.T) {
	a, tc, _ := newFixture()

	apply(t, a, tc, event.TextChunk{Content: "Hi"})
	apply(t, a, tc, event.TextChunk{Content: " there"})
	assert.Equal(t, "Hi there", tc.Message.Content)
	require.Len(t, tc.Message.Segments, 2, "one segment per chunk")
	assert.True(t, tc.Message.Streaming)

	eff := apply(t, a, tc, event.TextChunk{FinishReason: "stop"})
	assert.True(t, eff.Finished)
	assert.False(t, tc.Message.Streaming)
	assert.Len(t, tc.Message.Segments, 2, "finish adds no segment")
}

func TestAssembler_EmptyChunkWithoutFinishIsNoop(t *testing.T) {
	a, tc, _ := newFixture()
	eff := apply(t, a, tc, event.TextChunk{})
	assert.False(t, eff.Finished)
	assert.Empty(t, tc.Message.Segments)
	assert.True(t, tc.Message.Streaming)
}

func TestAssembler_ReasoningLifecycle(t *testing.T) {
	a, tc, _ := newFixture()

	apply(t, a, tc, event.ReasoningSignal{Start: true})
	id := tc.ActiveReasoningID
	require.Equal(t, "rsn-1", id)
	r := tc.Message.Reasoning[id]
	require.NotNil(t, r)
	assert.True(t, r.Open)

	apply(t, a, tc, event.ReasoningChunk{Content: "**Scanning** the repo. "})
	assert.Equal(t, "Scanning", r.Title)

	apply(t, a, tc, event.ReasoningChunk{Content: "Now **Plann"})
	assert.Equal(t, "Scanning", r.Title, "unterminated span keeps previous title")

	apply(t, a, tc, event.ReasoningChunk{Content: "ing next**"})
	assert.Equal(t, "Planning next", r.Title)

	apply(t, a, tc, event.ReasoningSignal{Start: false})
	assert.False(t, r.Open)
	assert.Empty(t, r.Title)
	assert.Empty(t, tc.ActiveReasoningID)
	assert.Equal(t, "**Scanning** the repo. Now **Planning next**", r.Content)
}

func TestAssembler_ReasoningChunkWithoutStartOpensBlock(t *testing.T) {
	a, tc, _ := newFixture()
	apply(t, a, tc, event.ReasoningChunk{Content: "thinking"})
	require.Len(t, tc.Message.Reasoning, 1)
	assert.NotEmpty(t, tc.ActiveReasoningID)

	eff := apply(t, a, tc, event.ReasoningSignal{Start: false})
	assert.False(t, eff.Dropped)
	eff = apply(t, a, tc, event.ReasoningSignal{Start: false})
	assert.True(t, eff.Dropped)
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "", Title("no emphasis here"))
	assert.Equal(t, "", Title("*single* only"))
	assert.Equal(t, "Second", Title("**First** then __Second__"))
	assert.Equal(t, "Code review", Title("**Code `review`**"))
}

func TestAssembler_ToolCallFailure(t *testing.T) {
	a, tc, _ := newFixture()

	apply(t, a, tc, event.ToolCalls{Calls: []event.ToolCallRequest{{ID: "t1", Name: "search"}}})
	call := tc.Message.ToolCalls["t1"]
	require.NotNil(t, call)
	assert.True(t, call.InProgress)
	assert.False(t, call.Complete)
	assert.Nil(t, call.Result)
	assert.Equal(t, "t1", tc.ActiveToolCallID)

	eff := apply(t, a, tc, event.ToolResult{ToolCallID: "t1", Content: "ERROR: timeout"})
	assert.Same(t, call, eff.Completed)
	assert.False(t, call.InProgress)
	assert.True(t, call.Complete)
	assert.True(t, call.Failed)
	assert.Empty(t, tc.ActiveToolCallID)
}

func TestAssembler_ToolFailurePrefixIsCaseSensitive(t *testing.T) {
	a, tc, _ := newFixture()
	apply(t, a, tc, event.ToolCalls{Calls: []event.ToolCallRequest{{ID: "t1", Name: "search"}}})
	apply(t, a, tc, event.ToolResult{ToolCallID: "t1", Content: "error: lowercase"})
	assert.False(t, tc.Message.ToolCalls["t1"].Failed)
}

func TestAssembler_RepeatedToolCallUpdatesArgsInPlace(t *testing.T) {
	a, tc, _ := newFixture()
	apply(t, a, tc, event.ToolCalls{Calls: []event.ToolCallRequest{{ID: "t1", Name: "search", Args: json.RawMessage(`{"q":"g`)}}})
	apply(t, a, tc, event.TextChunk{Content: "x"})
	apply(t, a, tc, event.ToolCalls{Calls: []event.ToolCallRequest{{ID: "t1", Name: "search", Args: json.RawMessage(`{"q":"go"}`)}}})

	require.Len(t, tc.Message.Segments, 2)
	assert.Equal(t, document.SegmentToolCall, tc.Message.Segments[0].Kind)
	assert.Equal(t, 0, tc.Message.Segments[0].Order)
	assert.JSONEq(t, `{"q":"go"}`, string(tc.Message.ToolCalls["t1"].Args))
}

func TestAssembler_OrphanResultDropped(t *testing.T) {
	a, tc, _ := newFixture()
	eff := apply(t, a, tc, event.ToolResult{ToolCallID: "ghost", Content: "ok"})
	assert.True(t, eff.Dropped)
	assert.Empty(t, tc.Message.ToolCalls)
	assert.Empty(t, tc.Message.Segments)
}

func TestAssembler_ResultForEarlierMessage(t *testing.T) {
	a, tc, doc := newFixture()
	apply(t, a, tc, event.ToolCalls{Calls: []event.ToolCallRequest{{ID: "t1", Name: "ask"}}})
	first := tc.Message

	tc.Start(doc.NewMessage(document.RoleAssistant))
	apply(t, a, tc, event.ToolResult{ToolCallID: "t1", Content: "User answered: yes"})

	assert.True(t, first.ToolCalls["t1"].Complete)
	assert.Empty(t, tc.Message.ToolCalls)
}

func TestAssembler_TodoSnapshotsNeverMerge(t *testing.T) {
	a, tc, _ := newFixture()
	items := []event.TodoItem{
		{Content: "a", Status: "completed"},
		{Content: "b", Status: "in_progress"},
		{Content: "c", Status: "pending"},
	}
	for range 3 {
		apply(t, a, tc, event.TodoUpdate{Items: items})
	}

	require.Len(t, tc.Message.Segments, 3)
	require.Len(t, tc.Message.Todos, 3)
	for i := 1; i < 3; i++ {
		assert.Greater(t, tc.Message.Segments[i].Order, tc.Message.Segments[i-1].Order)
		assert.NotEqual(t, tc.Message.Segments[i].Ref, tc.Message.Segments[i-1].Ref)
	}
	snap := tc.Message.Todos["todo-1"]
	require.NotNil(t, snap)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 1, snap.Completed)
	assert.Equal(t, 1, snap.InProgress)
	assert.Equal(t, 1, snap.Pending)
}

func TestAssembler_TaskToolCreatesSubagentStub(t *testing.T) {
	a, tc, _ := newFixture()
	eff := apply(t, a, tc, event.ToolCalls{Calls: []event.ToolCallRequest{{
		ID:   "t9",
		Name: "task",
		Args: json.RawMessage(`{"description":"dig into logs","subagent_type":"research"}`),
	}}})

	require.Len(t, eff.Spawned, 1)
	require.Len(t, tc.Message.Segments, 2)
	assert.Equal(t, document.SegmentToolCall, tc.Message.Segments[0].Kind)
	assert.Equal(t, document.SegmentSubagent, tc.Message.Segments[1].Kind)

	ref := tc.Message.Subagents["t9"]
	require.NotNil(t, ref)
	assert.Equal(t, "dig into logs", ref.Description)
	assert.Equal(t, "research", ref.Category)
	assert.Equal(t, document.SubagentRunning, ref.Status)
	assert.Same(t, ref, tc.FindSubagent("t9"))
	assert.NoError(t, tc.Message.CheckIntegrity())
}

func TestAssembler_InterruptBatchClosesMessage(t *testing.T) {
	a, tc, _ := newFixture()
	apply(t, a, tc, event.TextChunk{Content: "Proposed plan"})

	eff := apply(t, a, tc, event.InterruptRequest{
		ID: "i1",
		Actions: []event.ActionRequest{
			{Type: "plan_approval", Payload: json.RawMessage(`{"type":"plan_approval"}`)},
			{ID: "q7", Type: "user_question"},
			{Type: "create_workspace"},
		},
	})

	require.Len(t, eff.Interrupts, 3)
	assert.Equal(t, "i1#0", eff.Interrupts[0].ID)
	assert.Equal(t, "q7", eff.Interrupts[1].ID)
	assert.Equal(t, "i1#2", eff.Interrupts[2].ID)
	for _, in := range eff.Interrupts {
		assert.Equal(t, document.StatusPending, in.Status)
	}
	assert.False(t, tc.Message.Streaming)
	assert.NoError(t, tc.Message.CheckIntegrity())
}

func TestAssembler_SingleInterruptUsesEventID(t *testing.T) {
	a, tc, _ := newFixture()
	eff := apply(t, a, tc, event.InterruptRequest{ID: "i1", Actions: []event.ActionRequest{{Type: "plan_approval"}}})
	require.Len(t, eff.Interrupts, 1)
	assert.Equal(t, "i1", eff.Interrupts[0].ID)

	eff = apply(t, a, tc, event.InterruptRequest{ID: "i1", Actions: []event.ActionRequest{{Type: "plan_approval"}}})
	assert.Empty(t, eff.Interrupts, "duplicate interrupt is ignored")
}

func TestAssembler_UnknownInterruptKind(t *testing.T) {
	a, tc, _ := newFixture()
	_, err := a.Apply(tc, event.InterruptRequest{ID: "i1", Actions: []event.ActionRequest{{Type: "telepathy"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, event.ErrMalformedEvent))
	assert.Empty(t, tc.Message.Segments)
	assert.True(t, tc.Message.Streaming)
}

func TestAssembler_NoOpenMessage(t *testing.T) {
	a, _, _ := newFixture()
	_, err := a.Apply(&TaskContext{}, event.TextChunk{Content: "x"})
	assert.ErrorIs(t, err, ErrNoMessage)
}

func TestAssembler_OrdersStrictlyIncrease(t *testing.T) {
	a, tc, _ := newFixture()
	rng := rand.New(rand.NewPCG(1, 2))

	payloads := []func(i int) event.Payload{
		func(int) event.Payload { return event.TextChunk{Content: "x"} },
		func(int) event.Payload { return event.ReasoningSignal{Start: true} },
		func(int) event.Payload { return event.ReasoningChunk{Content: "**t**"} },
		func(int) event.Payload { return event.ReasoningSignal{Start: false} },
		func(i int) event.Payload {
			return event.ToolCalls{Calls: []event.ToolCallRequest{{ID: string(rune('a' + i%5)), Name: "search"}}}
		},
		func(i int) event.Payload { return event.ToolResult{ToolCallID: string(rune('a' + i%7))} },
		func(int) event.Payload { return event.TodoUpdate{} },
	}
	for i := range 500 {
		apply(t, a, tc, payloads[rng.IntN(len(payloads))](i))
	}

	segs := tc.Message.Segments
	for i := 1; i < len(segs); i++ {
		require.Greater(t, segs[i].Order, segs[i-1].Order)
	}
	assert.NoError(t, tc.Message.CheckIntegrity())
	assert.Equal(t, segs[len(segs)-1].Order, tc.Seq.Last())
}

func TestSequence(t *testing.T) {
	var s Sequence
	assert.Equal(t, -1, s.Last())
	assert.Equal(t, 0, s.Next())
	assert.Equal(t, 1, s.Next())
	assert.Equal(t, 1, s.Last())
	s.Reset()
	assert.Equal(t, 0, s.Next())
}
