// ABOUTME: Tests for the message queue coordinator driven through a thread
// ABOUTME: Covers the rollback law, acknowledgment, replay-created entries and cancellation

package queue_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/queue"
	"github.com/2389/coven-chat/internal/thread"
)

func feed(t *testing.T, th *thread.Thread, raw string) thread.Outcome {
	t.Helper()
	ev, err := event.Decode([]byte(raw))
	require.NoError(t, err)
	out, err := th.Apply(ev)
	require.NoError(t, err)
	return out
}

func TestCoordinator_RollbackLaw(t *testing.T) {
	th := thread.New("th", thread.DefaultOptions())
	_, err := th.BeginTurn("first")
	require.NoError(t, err)

	feed(t, th, `{"event":"message_chunk","content":"a"}`)
	feed(t, th, `{"event":"tool_calls","tool_calls":[{"id":"t1","name":"search"}]}`)
	before := th.Document().CurrentTurn().Assistant()

	q := th.Queue()
	msg, err := q.Enqueue("second")
	require.NoError(t, err)
	assert.True(t, msg.Queued)
	assert.Contains(t, th.Document().Queued, msg)
	snapshot := q.Pending().Snapshot
	assert.Equal(t, 1, snapshot)

	feed(t, th, `{"event":"message_queued","content":"second"}`)
	assert.True(t, q.Pending().Acknowledged)

	feed(t, th, `{"event":"message_chunk","content":"leaked"}`)
	feed(t, th, `{"event":"artifact","artifact_type":"todo_update","artifact":{"payload":{"todos":[]}}}`)
	feed(t, th, `{"event":"tool_calls","tool_calls":[{"id":"t2","name":"search"}]}`)

	out := feed(t, th, `{"event":"queued_message_injected","content":"second"}`)
	require.NotNil(t, out.Injected)

	for _, s := range before.Segments {
		assert.LessOrEqual(t, s.Order, snapshot)
	}
	assert.Len(t, before.Segments, 2)
	assert.Equal(t, "a", before.Content)
	assert.Empty(t, before.Todos)
	assert.NotContains(t, before.ToolCalls, "t2")
	assert.False(t, before.Streaming)
	require.NoError(t, before.CheckIntegrity())

	assert.True(t, msg.Delivered)
	assert.False(t, msg.Queued)
	assert.Empty(t, th.Document().Queued)
	assert.Nil(t, q.Pending())

	turn := th.Document().CurrentTurn()
	assert.Same(t, msg, turn.User())
	feed(t, th, `{"event":"message_chunk","content":"after"}`)
	after := turn.Assistant()
	require.Len(t, after.Segments, 1)
	assert.Equal(t, 0, after.Segments[0].Order, "new message does not continue old counter")
	assert.Equal(t, "after", after.Content)
}

func TestCoordinator_EnqueueErrors(t *testing.T) {
	th := thread.New("th", thread.DefaultOptions())
	q := th.Queue()

	_, err := q.Enqueue("x")
	assert.ErrorIs(t, err, queue.ErrNoActiveTurn)

	_, err = th.BeginTurn("first")
	require.NoError(t, err)
	_, err = q.Enqueue("")
	assert.ErrorIs(t, err, queue.ErrEmptyMessage)

	_, err = q.Enqueue("one")
	require.NoError(t, err)
	_, err = q.Enqueue("two")
	assert.ErrorIs(t, err, queue.ErrMessageAlreadyQueued)
}

func TestCoordinator_SnapshotBeforeAnyContent(t *testing.T) {
	th := thread.New("th", thread.DefaultOptions())
	_, err := th.BeginTurn("first")
	require.NoError(t, err)
	before := th.Document().CurrentTurn().Assistant()

	_, err = th.Queue().Enqueue("second")
	require.NoError(t, err)
	feed(t, th, `{"event":"message_chunk","content":"leaked"}`)
	feed(t, th, `{"event":"queued_message_injected"}`)

	assert.Empty(t, before.Segments)
	assert.Empty(t, before.Content)
}

func TestCoordinator_ReplayCreatesQueuedMessageFromAck(t *testing.T) {
	th := thread.New("th", thread.DefaultOptions())
	feed(t, th, `{"event":"user_message","content":"first"}`)
	feed(t, th, `{"event":"message_chunk","content":"a"}`)
	out := feed(t, th, `{"event":"message_queued","content":"second"}`)
	require.NotNil(t, out.Queued)
	feed(t, th, `{"event":"message_chunk","content":"b"}`)
	feed(t, th, `{"event":"queued_message_injected","content":"second"}`)

	doc := th.Document()
	require.Len(t, doc.Turns, 2)
	assert.Equal(t, "a", doc.Turns[0].Assistant().Content)
	assert.Equal(t, "second", doc.Turns[1].User().Content)
	assert.True(t, doc.Turns[1].User().Delivered)
}

func TestCoordinator_InjectWithoutAnything(t *testing.T) {
	th := thread.New("th", thread.DefaultOptions())
	out := feed(t, th, `{"event":"queued_message_injected"}`)
	assert.True(t, out.Dropped)
	assert.Empty(t, th.Document().Turns)
}

func TestCoordinator_Cancel(t *testing.T) {
	th := thread.New("th", thread.DefaultOptions())
	_, err := th.BeginTurn("first")
	require.NoError(t, err)
	q := th.Queue()
	msg, err := q.Enqueue("second")
	require.NoError(t, err)

	assert.Same(t, msg, q.Cancel())
	assert.Nil(t, q.Cancel())
	assert.Empty(t, th.Document().Queued)
	assert.NotContains(t, th.Document().Messages(), msg)
}
