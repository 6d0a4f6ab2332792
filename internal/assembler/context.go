// ABOUTME: Per-scope assembly cursors: the open message, its order sequence, and active ids
// ABOUTME: Owned by the thread (main conversation) or the multiplexer (one per subagent task)

package assembler

import "github.com/2389/coven-chat/internal/document"

// Sequence hands out strictly increasing segment orders for one message.
type Sequence struct {
	next int
}

// Next returns the next order and advances the sequence.
func (s *Sequence) Next() int {
	n := s.next
	s.next++
	return n
}

// Last returns the most recently assigned order, or -1 if none.
func (s *Sequence) Last() int {
	return s.next - 1
}

// Seek positions the sequence so the next order follows last.
func (s *Sequence) Seek(last int) {
	s.next = last + 1
}

// Reset restarts the sequence at zero.
func (s *Sequence) Reset() {
	s.next = 0
}

// TaskContext carries the mutable cursors the Assembler needs for one
// stream scope. A scope is either the main conversation turn or a single
// subagent task.
type TaskContext struct {
	Message           *document.Message
	Seq               Sequence
	ActiveReasoningID string
	ActiveToolCallID  string

	// earlier messages of the same scope, oldest first; tool results may
	// land after their call's message was closed.
	prior []*document.Message
}

// NewTaskContext returns a context whose open message is m.
func NewTaskContext(m *document.Message) *TaskContext {
	return &TaskContext{Message: m}
}

// Start moves the context to a fresh message. The previous message stays
// reachable for late tool results; ordering and cursors restart.
func (tc *TaskContext) Start(m *document.Message) {
	if tc.Message != nil && tc.Message != m {
		tc.prior = append(tc.prior, tc.Message)
	}
	tc.Message = m
	tc.Seq.Reset()
	tc.ActiveReasoningID = ""
	tc.ActiveToolCallID = ""
}

// findToolCall returns the message holding id, searching the open message
// first and then earlier messages newest first.
func (tc *TaskContext) findToolCall(id string) (*document.Message, *document.ToolCall) {
	if tc.Message != nil {
		if call, ok := tc.Message.ToolCalls[id]; ok {
			return tc.Message, call
		}
	}
	for i := len(tc.prior) - 1; i >= 0; i-- {
		if call, ok := tc.prior[i].ToolCalls[id]; ok {
			return tc.prior[i], call
		}
	}
	return nil, nil
}

// FindSubagent returns the stub left by the task-spawning tool call id.
func (tc *TaskContext) FindSubagent(toolCallID string) *document.SubagentRef {
	if tc.Message != nil {
		if ref, ok := tc.Message.Subagents[toolCallID]; ok {
			return ref
		}
	}
	for i := len(tc.prior) - 1; i >= 0; i-- {
		if ref, ok := tc.prior[i].Subagents[toolCallID]; ok {
			return ref
		}
	}
	return nil
}
