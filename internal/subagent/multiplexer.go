// ABOUTME: Subagent stream multiplexer keyed by stable task identity
// ABOUTME: Owns one TaskContext per task and segments task history into runs at resume boundaries

package subagent

import (
	"errors"
	"log/slog"

	"github.com/2389/coven-chat/internal/assembler"
	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
)

// ErrNotSubagent is returned by Route for an envelope without a task agent.
var ErrNotSubagent = errors.New("envelope is not subagent content")

// ErrStaleTask is returned by Route for content addressed to a completed task.
var ErrStaleTask = errors.New("content for completed task")

// Multiplexer routes subagent content to per-task state.
type Multiplexer struct {
	doc     *document.Document
	asm     *assembler.Assembler
	markers event.Markers
	logger  *slog.Logger

	contexts   map[string]*assembler.TaskContext
	byToolCall map[string]string
}

// New creates a multiplexer writing tasks into doc.
func New(doc *document.Document, asm *assembler.Assembler, markers event.Markers, logger *slog.Logger) *Multiplexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multiplexer{
		doc:        doc,
		asm:        asm,
		markers:    markers,
		logger:     logger.With("component", "subagent"),
		contexts:   make(map[string]*assembler.TaskContext),
		byToolCall: make(map[string]string),
	}
}

// ensure returns the task for key, allocating it on first reference.
func (m *Multiplexer) ensure(key string) (*document.SubagentTask, *assembler.TaskContext) {
	if t := m.doc.Task(key); t != nil {
		tc := m.contexts[key]
		if tc == nil {
			tc = assembler.NewTaskContext(t.LastMessage())
			m.contexts[key] = tc
		}
		return t, tc
	}

	msg := m.doc.NewMessage(document.RoleAssistant)
	msg.Streaming = true
	t := &document.SubagentTask{
		Key:      key,
		Status:   document.TaskActive,
		Messages: []*document.Message{msg},
	}
	m.doc.AddTask(t)
	tc := assembler.NewTaskContext(msg)
	m.contexts[key] = tc
	m.logger.Debug("task allocated", "task", key)
	return t, tc
}

// Spawn records a spawn artifact. A completed task is reactivated rather
// than duplicated. The spawning tool call is bound to the task here so
// later lookups never depend on arrival order.
func (m *Multiplexer) Spawn(u event.TaskUpdate) *document.SubagentTask {
	key := u.Key()
	t, tc := m.ensure(key)
	describe(t, u)

	if t.Status == document.TaskCompleted {
		t.Status = document.TaskActive
		if last := t.LastMessage(); last == nil || !last.Streaming {
			m.openMessage(t, tc)
		}
		m.logger.Debug("task reactivated", "task", key)
	}
	if u.ToolCallID != "" {
		if prev, ok := m.byToolCall[u.ToolCallID]; ok && prev != key {
			m.logger.Warn("tool call already bound to another task",
				"tool_call_id", u.ToolCallID, "task", prev, "ignored", key)
		} else {
			m.byToolCall[u.ToolCallID] = key
			t.ToolCallID = u.ToolCallID
		}
	}
	return t
}

// Resume starts a new run: the trailing message is finalized, a synthetic
// user message carries the instruction, and a fresh assistant message opens
// with its ordering restarted at zero.
func (m *Multiplexer) Resume(u event.TaskUpdate) *document.SubagentTask {
	key := u.Key()
	t, tc := m.ensure(key)
	describe(t, u)

	if last := t.LastMessage(); last != nil {
		last.Finalize()
	}
	boundary := document.NewTextMessage(m.doc.NextID(document.PrefixMessage), document.RoleUser, u.Instruction)
	t.Messages = append(t.Messages, boundary)
	t.RunIndex++
	t.Status = document.TaskActive
	t.CurrentTool = ""
	m.openMessage(t, tc)

	m.logger.Debug("task resumed", "task", key, "run", t.RunIndex)
	return t
}

// Complete marks the task terminal and finalizes its trailing message.
func (m *Multiplexer) Complete(u event.TaskUpdate) *document.SubagentTask {
	key := u.Key()
	t, _ := m.ensure(key)
	describe(t, u)

	if last := t.LastMessage(); last != nil {
		last.Finalize()
	}
	t.Status = document.TaskCompleted
	t.CurrentTool = ""
	if u.Result != "" {
		t.Result = u.Result
	}
	return t
}

// Route applies subagent content to the task named by the envelope's agent.
// Content for a completed task is stale and dropped; only a spawn or resume
// brings the task back.
func (m *Multiplexer) Route(env *event.Envelope, p event.Payload) (string, assembler.Effect, error) {
	key := m.markers.TaskKey(env.Agent)
	if key == "" {
		return "", assembler.Effect{}, ErrNotSubagent
	}

	t, tc := m.ensure(key)
	if t.Status == document.TaskCompleted {
		m.logger.Debug("dropping stale task content", "task", key, "event", env.Event)
		return key, assembler.Effect{Dropped: true}, ErrStaleTask
	}

	if tc.Message == nil || (!tc.Message.Streaming && assembler.OpensContent(p)) {
		m.openMessage(t, tc)
	}

	eff, err := m.asm.Apply(tc, p)
	if err != nil {
		return key, eff, err
	}

	switch v := p.(type) {
	case event.ToolCalls:
		t.CurrentTool = v.Calls[len(v.Calls)-1].Name
	case event.ToolResult:
		if eff.Completed != nil && eff.Completed.Name == t.CurrentTool {
			t.CurrentTool = ""
		}
	}
	return key, eff, nil
}

// TaskForToolCall returns the task key bound to a spawning tool call.
func (m *Multiplexer) TaskForToolCall(toolCallID string) (string, bool) {
	key, ok := m.byToolCall[toolCallID]
	return key, ok
}

// Context returns the assembly context of a task, or nil.
func (m *Multiplexer) Context(key string) *assembler.TaskContext {
	return m.contexts[key]
}

// Active returns the keys of tasks that are not completed, in first-seen order.
func (m *Multiplexer) Active() []string {
	var out []string
	for _, key := range m.doc.TaskOrder {
		if t := m.doc.Tasks[key]; t != nil && t.Status == document.TaskActive {
			out = append(out, key)
		}
	}
	return out
}

func (m *Multiplexer) openMessage(t *document.SubagentTask, tc *assembler.TaskContext) {
	msg := m.doc.NewMessage(document.RoleAssistant)
	msg.Streaming = true
	t.Messages = append(t.Messages, msg)
	tc.Start(msg)
}

func describe(t *document.SubagentTask, u event.TaskUpdate) {
	if u.DisplayID != "" {
		t.DisplayID = u.DisplayID
	}
	if u.Description != "" {
		t.Description = u.Description
	}
	if u.Category != "" {
		t.Category = u.Category
	}
}
