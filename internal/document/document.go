// ABOUTME: Conversation document: turns, queued messages, subagent tasks and counters
// ABOUTME: IDs come from deterministic per-document sequences so replays are byte-identical

package document

import (
	"encoding/json"
	"fmt"

	"github.com/2389/coven-chat/internal/event"
)

// ID prefixes handed to Document.NextID.
const (
	PrefixMessage   = "msg"
	PrefixReasoning = "rsn"
	PrefixTodo      = "todo"
)

// TaskStatus is the lifecycle state of a subagent task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
)

// SubagentTask is the accumulated state of one subagent sub-conversation.
// Messages from every run are kept in one ordered list.
type SubagentTask struct {
	Key         string     `json:"key"`
	DisplayID   string     `json:"display_id,omitempty"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	Status      TaskStatus `json:"status"`
	CurrentTool string     `json:"current_tool,omitempty"`
	RunIndex    int        `json:"run_index"`
	Result      string     `json:"result,omitempty"`
	Messages    []*Message `json:"messages"`
}

// LastMessage returns the newest message of the task, or nil.
func (t *SubagentTask) LastMessage() *Message {
	if len(t.Messages) == 0 {
		return nil
	}
	return t.Messages[len(t.Messages)-1]
}

// Turn is one user-message-to-assistant-response cycle.
type Turn struct {
	Index    int        `json:"index"`
	Messages []*Message `json:"messages"`
	Open     bool       `json:"open"`
}

// User returns the user message that opened the turn, if any.
func (t *Turn) User() *Message {
	for _, m := range t.Messages {
		if m.Role == RoleUser {
			return m
		}
	}
	return nil
}

// Assistant returns the newest assistant message of the turn, or nil.
func (t *Turn) Assistant() *Message {
	for i := len(t.Messages) - 1; i >= 0; i-- {
		if t.Messages[i].Role == RoleAssistant {
			return t.Messages[i]
		}
	}
	return nil
}

// Segments returns the concatenated segments of the turn's assistant
// messages in message order.
func (t *Turn) Segments() []Segment {
	var out []Segment
	for _, m := range t.Messages {
		if m.Role == RoleAssistant {
			out = append(out, m.Segments...)
		}
	}
	return out
}

// Document is the renderable state of one conversation thread.
type Document struct {
	ThreadID        string                   `json:"thread_id"`
	Turns           []*Turn                  `json:"turns"`
	Queued          []*Message               `json:"queued"`
	Tasks           map[string]*SubagentTask `json:"tasks"`
	TaskOrder       []string                 `json:"task_order"`
	OpenTask        string                   `json:"open_task,omitempty"`
	Usage           event.Usage              `json:"usage"`
	WorkspaceStatus string                   `json:"workspace_status,omitempty"`
	Notices         []*Message               `json:"notices"`

	ids map[string]int
}

// New returns an empty document for a thread.
func New(threadID string) *Document {
	return &Document{
		ThreadID: threadID,
		Turns:    []*Turn{},
		Queued:   []*Message{},
		Tasks:    make(map[string]*SubagentTask),
		Notices:  []*Message{},
		ids:      make(map[string]int),
	}
}

// NextID returns the next identifier for prefix, e.g. "msg-3".
func (d *Document) NextID(prefix string) string {
	if d.ids == nil {
		d.ids = make(map[string]int)
	}
	d.ids[prefix]++
	return fmt.Sprintf("%s-%d", prefix, d.ids[prefix])
}

// NewMessage allocates an identified message.
func (d *Document) NewMessage(role Role) *Message {
	return NewMessage(d.NextID(PrefixMessage), role)
}

// CurrentTurn returns the newest turn, or nil.
func (d *Document) CurrentTurn() *Turn {
	if len(d.Turns) == 0 {
		return nil
	}
	return d.Turns[len(d.Turns)-1]
}

// Turn returns the turn with the given index, or nil.
func (d *Document) Turn(index int) *Turn {
	for _, t := range d.Turns {
		if t.Index == index {
			return t
		}
	}
	return nil
}

// AppendTurn opens a new turn holding the given messages.
func (d *Document) AppendTurn(msgs ...*Message) *Turn {
	t := &Turn{Index: len(d.Turns), Messages: msgs, Open: true}
	d.Turns = append(d.Turns, t)
	return t
}

// Task returns the subagent task for key, or nil.
func (d *Document) Task(key string) *SubagentTask {
	return d.Tasks[key]
}

// AddTask registers a task, preserving first-reference order.
func (d *Document) AddTask(t *SubagentTask) {
	if _, ok := d.Tasks[t.Key]; !ok {
		d.TaskOrder = append(d.TaskOrder, t.Key)
	}
	d.Tasks[t.Key] = t
}

// Messages returns every turn message in document order.
func (d *Document) Messages() []*Message {
	var out []*Message
	for _, t := range d.Turns {
		out = append(out, t.Messages...)
	}
	return out
}

// FindInterrupt locates an interrupt by id in the main conversation or any
// task, newest first.
func (d *Document) FindInterrupt(id string) (*Interrupt, *Message) {
	for i := len(d.Turns) - 1; i >= 0; i-- {
		msgs := d.Turns[i].Messages
		for j := len(msgs) - 1; j >= 0; j-- {
			if in, ok := msgs[j].Interrupts[id]; ok {
				return in, msgs[j]
			}
		}
	}
	for _, key := range d.TaskOrder {
		for _, m := range d.Tasks[key].Messages {
			if in, ok := m.Interrupts[id]; ok {
				return in, m
			}
		}
	}
	return nil, nil
}

// FindSubagentRef locates the stub left by a task-spawning tool call.
func (d *Document) FindSubagentRef(toolCallID string) *SubagentRef {
	for i := len(d.Turns) - 1; i >= 0; i-- {
		for _, m := range d.Turns[i].Messages {
			if ref, ok := m.Subagents[toolCallID]; ok {
				return ref
			}
		}
	}
	return nil
}

// PendingInterrupts returns every unresolved interrupt in segment order.
func (d *Document) PendingInterrupts() []*Interrupt {
	var out []*Interrupt
	collect := func(m *Message) {
		for _, s := range m.Segments {
			if s.Kind != SegmentInterrupt {
				continue
			}
			if in := m.Interrupts[s.Ref]; in != nil && in.Status == StatusPending {
				out = append(out, in)
			}
		}
	}
	for _, m := range d.Messages() {
		collect(m)
	}
	for _, key := range d.TaskOrder {
		for _, m := range d.Tasks[key].Messages {
			collect(m)
		}
	}
	return out
}

// CheckIntegrity runs Message.CheckIntegrity over every message.
func (d *Document) CheckIntegrity() error {
	all := append(d.Messages(), d.Queued...)
	for _, key := range d.TaskOrder {
		all = append(all, d.Tasks[key].Messages...)
	}
	for _, m := range all {
		if err := m.CheckIntegrity(); err != nil {
			return err
		}
	}
	return nil
}

// Clone returns a deep copy suitable for handing to renderers. The copy
// does not share ID sequences with the original.
func (d *Document) Clone() *Document {
	data, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("document: marshal snapshot: %v", err))
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		panic(fmt.Sprintf("document: unmarshal snapshot: %v", err))
	}
	return &out
}

// MarshalIndent renders the document as stable indented JSON.
func (d *Document) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
