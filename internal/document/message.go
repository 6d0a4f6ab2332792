// ABOUTME: Message and segment model for one conversation bubble
// ABOUTME: Segments are ordered typed fragments; per-kind maps hold the process state they reference

package document

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/2389/coven-chat/internal/event"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleNotification Role = "notification"
)

// SegmentKind tags a Segment.
type SegmentKind string

const (
	SegmentText      SegmentKind = "text"
	SegmentReasoning SegmentKind = "reasoning"
	SegmentToolCall  SegmentKind = "tool_call"
	SegmentTodo      SegmentKind = "todo"
	SegmentSubagent  SegmentKind = "subagent"
	SegmentInterrupt SegmentKind = "interrupt"
)

// Segment is one ordered fragment of a message body. Text segments carry
// their content inline; every other kind references an entry in the owning
// message's map of that kind by Ref.
type Segment struct {
	Kind    SegmentKind `json:"kind"`
	Order   int         `json:"order"`
	Content string      `json:"content,omitempty"`
	Ref     string      `json:"ref,omitempty"`
}

// Reasoning is a streamed thinking block.
type Reasoning struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Title   string `json:"title,omitempty"`
	Open    bool   `json:"open"`
}

// ToolResult is the output recorded for a tool call.
type ToolResult struct {
	Content string `json:"content"`
}

// ToolCall is the lifecycle state of one tool invocation.
type ToolCall struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     *ToolResult     `json:"result"`
	InProgress bool            `json:"in_progress"`
	Complete   bool            `json:"complete"`
	Failed     bool            `json:"failed"`
}

// TodoSnapshot is one chronological copy of the todo list.
type TodoSnapshot struct {
	ID         string           `json:"id"`
	Items      []event.TodoItem `json:"items"`
	Total      int              `json:"total"`
	Completed  int              `json:"completed"`
	InProgress int              `json:"in_progress"`
	Pending    int              `json:"pending"`
}

// Subagent reference statuses.
const (
	SubagentRunning   = "running"
	SubagentCompleted = "completed"
)

// SubagentRef is the stub a spawning tool call leaves in the main message.
type SubagentRef struct {
	ToolCallID  string `json:"tool_call_id"`
	TaskKey     string `json:"task_key,omitempty"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	Status      string `json:"status"`
}

// Message is one bubble of the conversation.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Segments    []Segment `json:"segments"`
	Content     string    `json:"content"`
	Streaming   bool      `json:"streaming"`
	Queued      bool      `json:"queued,omitempty"`
	Delivered   bool      `json:"delivered,omitempty"`
	Error       bool      `json:"error,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`

	Reasoning  map[string]*Reasoning    `json:"reasoning"`
	ToolCalls  map[string]*ToolCall     `json:"tool_calls"`
	Todos      map[string]*TodoSnapshot `json:"todos"`
	Subagents  map[string]*SubagentRef  `json:"subagents"`
	Interrupts map[string]*Interrupt    `json:"interrupts"`
}

// NewMessage creates an empty message with initialized lookup maps.
func NewMessage(id string, role Role) *Message {
	return &Message{
		ID:         id,
		Role:       role,
		Segments:   []Segment{},
		Reasoning:  make(map[string]*Reasoning),
		ToolCalls:  make(map[string]*ToolCall),
		Todos:      make(map[string]*TodoSnapshot),
		Subagents:  make(map[string]*SubagentRef),
		Interrupts: make(map[string]*Interrupt),
	}
}

// NewTextMessage creates a closed message holding a single text segment.
func NewTextMessage(id string, role Role, content string) *Message {
	m := NewMessage(id, role)
	if content != "" {
		m.Segments = append(m.Segments, Segment{Kind: SegmentText, Order: 0, Content: content})
	}
	m.Content = content
	return m
}

// Append adds a segment. Orders must be strictly increasing.
func (m *Message) Append(seg Segment) error {
	if n := len(m.Segments); n > 0 && seg.Order <= m.Segments[n-1].Order {
		return fmt.Errorf("segment order %d not after %d in message %s", seg.Order, m.Segments[n-1].Order, m.ID)
	}
	m.Segments = append(m.Segments, seg)
	return nil
}

// LastOrder returns the order of the newest segment, or -1.
func (m *Message) LastOrder() int {
	if len(m.Segments) == 0 {
		return -1
	}
	return m.Segments[len(m.Segments)-1].Order
}

// Truncate keeps only segments with order <= snapshot, rebuilds the text
// accumulator, and prunes map entries no surviving segment references.
func (m *Message) Truncate(snapshot int) {
	m.Segments = slices.DeleteFunc(m.Segments, func(s Segment) bool {
		return s.Order > snapshot
	})

	refs := make(map[SegmentKind]map[string]bool)
	content := ""
	for _, s := range m.Segments {
		if s.Kind == SegmentText {
			content += s.Content
			continue
		}
		if refs[s.Kind] == nil {
			refs[s.Kind] = make(map[string]bool)
		}
		refs[s.Kind][s.Ref] = true
	}
	m.Content = content

	pruneMap(m.Reasoning, refs[SegmentReasoning])
	pruneMap(m.ToolCalls, refs[SegmentToolCall])
	pruneMap(m.Todos, refs[SegmentTodo])
	pruneMap(m.Subagents, refs[SegmentSubagent])
	pruneMap(m.Interrupts, refs[SegmentInterrupt])
}

func pruneMap[V any](entries map[string]V, keep map[string]bool) {
	for id := range entries {
		if !keep[id] {
			delete(entries, id)
		}
	}
}

// Finalize stops streaming and closes every open reasoning block and
// in-flight tool call.
func (m *Message) Finalize() {
	m.Streaming = false
	for _, r := range m.Reasoning {
		r.Open = false
		r.Title = ""
	}
	for _, tc := range m.ToolCalls {
		if tc.InProgress || !tc.Complete {
			tc.InProgress = false
			tc.Complete = true
		}
	}
}

// CheckIntegrity verifies that every non-text segment has exactly one map
// entry and every map entry is referenced by exactly one segment.
func (m *Message) CheckIntegrity() error {
	seen := make(map[SegmentKind]map[string]int)
	last := -1
	for i, s := range m.Segments {
		if i > 0 && s.Order <= last {
			return fmt.Errorf("message %s: order %d not after %d", m.ID, s.Order, last)
		}
		last = s.Order
		if s.Kind == SegmentText {
			continue
		}
		if seen[s.Kind] == nil {
			seen[s.Kind] = make(map[string]int)
		}
		seen[s.Kind][s.Ref]++
	}

	check := func(kind SegmentKind, ids []string) error {
		for ref, n := range seen[kind] {
			if n != 1 {
				return fmt.Errorf("message %s: %s %q referenced %d times", m.ID, kind, ref, n)
			}
			if !slices.Contains(ids, ref) {
				return fmt.Errorf("message %s: %s %q has no entry", m.ID, kind, ref)
			}
		}
		if len(ids) != len(seen[kind]) {
			return fmt.Errorf("message %s: %d %s entries for %d segments", m.ID, len(ids), kind, len(seen[kind]))
		}
		return nil
	}

	for _, c := range []struct {
		kind SegmentKind
		ids  []string
	}{
		{SegmentReasoning, keys(m.Reasoning)},
		{SegmentToolCall, keys(m.ToolCalls)},
		{SegmentTodo, keys(m.Todos)},
		{SegmentSubagent, keys(m.Subagents)},
		{SegmentInterrupt, keys(m.Interrupts)},
	} {
		if err := check(c.kind, c.ids); err != nil {
			return err
		}
	}
	return nil
}

func keys[V any](entries map[string]V) []string {
	out := make([]string, 0, len(entries))
	for k := range entries {
		out = append(out, k)
	}
	return out
}
