// ABOUTME: Content assembler that mutates one message from classified content events
// ABOUTME: Handles text, reasoning, tool calls and results, todo snapshots, subagent stubs and interrupts

package assembler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/event"
)

// ErrNoMessage is returned when content arrives for a context with no open message.
var ErrNoMessage = errors.New("no open message")

// Config tunes stream conventions the assembler recognizes.
type Config struct {
	// TaskToolName is the tool whose calls spawn subagent tasks.
	TaskToolName string
	// FailurePrefix marks a failed tool result (case-sensitive prefix).
	FailurePrefix string
}

// DefaultConfig returns the gateway conventions.
func DefaultConfig() Config {
	return Config{
		TaskToolName:  "task",
		FailurePrefix: "ERROR",
	}
}

// Effect reports what an applied event did beyond mutating the message.
type Effect struct {
	// Finished is set when a terminal text signal closed the message.
	Finished bool
	// Interrupts holds records created by an interrupt event.
	Interrupts []*document.Interrupt
	// Spawned holds subagent stubs created by task-spawning tool calls.
	Spawned []*document.SubagentRef
	// Completed is the tool call a result was recorded on.
	Completed *document.ToolCall
	// Dropped is set when the event was valid but had nothing to attach to.
	Dropped bool
}

// Assembler applies content payloads to the message of a TaskContext. It
// holds no per-scope state; all cursors live in the context passed in.
type Assembler struct {
	doc    *document.Document
	cfg    Config
	logger *slog.Logger
}

// New creates an assembler that draws identifiers from doc.
func New(doc *document.Document, cfg Config, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		doc:    doc,
		cfg:    cfg,
		logger: logger.With("component", "assembler"),
	}
}

// Config returns the assembler's stream conventions.
func (a *Assembler) Config() Config {
	return a.cfg
}

// Apply mutates tc.Message according to p. Payloads that are not message
// content (task artifacts, control events) are reported as dropped.
func (a *Assembler) Apply(tc *TaskContext, p event.Payload) (Effect, error) {
	if tc.Message == nil {
		return Effect{}, ErrNoMessage
	}

	switch v := p.(type) {
	case event.TextChunk:
		return a.text(tc, v)
	case event.ReasoningSignal:
		return a.reasoningSignal(tc, v)
	case event.ReasoningChunk:
		return a.reasoningChunk(tc, v)
	case event.ToolCalls:
		return a.toolCalls(tc, v)
	case event.ToolResult:
		return a.toolResult(tc, v)
	case event.TodoUpdate:
		return a.todo(tc, v)
	case event.InterruptRequest:
		return a.interrupt(tc, v)
	}
	return Effect{Dropped: true}, nil
}

func (a *Assembler) text(tc *TaskContext, c event.TextChunk) (Effect, error) {
	m := tc.Message
	if c.Content != "" {
		if err := m.Append(document.Segment{
			Kind:    document.SegmentText,
			Order:   tc.Seq.Next(),
			Content: c.Content,
		}); err != nil {
			return Effect{}, err
		}
		m.Content += c.Content
	}
	if c.FinishReason != "" {
		m.Streaming = false
		return Effect{Finished: true}, nil
	}
	return Effect{}, nil
}

func (a *Assembler) reasoningSignal(tc *TaskContext, s event.ReasoningSignal) (Effect, error) {
	if s.Start {
		_, err := a.openReasoning(tc)
		return Effect{}, err
	}

	if tc.ActiveReasoningID == "" {
		return Effect{Dropped: true}, nil
	}
	if r := tc.Message.Reasoning[tc.ActiveReasoningID]; r != nil {
		r.Open = false
		r.Title = ""
	}
	tc.ActiveReasoningID = ""
	return Effect{}, nil
}

func (a *Assembler) openReasoning(tc *TaskContext) (*document.Reasoning, error) {
	id := a.doc.NextID(document.PrefixReasoning)
	if err := tc.Message.Append(document.Segment{
		Kind:  document.SegmentReasoning,
		Order: tc.Seq.Next(),
		Ref:   id,
	}); err != nil {
		return nil, err
	}
	r := &document.Reasoning{ID: id, Open: true}
	tc.Message.Reasoning[id] = r
	tc.ActiveReasoningID = id
	return r, nil
}

func (a *Assembler) reasoningChunk(tc *TaskContext, c event.ReasoningChunk) (Effect, error) {
	r := tc.Message.Reasoning[tc.ActiveReasoningID]
	if r == nil {
		// Some producers omit the start signal.
		var err error
		if r, err = a.openReasoning(tc); err != nil {
			return Effect{}, err
		}
	}
	r.Content += c.Content
	if title := Title(r.Content); title != "" {
		r.Title = title
	}
	return Effect{}, nil
}

func (a *Assembler) toolCalls(tc *TaskContext, c event.ToolCalls) (Effect, error) {
	var eff Effect
	m := tc.Message
	for _, req := range c.Calls {
		if call, ok := m.ToolCalls[req.ID]; ok {
			if len(req.Args) > 0 {
				call.Args = req.Args
			}
			if call.Name == "" {
				call.Name = req.Name
			}
			if ref := m.Subagents[req.ID]; ref != nil {
				describeSpawn(ref, req.Args)
			}
			continue
		}

		if err := m.Append(document.Segment{
			Kind:  document.SegmentToolCall,
			Order: tc.Seq.Next(),
			Ref:   req.ID,
		}); err != nil {
			return eff, err
		}
		m.ToolCalls[req.ID] = &document.ToolCall{
			ID:         req.ID,
			Name:       req.Name,
			Args:       req.Args,
			InProgress: true,
		}
		tc.ActiveToolCallID = req.ID

		if a.cfg.TaskToolName == "" || req.Name != a.cfg.TaskToolName {
			continue
		}
		if err := m.Append(document.Segment{
			Kind:  document.SegmentSubagent,
			Order: tc.Seq.Next(),
			Ref:   req.ID,
		}); err != nil {
			return eff, err
		}
		ref := &document.SubagentRef{ToolCallID: req.ID, Status: document.SubagentRunning}
		describeSpawn(ref, req.Args)
		m.Subagents[req.ID] = ref
		eff.Spawned = append(eff.Spawned, ref)
	}
	return eff, nil
}

// describeSpawn copies the spawn description and category out of the task
// tool's arguments. Partial argument streams are ignored.
func describeSpawn(ref *document.SubagentRef, args json.RawMessage) {
	if len(args) == 0 {
		return
	}
	var body struct {
		Description  string `json:"description"`
		Category     string `json:"category"`
		SubagentType string `json:"subagent_type"`
	}
	if err := json.Unmarshal(args, &body); err != nil {
		return
	}
	if body.Description != "" {
		ref.Description = body.Description
	}
	switch {
	case body.Category != "":
		ref.Category = body.Category
	case body.SubagentType != "":
		ref.Category = body.SubagentType
	}
}

func (a *Assembler) toolResult(tc *TaskContext, r event.ToolResult) (Effect, error) {
	_, call := tc.findToolCall(r.ToolCallID)
	if call == nil {
		a.logger.Debug("dropping orphan tool result", "tool_call_id", r.ToolCallID)
		return Effect{Dropped: true}, nil
	}
	call.Result = &document.ToolResult{Content: r.Content}
	call.InProgress = false
	call.Complete = true
	call.Failed = a.cfg.FailurePrefix != "" && strings.HasPrefix(r.Content, a.cfg.FailurePrefix)
	if tc.ActiveToolCallID == r.ToolCallID {
		tc.ActiveToolCallID = ""
	}
	return Effect{Completed: call}, nil
}

func (a *Assembler) todo(tc *TaskContext, u event.TodoUpdate) (Effect, error) {
	id := a.doc.NextID(document.PrefixTodo)
	if err := tc.Message.Append(document.Segment{
		Kind:  document.SegmentTodo,
		Order: tc.Seq.Next(),
		Ref:   id,
	}); err != nil {
		return Effect{}, err
	}

	snap := &document.TodoSnapshot{
		ID:    id,
		Items: append([]event.TodoItem(nil), u.Items...),
		Total: len(u.Items),
	}
	for _, it := range u.Items {
		switch it.Status {
		case "completed":
			snap.Completed++
		case "in_progress":
			snap.InProgress++
		default:
			snap.Pending++
		}
	}
	tc.Message.Todos[id] = snap
	return Effect{}, nil
}

func (a *Assembler) interrupt(tc *TaskContext, req event.InterruptRequest) (Effect, error) {
	for _, act := range req.Actions {
		if !document.InterruptKind(act.Type).Valid() {
			return Effect{}, fmt.Errorf("interrupt %s: %w: unknown kind %q", req.ID, event.ErrMalformedEvent, act.Type)
		}
	}

	var eff Effect
	m := tc.Message
	for i, act := range req.Actions {
		id := InterruptID(req, i)
		if _, exists := m.Interrupts[id]; exists {
			continue
		}
		if err := m.Append(document.Segment{
			Kind:  document.SegmentInterrupt,
			Order: tc.Seq.Next(),
			Ref:   id,
		}); err != nil {
			return eff, err
		}
		in := &document.Interrupt{
			ID:          id,
			Kind:        document.InterruptKind(act.Type),
			Payload:     act.Payload,
			Status:      document.StatusPending,
			Interactive: true,
		}
		m.Interrupts[id] = in
		eff.Interrupts = append(eff.Interrupts, in)
	}
	m.Streaming = false
	return eff, nil
}

// InterruptID returns the record id for the i-th action of an interrupt
// event: the action's own id, else the event id for a single action, else
// the event id suffixed with the action index.
func InterruptID(req event.InterruptRequest, i int) string {
	if id := req.Actions[i].ID; id != "" {
		return id
	}
	if len(req.Actions) == 1 {
		return req.ID
	}
	return fmt.Sprintf("%s#%d", req.ID, i)
}

// OpensContent reports whether p starts new visible content. A bare finish
// signal or a tool result never opens a message.
func OpensContent(p event.Payload) bool {
	switch v := p.(type) {
	case event.TextChunk:
		return v.Content != ""
	case event.ReasoningSignal:
		return v.Start
	case event.ReasoningChunk, event.ToolCalls, event.TodoUpdate, event.InterruptRequest:
		return true
	}
	return false
}
