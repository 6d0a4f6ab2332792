// ABOUTME: Incremental terminal renderer for engine snapshots
// ABOUTME: Prints only what changed since the previous snapshot: text deltas, tool, task and interrupt transitions

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/coven-chat/internal/document"
	"github.com/2389/coven-chat/internal/engine"
)

var (
	dim     = color.New(color.Faint)
	yellow  = color.New(color.FgYellow)
	green   = color.New(color.FgGreen)
	red     = color.New(color.FgRed)
	cyan    = color.New(color.FgCyan)
	boldRed = color.New(color.FgRed, color.Bold)
)

// renderer remembers what it already printed, keyed by document IDs, so
// each snapshot prints only its difference.
type renderer struct {
	out     io.Writer
	midline bool

	users      map[string]bool
	text       map[string]int
	reasoning  map[string]bool
	tools      map[string]string
	todos      map[string]bool
	subagents  map[string]string
	interrupts map[string]document.InterruptStatus
	notices    map[string]bool
	view       string
	lastErr    string
	connected  bool
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:        out,
		users:      make(map[string]bool),
		text:       make(map[string]int),
		reasoning:  make(map[string]bool),
		tools:      make(map[string]string),
		todos:      make(map[string]bool),
		subagents:  make(map[string]string),
		interrupts: make(map[string]document.InterruptStatus),
		notices:    make(map[string]bool),
		connected:  true,
	}
}

// Render prints the difference between snap and what was printed before.
func (r *renderer) Render(snap *engine.Snapshot) {
	if snap == nil || snap.Document == nil {
		return
	}
	doc := snap.Document

	if snap.OpenTask != r.view {
		r.view = snap.OpenTask
		if r.view == "" {
			r.line(cyan, "── main conversation ──")
		} else {
			r.line(cyan, "── task "+r.view+" ──")
		}
	}

	if task := doc.Tasks[r.view]; r.view != "" && task != nil {
		for _, m := range task.Messages {
			r.message(m)
		}
	} else {
		for _, turn := range doc.Turns {
			for _, m := range turn.Messages {
				r.message(m)
			}
		}
		for _, m := range doc.Queued {
			r.message(m)
		}
	}

	for _, n := range doc.Notices {
		if !r.notices[n.ID] {
			r.notices[n.ID] = true
			r.line(yellow, "[notice] "+n.Content)
		}
	}

	if snap.Err != r.lastErr {
		r.lastErr = snap.Err
		if snap.Err != "" {
			r.line(boldRed, "[error] "+snap.Err)
		}
	}
	if snap.Connected != r.connected {
		r.connected = snap.Connected
		if !snap.Connected {
			r.line(dim, "[offline]")
		}
	}
}

func (r *renderer) message(m *document.Message) {
	switch m.Role {
	case document.RoleUser:
		if r.users[m.ID] {
			return
		}
		r.users[m.ID] = true
		label := "> " + m.Content
		if m.Queued && !m.Delivered {
			label += dim.Sprint("  (queued)")
		}
		r.line(green, label)
	case document.RoleNotification:
		if !r.notices[m.ID] {
			r.notices[m.ID] = true
			r.line(yellow, "[notice] "+m.Content)
		}
	case document.RoleAssistant:
		for _, seg := range m.Segments {
			r.segment(m, seg)
		}
		if m.Error && !r.notices[m.ID+"/error"] {
			r.notices[m.ID+"/error"] = true
			r.line(red, "[failed] "+m.ErrorDetail)
		}
	}
}

func (r *renderer) segment(m *document.Message, seg document.Segment) {
	switch seg.Kind {
	case document.SegmentText:
		key := fmt.Sprintf("%s/%d", m.ID, seg.Order)
		done := r.text[key]
		if done >= len(seg.Content) {
			return
		}
		delta := seg.Content[done:]
		r.text[key] = len(seg.Content)
		fmt.Fprint(r.out, stripMarkdown(delta))
		r.midline = !strings.HasSuffix(delta, "\n")

	case document.SegmentReasoning:
		rs := m.Reasoning[seg.Ref]
		if rs == nil || rs.Open || r.reasoning[rs.ID] {
			return
		}
		r.reasoning[rs.ID] = true
		title := rs.Title
		if title == "" {
			title = truncate(strings.TrimSpace(rs.Content), 80)
		}
		r.line(dim, "[thinking] "+title)

	case document.SegmentToolCall:
		tc := m.ToolCalls[seg.Ref]
		if tc == nil {
			return
		}
		state := toolState(tc)
		if r.tools[tc.ID] == state {
			return
		}
		r.tools[tc.ID] = state
		switch state {
		case "failed":
			r.line(red, fmt.Sprintf("[tool error] %s: %s", tc.Name, truncate(resultText(tc), 100)))
		case "done":
			r.line(green, "[tool done] "+tc.Name)
		default:
			r.line(yellow, "[tool] "+tc.Name)
		}

	case document.SegmentTodo:
		td := m.Todos[seg.Ref]
		if td == nil || r.todos[td.ID] {
			return
		}
		r.todos[td.ID] = true
		r.line(dim, fmt.Sprintf("[todos] %d/%d done, %d in progress", td.Completed, td.Total, td.InProgress))

	case document.SegmentSubagent:
		ref := m.Subagents[seg.Ref]
		if ref == nil || r.subagents[ref.ToolCallID] == ref.Status {
			return
		}
		r.subagents[ref.ToolCallID] = ref.Status
		label := ref.Description
		if label == "" {
			label = ref.ToolCallID
		}
		if ref.TaskKey != "" {
			label += dim.Sprint("  /task " + ref.TaskKey)
		}
		r.line(cyan, fmt.Sprintf("[task %s] %s", ref.Status, label))

	case document.SegmentInterrupt:
		in := m.Interrupts[seg.Ref]
		if in == nil || r.interrupts[in.ID] == in.Status {
			return
		}
		r.interrupts[in.ID] = in.Status
		r.interrupt(in)
	}
}

func (r *renderer) interrupt(in *document.Interrupt) {
	if in.Status.Resolved() {
		detail := ""
		switch {
		case in.Answer != "":
			detail = ": " + in.Answer
		case in.Feedback != "":
			detail = ": " + in.Feedback
		}
		r.line(dim, fmt.Sprintf("[%s %s]%s", in.Kind, in.Status, detail))
		return
	}

	r.line(yellow, fmt.Sprintf("[%s %s] %s", in.Kind, in.ID, summarize(in.Payload)))
	if !in.Interactive {
		r.line(dim, "  waiting for the server to settle this request")
		return
	}
	if in.Kind.IsQuestion() {
		r.line(dim, fmt.Sprintf("  /answer %s <text>  or  /skip %s", in.ID, in.ID))
	} else {
		r.line(dim, fmt.Sprintf("  /approve %s  or  /reject %s [feedback]", in.ID, in.ID))
	}
}

// line prints a full colored line, ending any partial text line first.
func (r *renderer) line(c *color.Color, s string) {
	if r.midline {
		fmt.Fprintln(r.out)
		r.midline = false
	}
	c.Fprintln(r.out, s)
}

func toolState(tc *document.ToolCall) string {
	switch {
	case tc.Failed:
		return "failed"
	case tc.Complete:
		return "done"
	default:
		return "running"
	}
}

func resultText(tc *document.ToolCall) string {
	if tc.Result == nil {
		return ""
	}
	return tc.Result.Content
}

// summarize picks a human readable field out of an interrupt payload.
func summarize(payload json.RawMessage) string {
	if len(payload) == 0 {
		return ""
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err == nil {
		for _, k := range []string{"question", "plan", "description", "message", "name"} {
			if s, ok := fields[k].(string); ok && s != "" {
				return truncate(s, 200)
			}
		}
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return truncate(s, 200)
	}
	return truncate(string(payload), 200)
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// stripMarkdown removes bold markers from streamed text.
func stripMarkdown(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	return strings.ReplaceAll(s, "__", "")
}
