// ABOUTME: Pure classification of envelopes into main content, subagent content, or control
// ABOUTME: Agent markers decide subagent routing; control event types always win

package event

import "strings"

// Class is the routing category of an envelope.
type Class int

const (
	MainContent Class = iota
	SubagentContent
	Control
)

func (c Class) String() string {
	switch c {
	case MainContent:
		return "main"
	case SubagentContent:
		return "subagent"
	case Control:
		return "control"
	default:
		return "unknown"
	}
}

// Markers are the agent field values that distinguish conversation sources.
type Markers struct {
	Main         string // the main conversation agent
	ToolExecutor string // the tool executor, never a subagent
	Task         string // substring present in every task-scoped agent value
}

// DefaultMarkers returns the markers used by the gateway.
func DefaultMarkers() Markers {
	return Markers{
		Main:         "main",
		ToolExecutor: "tools",
		Task:         "task:",
	}
}

var controlTypes = map[Type]bool{
	TypeTokenUsage:            true,
	TypeWorkspaceStatus:       true,
	TypeError:                 true,
	TypeMessageQueued:         true,
	TypeQueuedMessageInjected: true,
}

// IsControl reports whether the event type is always a control event.
func IsControl(t Type) bool {
	return controlTypes[t]
}

// Classify assigns an envelope to its routing class.
func Classify(env *Envelope, m Markers) Class {
	if IsControl(env.Event) {
		return Control
	}
	if m.IsSubagent(env.Agent) {
		return SubagentContent
	}
	return MainContent
}

// IsSubagent reports whether an agent value names a subagent task.
func (m Markers) IsSubagent(agent string) bool {
	if agent == "" || m.Task == "" {
		return false
	}
	if agent == m.Main || agent == m.ToolExecutor {
		return false
	}
	return strings.Contains(agent, m.Task)
}

// TaskKey extracts the task identity from a subagent agent value. The text
// following the task marker is "type:id", or a bare id for an untyped task,
// which keys the same way TaskKey does for a spawn without a type. Values
// without the marker return "".
func (m Markers) TaskKey(agent string) string {
	if !m.IsSubagent(agent) {
		return ""
	}
	_, rest, _ := strings.Cut(agent, m.Task)
	taskType, taskID, typed := strings.Cut(rest, taskTypeSep)
	if !typed {
		return TaskKey("", rest)
	}
	return TaskKey(taskType, taskID)
}
