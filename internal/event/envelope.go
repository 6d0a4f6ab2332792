// ABOUTME: Wire envelope for server-pushed conversation events and its typed payload union
// ABOUTME: Parse turns a raw envelope into exactly one Payload variant or a MalformedEventError

package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Type is the value of the envelope "event" tag.
type Type string

const (
	TypeMessageChunk          Type = "message_chunk"
	TypeToolCalls             Type = "tool_calls"
	TypeToolCallResult        Type = "tool_call_result"
	TypeArtifact              Type = "artifact"
	TypeInterrupt             Type = "interrupt"
	TypeUserMessage           Type = "user_message"
	TypeTokenUsage            Type = "token_usage"
	TypeWorkspaceStatus       Type = "workspace_status"
	TypeMessageQueued         Type = "message_queued"
	TypeQueuedMessageInjected Type = "queued_message_injected"
	TypeError                 Type = "error"
	TypeReplayDone            Type = "replay_done"
)

// Content types carried by message_chunk events.
const (
	ContentText            = "text"
	ContentReasoning       = "reasoning"
	ContentReasoningSignal = "reasoning_signal"
)

// Artifact types carried by artifact events.
const (
	ArtifactTodoUpdate    = "todo_update"
	ArtifactTask          = "task"
	ArtifactFileOperation = "file_operation"
)

// Envelope is one server-pushed event record as it appears on the wire.
type Envelope struct {
	EventID        string            `json:"_eventId,omitempty"`
	Event          Type              `json:"event"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Agent          string            `json:"agent,omitempty"`
	Role           string            `json:"role,omitempty"`
	ContentType    string            `json:"content_type,omitempty"`
	Content        string            `json:"content,omitempty"`
	FinishReason   string            `json:"finish_reason,omitempty"`
	ToolCallID     string            `json:"tool_call_id,omitempty"`
	ToolCalls      []ToolCallRequest `json:"tool_calls,omitempty"`
	ArtifactType   string            `json:"artifact_type,omitempty"`
	Artifact       *Artifact         `json:"artifact,omitempty"`
	InterruptID    string            `json:"interrupt_id,omitempty"`
	ActionRequests []ActionRequest   `json:"action_requests,omitempty"`
	TurnIndex      *int              `json:"turn_index,omitempty"`
	Usage          *Usage            `json:"usage,omitempty"`
	Status         string            `json:"status,omitempty"`
	Code           string            `json:"code,omitempty"`
}

// ToolCallRequest is one entry of a tool_calls event.
type ToolCallRequest struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Artifact is the structured attachment of an artifact event.
type Artifact struct {
	Type    string          `json:"type,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ActionRequest is one approval request of an interrupt batch. The full
// object is retained as Payload so renderers see every field.
type ActionRequest struct {
	ID      string
	Type    string
	Payload json.RawMessage
}

// UnmarshalJSON keeps the raw object alongside the id and type fields.
func (a *ActionRequest) UnmarshalJSON(data []byte) error {
	var head struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	a.ID = head.ID
	a.Type = head.Type
	a.Payload = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON writes the retained raw object back out.
func (a ActionRequest) MarshalJSON() ([]byte, error) {
	if len(a.Payload) > 0 {
		return a.Payload, nil
	}
	return json.Marshal(struct {
		ID   string `json:"id,omitempty"`
		Type string `json:"type"`
	}{a.ID, a.Type})
}

// Usage is the token accounting attached to token_usage events.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// Event is a parsed envelope: the original record plus its typed payload.
type Event struct {
	Envelope *Envelope
	Payload  Payload
}

// Payload is the closed set of event variants. Consumers switch on the
// concrete type; the unexported method keeps the set closed.
type Payload interface {
	payload()
}

// TextChunk is a streamed piece of assistant text. An empty Content with a
// FinishReason is the terminal signal for the message.
type TextChunk struct {
	Content      string
	FinishReason string
}

// ReasoningChunk is a streamed piece of a reasoning block.
type ReasoningChunk struct {
	Content string
}

// ReasoningSignal opens or closes a reasoning block.
type ReasoningSignal struct {
	Start bool
}

// ToolCalls announces (or re-announces with streamed arguments) tool calls.
type ToolCalls struct {
	Calls []ToolCallRequest
}

// ToolResult carries the output of a tool call.
type ToolResult struct {
	ToolCallID string
	Content    string
}

// TodoItem is one entry of a todo snapshot.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"`
	ActiveForm string `json:"activeForm,omitempty"`
}

// TodoUpdate is a full todo list snapshot.
type TodoUpdate struct {
	Items []TodoItem
}

// TaskAction is the lifecycle step reported by a task artifact.
type TaskAction string

const (
	TaskSpawned   TaskAction = "spawned"
	TaskResumed   TaskAction = "resumed"
	TaskCompleted TaskAction = "completed"
)

// TaskUpdate is a task artifact: spawn, resume or completion of a subagent.
type TaskUpdate struct {
	Action      TaskAction `json:"action"`
	TaskID      string     `json:"task_id"`
	TaskType    string     `json:"task_type,omitempty"`
	DisplayID   string     `json:"display_id,omitempty"`
	ToolCallID  string     `json:"tool_call_id,omitempty"`
	Description string     `json:"description,omitempty"`
	Category    string     `json:"category,omitempty"`
	Instruction string     `json:"instruction,omitempty"`
	Result      string     `json:"result,omitempty"`
}

// Key returns the stable task identity for this update.
func (t TaskUpdate) Key() string {
	return TaskKey(t.TaskType, t.TaskID)
}

// FileOperation is a file_operation artifact.
type FileOperation struct {
	Operation string `json:"operation"`
	Path      string `json:"path"`
}

// InterruptRequest pauses the turn with one or more approval requests.
type InterruptRequest struct {
	ID      string
	Actions []ActionRequest
}

// UserMessage is a user message recorded in the event log.
type UserMessage struct {
	Content string
}

// TokenUsage reports token accounting for the turn.
type TokenUsage struct {
	Usage Usage
}

// WorkspaceStatus reports the state of the conversation's workspace.
type WorkspaceStatus struct {
	Status string
}

// MessageQueued acknowledges that a user message was queued mid-turn.
type MessageQueued struct {
	Content string
}

// QueuedMessageInjected acknowledges that a queued message entered the turn.
type QueuedMessageInjected struct {
	Content string
}

// ErrorNotice is a server-reported error.
type ErrorNotice struct {
	Message string
	Code    string
}

// ReplayDone terminates a history replay.
type ReplayDone struct{}

func (TextChunk) payload()             {}
func (ReasoningChunk) payload()        {}
func (ReasoningSignal) payload()       {}
func (ToolCalls) payload()             {}
func (ToolResult) payload()            {}
func (TodoUpdate) payload()            {}
func (TaskUpdate) payload()            {}
func (FileOperation) payload()         {}
func (InterruptRequest) payload()      {}
func (UserMessage) payload()           {}
func (TokenUsage) payload()            {}
func (WorkspaceStatus) payload()       {}
func (MessageQueued) payload()         {}
func (QueuedMessageInjected) payload() {}
func (ErrorNotice) payload()           {}
func (ReplayDone) payload()            {}

const (
	defaultTaskType = "task"
	taskTypeSep     = ":"
)

// TaskKey builds the stable identity of a subagent task.
func TaskKey(taskType, taskID string) string {
	if taskType == "" {
		taskType = defaultTaskType
	}
	return taskType + taskTypeSep + taskID
}

// Decode parses a raw JSON envelope.
func Decode(data []byte) (*Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedEventError{Reason: fmt.Sprintf("invalid json: %v", err)}
	}
	return Parse(&env)
}

// Parse maps an envelope onto its payload variant. Unknown or incomplete
// events yield a *MalformedEventError and no payload.
func Parse(env *Envelope) (*Event, error) {
	p, err := parsePayload(env)
	if err != nil {
		return nil, err
	}
	return &Event{Envelope: env, Payload: p}, nil
}

func parsePayload(env *Envelope) (Payload, error) {
	switch env.Event {
	case TypeMessageChunk:
		return parseChunk(env)

	case TypeToolCalls:
		if len(env.ToolCalls) == 0 {
			return nil, malformed(env, "tool_calls without calls")
		}
		for _, c := range env.ToolCalls {
			if c.ID == "" {
				return nil, malformed(env, "tool call without id")
			}
		}
		return ToolCalls{Calls: env.ToolCalls}, nil

	case TypeToolCallResult:
		if env.ToolCallID == "" {
			return nil, malformed(env, "tool_call_result without tool_call_id")
		}
		return ToolResult{ToolCallID: env.ToolCallID, Content: env.Content}, nil

	case TypeArtifact:
		return parseArtifact(env)

	case TypeInterrupt:
		if env.InterruptID == "" {
			return nil, malformed(env, "interrupt without interrupt_id")
		}
		if len(env.ActionRequests) == 0 {
			return nil, malformed(env, "interrupt without action_requests")
		}
		return InterruptRequest{ID: env.InterruptID, Actions: env.ActionRequests}, nil

	case TypeUserMessage:
		return UserMessage{Content: env.Content}, nil

	case TypeTokenUsage:
		if env.Usage == nil {
			return nil, malformed(env, "token_usage without usage")
		}
		return TokenUsage{Usage: *env.Usage}, nil

	case TypeWorkspaceStatus:
		return WorkspaceStatus{Status: env.Status}, nil

	case TypeMessageQueued:
		return MessageQueued{Content: env.Content}, nil

	case TypeQueuedMessageInjected:
		return QueuedMessageInjected{Content: env.Content}, nil

	case TypeError:
		return ErrorNotice{Message: env.Content, Code: env.Code}, nil

	case TypeReplayDone:
		return ReplayDone{}, nil
	}

	return nil, malformed(env, "unknown event type")
}

func parseChunk(env *Envelope) (Payload, error) {
	switch env.ContentType {
	case "", ContentText:
		return TextChunk{Content: env.Content, FinishReason: env.FinishReason}, nil
	case ContentReasoning:
		return ReasoningChunk{Content: env.Content}, nil
	case ContentReasoningSignal:
		switch strings.ToLower(strings.TrimSpace(env.Content)) {
		case "start":
			return ReasoningSignal{Start: true}, nil
		case "complete":
			return ReasoningSignal{Start: false}, nil
		}
		return nil, malformed(env, "unknown reasoning signal")
	}
	return nil, malformed(env, "unknown content_type")
}

func parseArtifact(env *Envelope) (Payload, error) {
	kind := env.ArtifactType
	var raw json.RawMessage
	if env.Artifact != nil {
		if kind == "" {
			kind = env.Artifact.Type
		}
		raw = env.Artifact.Payload
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, malformed(env, "artifact without payload")
	}

	switch kind {
	case ArtifactTodoUpdate:
		var body struct {
			Todos []TodoItem `json:"todos"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, malformed(env, "invalid todo payload")
		}
		return TodoUpdate{Items: body.Todos}, nil

	case ArtifactTask:
		var task TaskUpdate
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, malformed(env, "invalid task payload")
		}
		if task.TaskID == "" {
			return nil, malformed(env, "task artifact without task_id")
		}
		switch task.Action {
		case TaskSpawned, TaskResumed, TaskCompleted:
		default:
			return nil, malformed(env, "unknown task action")
		}
		return task, nil

	case ArtifactFileOperation:
		var op FileOperation
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, malformed(env, "invalid file_operation payload")
		}
		return op, nil
	}

	return nil, malformed(env, "unknown artifact type")
}
