// Package event decodes and classifies server-pushed conversation events.
//
// # Envelopes
//
// Every event arrives as a JSON object keyed by its "event" tag. Parse maps
// an Envelope onto exactly one Payload variant:
//
//   - message_chunk: TextChunk, ReasoningChunk, ReasoningSignal (by content_type)
//   - tool_calls / tool_call_result: ToolCalls, ToolResult
//   - artifact: TodoUpdate, TaskUpdate, FileOperation (by artifact type)
//   - interrupt: InterruptRequest
//   - user_message, token_usage, workspace_status, message_queued,
//     queued_message_injected, error, replay_done
//
// Anything else is a *MalformedEventError. Callers log and skip those; they
// never mutate conversation state.
//
// # Classification
//
// Classify is pure. Control types win regardless of the agent field; an
// agent value carrying the task marker (and not equal to the main or tool
// executor marker) routes to a subagent; everything else is main content.
package event
