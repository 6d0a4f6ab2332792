// Package document holds the renderable conversation model.
//
// A Document is a list of Turns. Each Turn owns its messages: the user
// message that opened it and one or more assistant messages (a continuation
// message is opened after an interrupt resumes the turn). Messages are built
// from ordered Segments; non-text segments reference entries in the message's
// per-kind maps (Reasoning, ToolCalls, Todos, Subagents, Interrupts).
//
// # Invariants
//
//   - Segment orders strictly increase within a message and are never
//     renumbered. Message.Append rejects a non-increasing order.
//   - Every non-text segment has exactly one map entry and every map entry is
//     referenced by exactly one segment. CheckIntegrity verifies this and
//     Truncate preserves it.
//   - Interrupt status is monotonic: Resolve never moves a resolved interrupt.
//
// Identifiers ("msg-1", "rsn-4", "todo-2") come from per-document counters.
// Given the same event sequence, two documents serialize to identical JSON.
//
// Snapshots handed outside the engine goroutine are produced by Clone and
// share nothing with the live document.
package document
