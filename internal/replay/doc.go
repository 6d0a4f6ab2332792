// Package replay rebuilds a conversation document from a persisted event log.
//
// The Replayer feeds every envelope through the same thread.Thread used for
// live streaming, so a log that is the verbatim transcript of a live session
// produces the same document. Identifiers come from document sequences,
// which makes replay deterministic: the same log yields byte-identical JSON.
//
// Interrupts in the log are settled by the thread's resolution heuristics
// (the next user message for plan approvals, tool-result phrases for
// questions and workspace proposals). Whatever is still pending when the log
// ends is returned in Result.Unresolved and left non-interactive; the
// reconnection controller decides whether the live buffer holds the answer
// or the user must act.
package replay
