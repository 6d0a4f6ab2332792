// Package assembler turns content events into message segments.
//
// An Assembler is stateless apart from its document reference (used for
// identifier sequences) and its Config. Every call to Apply receives the
// TaskContext of the scope being built: the open message, its order
// Sequence, and the active reasoning and tool-call cursors. The thread owns
// one context for the main conversation; the subagent multiplexer owns one
// per task.
//
// Segment rules:
//
//   - Text: one segment per non-empty chunk; an empty chunk carrying a finish
//     reason closes the message without adding a segment.
//   - Reasoning: a start signal opens a block; chunks extend it and refresh
//     the title (last **bold** span, via goldmark); complete closes it and
//     clears the title.
//   - Tool calls: first sight appends a segment, repeats only update args.
//     Results complete the call; a result starting with the failure prefix
//     marks it failed. Results without a call are dropped.
//   - Todo snapshots: every update is a new segment.
//   - The task-spawning tool also appends a subagent stub keyed by tool call.
//   - Interrupts: one record per action request, then the message closes.
package assembler
