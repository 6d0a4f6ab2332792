// Package thread holds the per-conversation state machine shared by live
// streaming and history replay.
//
// A Thread owns the Document, the Assembler, the subagent Multiplexer and
// the queue Coordinator. Apply is the single entry point for parsed events:
//
//   - task artifacts go to the multiplexer (spawn, resume, complete) and
//     bind the spawning tool call's stub to the task;
//   - control events update usage, workspace status, the queue, or record a
//     server error;
//   - subagent content is routed by agent marker;
//   - user_message opens a turn (empty content never does);
//   - main content goes to the open turn's assembly context.
//
// Content that arrives after the assistant message closed (an interrupt or
// a finish signal) opens a continuation message in the same turn, so a
// resumed turn renders the same whether it was streamed or replayed.
package thread
