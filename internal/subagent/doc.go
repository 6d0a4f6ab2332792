// Package subagent keeps the transcripts of delegated tasks apart from the
// main conversation.
//
// Task content arrives tagged with an agent of the form task:<type>:<id>.
// The Multiplexer keys every task by "<type>:<id>" and gives it its own
// assembler.TaskContext, so ordering and tool results never bleed between
// tasks or into the main message. A resume ends the current run with a
// boundary user message and starts the next one; content for a completed
// task is dropped as stale until the task is spawned or resumed again.
package subagent
