// Package interrupt coordinates human-in-the-loop pauses.
//
// A Coordinator moves through none → pending → (awaiting feedback) → none.
// Register adds an entire interrupt batch to the awaiting set before any
// response is accepted. Approve, Reject, Answer and Skip flip the document
// record's status immediately and store a Decision. When the collected
// decisions cover every awaited id, the call that completed the batch
// returns a Resume and both sets are cleared; every other call returns nil.
//
// Rejecting a plan without feedback arms feedback capture. The engine routes
// the next user message to CaptureFeedback instead of opening a turn.
//
// The coordinator performs no I/O; the engine sends the Resume.
package interrupt
