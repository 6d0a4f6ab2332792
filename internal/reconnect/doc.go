// Package reconnect decides how a client attaches to a thread whose history
// has been replayed, and re-establishes live streams after a disconnect.
//
// Attach follows the execution status. A resumable workflow gets one live
// subscription for the main conversation and one per active task, and any
// interrupt the history left unresolved is assumed to be answered in the
// live buffer. A workflow that cannot be resumed turns those interrupts
// interactive so the user can answer them.
//
// Retry backs off exponentially (1s, 2s, 4s, 8s, 16s by default) and
// re-checks status before every attempt.
package reconnect
