// Package engine runs one conversation thread end to end.
//
// An Engine replays the thread's history, asks the reconnection controller
// how to attach, and merges every live subscription (the main stream, one
// per active task, send and resume continuations) into a single update
// loop. Run is the only goroutine that touches the document. Subscriptions
// are pumped by their own goroutines into the engine inbox, and callbacks
// such as SendMessage or Approve post closures to the same inbox.
//
// Frames carrying an _eventId already applied, whether during history
// replay or on another subscription, are discarded. After every change the
// engine publishes a Snapshot with a deep copy of the document to all
// subscribers; slow subscribers lose older snapshots, never the newest.
//
// Errors follow the transport taxonomy: disconnects are retried with
// backoff, a vanished workflow or exhausted retries finalize the turn
// silently, and rate limits abort the turn and surface on the snapshot.
package engine
