// Package queue coordinates user messages submitted while a turn streams.
//
// Enqueue records the open message's last assigned order as a rollback
// snapshot. When the server acknowledges injection, everything assigned
// after the snapshot is discarded from that message, unreferenced map
// entries are pruned, the message closes, and a new turn opens with the
// queued message as its user message. The new assistant message starts its
// ordering at zero.
//
// Only one message may be queued at a time.
package queue
