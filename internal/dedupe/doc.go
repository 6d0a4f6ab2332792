// Package dedupe suppresses event frames that arrive more than once.
//
// History replay and live subscriptions overlap at the seam: a reconnect
// that resumes from a cursor, or a per-task subscription that also receives
// frames the main stream already delivered, may repeat events. Window keeps
// a bounded set of event cursors (the envelope "_eventId") in insertion
// order and remembers the newest one so a reconnect can resume after it.
package dedupe
