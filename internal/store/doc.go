// Package store keeps a local log of the envelopes a thread has seen so the
// thread can be rebuilt without the gateway.
//
// # Architecture
//
// EventLog is the one interface. Record appends an envelope and doubles as
// the engine's Recorder; Replay serves the log back as an event.Stream
// ending with a replay_done marker and doubles as a replay.HistorySource.
// Two implementations exist:
//
//   - SQLiteStore: durable log in a single table, opened with the pure Go
//     modernc.org/sqlite driver ("sqlite") or the cgo mattn/go-sqlite3
//     driver ("sqlite3").
//   - MemoryStore: in-memory log for tests and sessions without a database.
//
// Envelopes are stored verbatim as JSON in record order. An envelope whose
// _eventId was already recorded for the thread is dropped; envelopes
// without one are keyed by a ULID and always kept.
//
// # Recording remote history
//
// Tee wraps a remote HistorySource so everything it replays is written to
// the local log as it streams past:
//
//	hist := store.Tee(client, log, logger)
//	eng, err := engine.New(engine.Config{History: hist, Recorder: log, ...})
//
// A thread with nothing recorded answers Replay with
// transport.ErrHistoryNotFound, the same error the gateway client returns.
package store
