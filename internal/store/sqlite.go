// ABOUTME: SQLite implementation of EventLog using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Stores raw envelopes per thread in record order with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/transport"
)

// Database drivers accepted by OpenSQLite.
const (
	// DriverModernc is the pure Go driver and the default.
	DriverModernc = "sqlite"
	// DriverCgo is the cgo driver; it needs a binary built with CGO_ENABLED=1.
	DriverCgo = "sqlite3"
)

// SQLiteStore implements EventLog using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens the log at path with the default driver.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return OpenSQLite(DriverModernc, path, nil)
}

// OpenSQLite opens the log at path with the named driver ("" selects the
// default). The schema is created if it doesn't exist and parent
// directories are created if needed.
func OpenSQLite(driver, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	switch driver {
	case "":
		driver = DriverModernc
	case DriverModernc, DriverCgo:
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("event log opened", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS thread_events (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id   TEXT NOT NULL,
			event_id    TEXT NOT NULL,
			event_type  TEXT NOT NULL,
			agent       TEXT,
			envelope    TEXT NOT NULL,
			recorded_at TEXT NOT NULL,

			UNIQUE (thread_id, event_id)
		);

		CREATE INDEX IF NOT EXISTS idx_thread_events_thread
			ON thread_events(thread_id, seq);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection. Repeated calls are no-ops.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Info("closing event log")
	return s.db.Close()
}

func (s *SQLiteStore) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Record appends env to the thread's log. Envelopes without an _eventId are
// keyed by a fresh ULID so they are never collapsed.
func (s *SQLiteStore) Record(ctx context.Context, threadID string, env *event.Envelope) error {
	if !recordable(env) {
		return nil
	}
	if s.isClosed() {
		return ErrClosed
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope: %w", err)
	}
	key := env.EventID
	if key == "" {
		key = "local-" + ulid.Make().String()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_events (thread_id, event_id, event_type, agent, envelope, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (thread_id, event_id) DO NOTHING
	`,
		threadID,
		key,
		string(env.Event),
		nullString(env.Agent),
		string(data),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting envelope: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		s.logger.Debug("envelope already recorded", "thread_id", threadID, "event_id", key)
	}
	return nil
}

// Replay loads the thread's log into a stream ending with replay_done.
func (s *SQLiteStore) Replay(ctx context.Context, threadID string) (event.Stream, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, envelope
		FROM thread_events
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("querying envelopes: %w", err)
	}
	defer rows.Close()

	var envs []*event.Envelope
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning envelope: %w", err)
		}
		var env event.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			// A row that no longer decodes is skipped rather than failing the replay.
			s.logger.Warn("skipping undecodable envelope", "thread_id", threadID, "event_id", id, "error", err)
			continue
		}
		envs = append(envs, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating envelopes: %w", err)
	}
	if len(envs) == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrHistoryNotFound, threadID)
	}

	s.logger.Debug("replaying local history", "thread_id", threadID, "events", len(envs))
	return event.NewSliceStream(append(envs, replayDone(threadID))...), nil
}

// Threads lists recorded threads, most recently updated first.
func (s *SQLiteStore) Threads(ctx context.Context) ([]ThreadSummary, error) {
	if s.isClosed() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.thread_id, t.n, e.event_id, e.recorded_at
		FROM (
			SELECT thread_id, COUNT(*) AS n, MAX(seq) AS last_seq
			FROM thread_events
			GROUP BY thread_id
		) t
		JOIN thread_events e ON e.seq = t.last_seq
		ORDER BY t.last_seq DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying threads: %w", err)
	}
	defer rows.Close()

	var out []ThreadSummary
	for rows.Next() {
		var (
			sum        ThreadSummary
			lastID     string
			recordedAt string
		)
		if err := rows.Scan(&sum.ID, &sum.Events, &lastID, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning thread: %w", err)
		}
		if !strings.HasPrefix(lastID, "local-") {
			sum.LastEventID = lastID
		}
		sum.UpdatedAt, err = time.Parse(time.RFC3339Nano, recordedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing recorded_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// nullString returns nil for empty strings so they are stored as NULL.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
