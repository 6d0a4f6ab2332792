// ABOUTME: In-memory EventLog for tests and for sessions run without a database path
// ABOUTME: Mirrors SQLiteStore semantics: per-thread order, _eventId dedupe, replay_done terminator

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/transport"
)

// MemoryStore is an in-memory EventLog.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string]*memThread // keyed by thread ID
	seq     int
	closed  bool
}

type memThread struct {
	envs    []*event.Envelope
	ids     map[string]struct{}
	lastSeq int
	updated time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*memThread)}
}

// Record appends a copy of env.
func (m *MemoryStore) Record(ctx context.Context, threadID string, env *event.Envelope) error {
	if !recordable(env) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	th := m.threads[threadID]
	if th == nil {
		th = &memThread{ids: make(map[string]struct{})}
		m.threads[threadID] = th
	}
	if env.EventID != "" {
		if _, ok := th.ids[env.EventID]; ok {
			return nil
		}
		th.ids[env.EventID] = struct{}{}
	}

	// Make a copy to avoid external modification
	e := *env
	th.envs = append(th.envs, &e)
	m.seq++
	th.lastSeq = m.seq
	th.updated = time.Now().UTC()
	return nil
}

// Replay returns copies of the thread's envelopes followed by replay_done.
func (m *MemoryStore) Replay(ctx context.Context, threadID string) (event.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	th := m.threads[threadID]
	if th == nil || len(th.envs) == 0 {
		return nil, fmt.Errorf("%w: %s", transport.ErrHistoryNotFound, threadID)
	}
	envs := make([]*event.Envelope, 0, len(th.envs)+1)
	for _, env := range th.envs {
		e := *env
		envs = append(envs, &e)
	}
	return event.NewSliceStream(append(envs, replayDone(threadID))...), nil
}

// Threads lists recorded threads, most recently updated first.
func (m *MemoryStore) Threads(ctx context.Context) ([]ThreadSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	type ranked struct {
		sum ThreadSummary
		seq int
	}
	all := make([]ranked, 0, len(m.threads))
	for id, th := range m.threads {
		all = append(all, ranked{
			sum: ThreadSummary{
				ID:          id,
				Events:      len(th.envs),
				LastEventID: th.envs[len(th.envs)-1].EventID,
				UpdatedAt:   th.updated,
			},
			seq: th.lastSeq,
		})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq > all[j].seq })

	out := make([]ThreadSummary, len(all))
	for i, r := range all {
		out[i] = r.sum
	}
	return out, nil
}

// Close marks the store closed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
