// ABOUTME: Tests for the EventLog implementations and the Tee history recorder
// ABOUTME: Every behavior runs against both SQLiteStore and MemoryStore

package store

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/event"
	"github.com/2389/coven-chat/internal/transport"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func eachLog(t *testing.T, fn func(t *testing.T, log EventLog)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, newTestStore(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func chunk(id, content string) *event.Envelope {
	return &event.Envelope{
		EventID:     id,
		Event:       event.TypeMessageChunk,
		Agent:       "main",
		ContentType: event.ContentText,
		Content:     content,
	}
}

func drain(t *testing.T, s event.Stream) []*event.Envelope {
	t.Helper()
	var out []*event.Envelope
	for {
		env, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		out = append(out, env)
	}
}

func TestEventLog_ReplayInRecordOrder(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		ctx := t.Context()
		require.NoError(t, log.Record(ctx, "th", chunk("e1", "hel")))
		require.NoError(t, log.Record(ctx, "th", chunk("e2", "lo")))
		require.NoError(t, log.Record(ctx, "other", chunk("x1", "elsewhere")))

		s, err := log.Replay(ctx, "th")
		require.NoError(t, err)
		got := drain(t, s)

		require.Len(t, got, 3)
		assert.Equal(t, "hel", got[0].Content)
		assert.Equal(t, "lo", got[1].Content)
		assert.Equal(t, "main", got[1].Agent)
		assert.Equal(t, event.TypeReplayDone, got[2].Event)
		assert.Equal(t, "th", got[2].ThreadID)
	})
}

func TestEventLog_DropsRepeatedEventID(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		ctx := t.Context()
		require.NoError(t, log.Record(ctx, "th", chunk("e1", "a")))
		require.NoError(t, log.Record(ctx, "th", chunk("e1", "a again")))
		// The same id on another thread is a different event.
		require.NoError(t, log.Record(ctx, "th2", chunk("e1", "b")))

		s, err := log.Replay(ctx, "th")
		require.NoError(t, err)
		got := drain(t, s)
		require.Len(t, got, 2)
		assert.Equal(t, "a", got[0].Content)
	})
}

func TestEventLog_KeepsEnvelopesWithoutID(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		ctx := t.Context()
		require.NoError(t, log.Record(ctx, "th", chunk("", "one")))
		require.NoError(t, log.Record(ctx, "th", chunk("", "one")))

		s, err := log.Replay(ctx, "th")
		require.NoError(t, err)
		got := drain(t, s)
		require.Len(t, got, 3)
		assert.Empty(t, got[0].EventID)
	})
}

func TestEventLog_IgnoresReplayDone(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		ctx := t.Context()
		require.NoError(t, log.Record(ctx, "th", &event.Envelope{Event: event.TypeReplayDone}))
		require.NoError(t, log.Record(ctx, "th", nil))

		_, err := log.Replay(ctx, "th")
		assert.ErrorIs(t, err, transport.ErrHistoryNotFound)
	})
}

func TestEventLog_MissingHistory(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		_, err := log.Replay(t.Context(), "nope")
		assert.ErrorIs(t, err, transport.ErrHistoryNotFound)
	})
}

func TestEventLog_ThreadsNewestFirst(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		ctx := t.Context()
		require.NoError(t, log.Record(ctx, "a", chunk("a1", "x")))
		require.NoError(t, log.Record(ctx, "b", chunk("b1", "x")))
		require.NoError(t, log.Record(ctx, "a", chunk("a2", "x")))

		threads, err := log.Threads(ctx)
		require.NoError(t, err)
		require.Len(t, threads, 2)
		assert.Equal(t, "a", threads[0].ID)
		assert.Equal(t, 2, threads[0].Events)
		assert.Equal(t, "a2", threads[0].LastEventID)
		assert.False(t, threads[0].UpdatedAt.IsZero())
		assert.Equal(t, "b", threads[1].ID)
	})
}

func TestEventLog_Closed(t *testing.T) {
	eachLog(t, func(t *testing.T, log EventLog) {
		require.NoError(t, log.Close())
		require.NoError(t, log.Close())

		assert.ErrorIs(t, log.Record(t.Context(), "th", chunk("e1", "x")), ErrClosed)
		_, err := log.Replay(t.Context(), "th")
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestSQLiteStore_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "events.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(t.Context(), "th", chunk("e1", "kept")))
	require.NoError(t, s.Close())

	s, err = OpenSQLite("", path, nil)
	require.NoError(t, err)
	defer s.Close()

	stream, err := s.Replay(t.Context(), "th")
	require.NoError(t, err)
	got := drain(t, stream)
	require.Len(t, got, 2)
	assert.Equal(t, "kept", got[0].Content)
}

func TestOpenSQLite_UnknownDriver(t *testing.T) {
	_, err := OpenSQLite("postgres", filepath.Join(t.TempDir(), "x.db"), nil)
	assert.ErrorContains(t, err, "unknown database driver")
}

type sliceHistory struct{ envs []*event.Envelope }

func (h sliceHistory) Replay(ctx context.Context, threadID string) (event.Stream, error) {
	return event.NewSliceStream(h.envs...), nil
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(ctx context.Context, threadID string, env *event.Envelope) error {
	f.calls++
	return errors.New("disk full")
}

func TestTee_RecordsRemoteHistory(t *testing.T) {
	log := NewMemoryStore()
	remote := sliceHistory{envs: []*event.Envelope{
		chunk("e1", "a"),
		chunk("e2", "b"),
		{Event: event.TypeReplayDone},
	}}

	s, err := Tee(remote, log, nil).Replay(t.Context(), "th")
	require.NoError(t, err)
	assert.Len(t, drain(t, s), 3)

	local, err := log.Replay(t.Context(), "th")
	require.NoError(t, err)
	got := drain(t, local)
	require.Len(t, got, 3)
	assert.Equal(t, "e1", got[0].EventID)
	assert.Equal(t, "e2", got[1].EventID)
}

func TestTee_RecordFailureKeepsReplaying(t *testing.T) {
	rec := &failingRecorder{}
	remote := sliceHistory{envs: []*event.Envelope{chunk("e1", "a"), chunk("e2", "b")}}

	s, err := Tee(remote, rec, nil).Replay(t.Context(), "th")
	require.NoError(t, err)
	assert.Len(t, drain(t, s), 2)
	assert.Equal(t, 1, rec.calls)
}
