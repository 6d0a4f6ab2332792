// ABOUTME: Tests for the event cursor window
// ABOUTME: Validates duplicate detection, eviction order, last cursor tracking and concurrency safety

package dedupe

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWindow_Seen(t *testing.T) {
	w := New(10)

	assert.False(t, w.Seen("e1"))
	assert.True(t, w.Seen("e1"))
	assert.False(t, w.Seen("e2"))
	assert.Equal(t, 2, w.Len())
}

func TestWindow_EmptyIDNeverDuplicate(t *testing.T) {
	w := New(10)
	assert.False(t, w.Seen(""))
	assert.False(t, w.Seen(""))
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Last())
}

func TestWindow_EvictsOldest(t *testing.T) {
	w := New(3)
	for i := range 4 {
		w.Seen(fmt.Sprintf("e%d", i))
	}

	assert.False(t, w.Contains("e0"), "oldest evicted")
	assert.True(t, w.Contains("e1"))
	assert.True(t, w.Contains("e3"))
	assert.Equal(t, 3, w.Len())
}

func TestWindow_LastTracksNewestCursor(t *testing.T) {
	w := New(10)
	w.Seen("e1")
	w.Seen("e2")
	w.Seen("e1")
	assert.Equal(t, "e2", w.Last(), "duplicates do not move the cursor")
}

func TestWindow_Reset(t *testing.T) {
	w := New(10)
	w.Seen("e1")
	w.Reset()
	assert.Equal(t, 0, w.Len())
	assert.Empty(t, w.Last())
	assert.False(t, w.Seen("e1"))
}

func TestWindow_DefaultSize(t *testing.T) {
	w := New(0)
	assert.Equal(t, DefaultSize, w.maxSize)
}

func TestWindow_ConcurrentAccess(t *testing.T) {
	w := New(1000)
	var wg sync.WaitGroup
	dups := make([]int, 4)
	for g := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				if w.Seen(fmt.Sprintf("e%d", i)) {
					dups[g]++
				}
			}
		}()
	}
	wg.Wait()

	total := 0
	for _, d := range dups {
		total += d
	}
	assert.Equal(t, 300, total, "each id is new exactly once")
	assert.Equal(t, 100, w.Len())
}
