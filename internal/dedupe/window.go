// ABOUTME: Bounded set of event cursors for duplicate-frame suppression
// ABOUTME: Shared by replay and live subscriptions so the seam neither duplicates nor gaps

package dedupe

import (
	"container/list"
	"sync"
)

// DefaultSize bounds a Window when New is given a non-positive size.
const DefaultSize = 4096

// Window is a thread-safe, size-limited set of seen event cursors. The
// oldest cursor is evicted first.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // cursors in insertion order (oldest at front)
	maxSize int
	last    string
}

// New creates a window holding at most maxSize cursors.
func New(maxSize int) *Window {
	if maxSize <= 0 {
		maxSize = DefaultSize
	}
	return &Window{
		seen:    make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Seen reports whether id was already recorded, recording it if not.
// Empty ids are never duplicates.
func (w *Window) Seen(id string) bool {
	if id == "" {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.seen[id]; ok {
		return true
	}
	if len(w.seen) >= w.maxSize {
		w.evictOldest()
	}
	w.seen[id] = w.order.PushBack(id)
	w.last = id
	return false
}

// Last returns the most recently recorded cursor, or "".
func (w *Window) Last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Len returns the number of recorded cursors.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

// Reset forgets every cursor.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.seen)
	w.order.Init()
	w.last = ""
}

// evictOldest must be called with mu held.
func (w *Window) evictOldest() {
	front := w.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, id)
}
