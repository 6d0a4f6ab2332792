// ABOUTME: In-memory fan-out of document snapshots to renderers
// ABOUTME: Slow subscribers lose their oldest pending snapshot rather than blocking the engine

package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster publishes snapshots to every subscriber of a thread.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan *Snapshot // threadID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan *Snapshot),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers for snapshots of threadID. The subscription ends when
// ctx is cancelled or Unsubscribe is called; either closes the channel.
func (b *Broadcaster) Subscribe(ctx context.Context, threadID string) (<-chan *Snapshot, string) {
	subID := uuid.New().String()
	ch := make(chan *Snapshot, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[threadID]; !ok {
		b.subscribers[threadID] = make(map[string]chan *Snapshot)
	}
	b.subscribers[threadID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "thread_id", threadID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(threadID, subID)
	}()

	return ch, subID
}

// Publish delivers snap to every subscriber of threadID without blocking.
// A full subscriber channel drops its oldest snapshot to make room, so the
// newest state always arrives.
func (b *Broadcaster) Publish(threadID string, snap *Snapshot) {
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking.
	b.mu.RLock()
	defer b.mu.RUnlock()

	for subID, ch := range b.subscribers[threadID] {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
		b.logger.Debug("dropped snapshot for slow subscriber",
			"thread_id", threadID,
			"sub_id", subID,
			"version", snap.Version)
	}
}

// Unsubscribe removes a subscription and closes its channel. Repeated calls
// are no-ops.
func (b *Broadcaster) Unsubscribe(threadID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[threadID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, threadID)
	}

	b.logger.Debug("subscriber removed", "thread_id", threadID, "sub_id", subID)
}

// Close closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for threadID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, threadID)
	}
	b.logger.Debug("broadcaster closed")
}
