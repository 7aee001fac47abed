// Package events provides an in-process per-run pub/sub broker used by the
// API server to stream progress to pollers without re-reading the store.
package events

import (
	"context"
	"sync"

	"github.com/draftmill/draftmill/internal/store"
)

type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan store.RunEvent]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: map[string]map[chan store.RunEvent]struct{}{},
	}
}

// Subscribe registers a listener for one run's events. The channel closes
// when ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan store.RunEvent {
	ch := make(chan store.RunEvent, 16)

	b.mu.Lock()
	if b.subscribers[sessionID] == nil {
		b.subscribers[sessionID] = map[chan store.RunEvent]struct{}{}
	}
	b.subscribers[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		if b.subscribers[sessionID] != nil {
			delete(b.subscribers[sessionID], ch)
			if len(b.subscribers[sessionID]) == 0 {
				delete(b.subscribers, sessionID)
			}
		}
		// Closed under the lock so Publish can never send on a closed
		// channel.
		close(ch)
		b.mu.Unlock()
	}()

	return ch
}

// Publish fans an event out to the run's subscribers. Slow subscribers drop
// events rather than block the publisher.
func (b *Broker) Publish(event store.RunEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers[event.SessionID] {
		select {
		case ch <- event:
		default:
		}
	}
}
