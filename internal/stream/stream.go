package stream

import (
	"context"
	"sync"

	"carebase.org/internal/event"
)

// Feed fan-outs committed domain events to all active subscribers
// (the administrative SSE clients).
type Feed struct {
	mu   sync.RWMutex
	subs map[int]chan event.Event
	next int
}

// New initialises an empty feed.
func New() *Feed {
	return &Feed{subs: make(map[int]chan event.Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// committed events. The channel is closed when the provided context ends.
func (f *Feed) Subscribe(ctx context.Context) <-chan event.Event {
	ch := make(chan event.Event, 16)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (f *Feed) Publish(ev event.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// Drop when subscriber is slow to avoid blocking the append path.
		}
	}
}
