// Package events implements a minimal generic in-process publish/subscribe
// primitive used to fan out state-change, mode-change, and health-change
// notifications between components without coupling them to one another
// directly.
package events

import "sync"

// Broadcaster fans out values of type T to any number of subscribers. Each
// subscriber gets its own buffered channel; a slow subscriber that falls
// behind has its oldest unread event dropped rather than blocking Publish,
// matching this codebase's acquisition-must-never-block posture even for
// internal control events.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[chan T]struct{}
	bufferSize  int
}

// NewBroadcaster constructs a Broadcaster whose per-subscriber channels
// have the given buffer size. A size of 0 is treated as 1.
func NewBroadcaster[T any](bufferSize int) *Broadcaster[T] {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broadcaster[T]{
		subscribers: make(map[chan T]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new listener and returns its channel. Callers must
// call Unsubscribe with the same channel when done to avoid leaking it.
func (b *Broadcaster[T]) Subscribe() <-chan T {
	ch := make(chan T, b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subscribers {
		if c == ch {
			delete(b.subscribers, c)
			close(c)
			return
		}
	}
}

// Publish delivers v to every current subscriber. If a subscriber's buffer
// is full, its oldest pending event is dropped to make room — Publish
// itself never blocks.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subscribers {
		select {
		case c <- v:
		default:
			select {
			case <-c:
			default:
			}
			select {
			case c <- v:
			default:
			}
		}
	}
}

// Close unsubscribes and closes every listener's channel. The Broadcaster
// must not be used after Close.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.subscribers {
		close(c)
	}
	b.subscribers = make(map[chan T]struct{})
}
