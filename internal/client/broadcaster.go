package client

import (
	"sync"
	"sync/atomic"
)

// Event is anything the client publishes to subscribers: connection,
// session, heartbeat and notification events. Name is the stable event
// name (connected, project_ready, in_app_message, ...).
type Event interface {
	Name() string
}

// Broadcaster fans events out to subscribers. A subscriber whose buffer is
// full misses the event rather than blocking the publisher.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int64]chan Event
	closed  bool
	seq     int64
	dropped atomic.Int64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int64]chan Event),
	}
}

func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	id := atomic.AddInt64(&b.seq, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
}

func (b *Broadcaster) Broadcast(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		select {
		case sub <- ev:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *Broadcaster) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub)
	}
	b.mu.Unlock()
}
