// Package eventbus carries run progress from the send loop to its
// observers.
//
// The loop publishes log lines and run summaries without ever blocking
// on a consumer: a notifier or log tail that stalls must not slow the
// sender down. Slow subscribers lose events instead.
package eventbus

import (
	"sync"
	"time"
)

// Type identifies what a run published.
type Type string

const (
	// TypeRunLog carries one human-readable progress line (Data: string).
	TypeRunLog Type = "run.log"
	// TypeRunFinished carries the run's final summary
	// (Data: campaign.Summary).
	TypeRunFinished Type = "run.finished"
)

// Event is one in-memory signal from a run. Data should stay small; the
// bus copies nothing.
type Event struct {
	Type Type
	Time time.Time
	Data any
}

// Bus fans events out to subscribers. Publish never blocks: each
// subscriber has a bounded buffer and a full buffer drops the event.
type Bus struct {
	mu   sync.RWMutex
	seq  uint64
	subs map[uint64]chan Event
}

func New() *Bus {
	return &Bus{subs: map[uint64]chan Event{}}
}

func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock. Close takes the write lock
	// before closing a channel, so a send can never race a close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscription is one observer's view of the bus. Receive from C; Close
// when done (C is closed so range loops terminate).
type Subscription struct {
	C <-chan Event

	bus  *Bus
	id   uint64
	once sync.Once
}

// Subscribe registers a new observer with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.seq++
	id := b.seq
	b.subs[id] = ch
	b.mu.Unlock()

	return &Subscription{C: ch, bus: b, id: id}
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		ch := s.bus.subs[s.id]
		delete(s.bus.subs, s.id)
		if ch != nil {
			close(ch)
		}
		s.bus.mu.Unlock()
	})
}
