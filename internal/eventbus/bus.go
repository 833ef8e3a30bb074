// Package eventbus decouples the scheduler and the heartbeat from
// whatever wants to observe them. Publish never blocks: a subscriber
// that stops draining loses its oldest events, not the daemon's time.
package eventbus

import (
	"sync"
	"time"
)

// Well-known event types.
//
// Payloads (Event.Data):
//   - TypeJobStarted / TypeJobFinished carry a scheduler.RunEvent.
//   - TypeBeatCompleted carries a heartbeat.Beat.
const (
	TypeJobStarted    = "job.started"
	TypeJobFinished   = "job.finished"
	TypeBeatCompleted = "beat.completed"
)

// Event is one in-memory signal. Data should be small and typed.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus is a broadcast fanout with per-subscriber buffers. The zero
// value is not usable; call New. A nil *Bus is a valid "nobody
// listening" bus for Publish.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func New() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel with the given buffer and a
// function that tears the subscription down. The channel is closed by
// unsubscribe, never by Publish.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; !ok {
			return
		}
		delete(b.subs, id)
		close(ch)
	}
}

// Publish fans the event out. A full subscriber has its oldest event
// dropped to make room for the newest; if it is still full the event
// is lost for that subscriber only.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	// Sends happen under the lock so an unsubscribe cannot close a
	// channel mid-send; every send path below is non-blocking.
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
		default:
		}
	}
}
