// Package stream is the in-process output stream: an append-only,
// sequenced, ring-bounded event log with pull and push consumers.
package stream

import (
	"errors"
	"sync"
	"time"

	"github.com/sawpanic/moverun/internal/ring"
)

// ErrBusClosed is returned by Publish after Close
var ErrBusClosed = errors.New("stream bus closed")

// DefaultCapacity bounds the retained log
const DefaultCapacity = 4096

// Subscription is a push consumer. C is closed when the subscription is
// cancelled or the bus closes.
type Subscription struct {
	C <-chan Event

	id  uint64
	ch  chan Event
	bus *Bus

	mu      sync.Mutex
	dropped uint64
}

// Dropped counts events skipped because the subscriber was full
func (s *Subscription) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Cancel detaches the subscription
func (s *Subscription) Cancel() { s.bus.unsubscribe(s.id) }

// HealthStatus summarises the bus for diagnostics
type HealthStatus struct {
	Healthy     bool      `json:"healthy"`
	LastSeq     uint64    `json:"last_seq"`
	Retained    int       `json:"retained"`
	Subscribers int       `json:"subscribers"`
	Dropped     uint64    `json:"dropped"`
	LastPublish time.Time `json:"last_publish,omitempty"`
}

// Bus fans published events out to subscribers and keeps the most recent
// ones for polling
type Bus struct {
	now func() time.Time

	mu          sync.RWMutex
	log         *ring.Buffer[Event]
	seq         uint64
	nextSubID   uint64
	subscribers map[uint64]*Subscription
	dropped     uint64
	lastPublish time.Time
	closed      bool
}

// NewBus creates a bus retaining up to capacity events
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus{
		now:         time.Now,
		log:         ring.New[Event](capacity),
		subscribers: make(map[uint64]*Subscription),
	}
}

// Publish assigns the next sequence number and delivers ev. Subscribers
// that cannot keep up lose the event rather than stall the publisher.
func (b *Bus) Publish(ev Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Event{}, ErrBusClosed
	}

	b.seq++
	ev.Seq = b.seq
	if ev.Time.IsZero() {
		ev.Time = b.now()
	}
	b.lastPublish = ev.Time
	b.log.Push(ev)

	for _, s := range b.subscribers {
		select {
		case s.ch <- ev:
		default:
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			b.dropped++
		}
	}
	return ev, nil
}

// Since returns retained events with Seq > after, oldest first, at most
// limit of them (0 for all). Events older than the retained log are gone.
func (b *Bus) Since(after uint64, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	b.log.Do(func(ev Event) bool {
		if ev.Seq > after {
			out = append(out, ev)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// Filter returns retained events of kind with Seq > after, newest last
func (b *Bus) Filter(kind Kind, after uint64, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	b.log.Do(func(ev Event) bool {
		if ev.Seq > after && ev.Kind == kind {
			out = append(out, ev)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

// LastSeq returns the sequence number of the newest event
func (b *Bus) LastSeq() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// Subscribe registers a push consumer with the given channel buffer
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	s := &Subscription{C: ch, id: b.nextSubID, ch: ch, bus: b}
	if b.closed {
		close(ch)
		return s
	}
	b.subscribers[s.id] = s
	return s
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(s.ch)
	}
}

// Health reports bus counters
func (b *Bus) Health() HealthStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return HealthStatus{
		Healthy:     !b.closed,
		LastSeq:     b.seq,
		Retained:    b.log.Len(),
		Subscribers: len(b.subscribers),
		Dropped:     b.dropped,
		LastPublish: b.lastPublish,
	}
}

// Close stops publishing and closes every subscription
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subscribers {
		delete(b.subscribers, id)
		close(s.ch)
	}
}
