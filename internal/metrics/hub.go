package metrics

import (
	"crypto/rand"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// ErrHubClosed is returned by Subscribe after the hub has shut down.
var ErrHubClosed = errors.New("broadcast hub closed")

// Subscriber is one live feed consumer registered with a Hub. Snapshots are
// delivered on C in publish order. The channel is closed when the subscriber
// is removed or the hub shuts down.
type Subscriber struct {
	id      string
	filter  map[MeasurementType]struct{}
	ch      chan Snapshot
	dropped atomic.Uint64
}

// ID returns the subscriber's unique identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the delivery channel.
func (s *Subscriber) C() <-chan Snapshot { return s.ch }

// Dropped returns how many snapshots were discarded because this subscriber
// fell behind.
func (s *Subscriber) Dropped() uint64 { return s.dropped.Load() }

// Wants reports whether snapshots of type t pass the subscriber's filter.
func (s *Subscriber) Wants(t MeasurementType) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// deliver hands snap to the subscriber without blocking. When the buffer is
// full the oldest pending snapshot is discarded to make room.
func (s *Subscriber) deliver(snap Snapshot) {
	for {
		select {
		case s.ch <- snap:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Hub fans completed snapshots out to independently paced subscribers.
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]*Subscriber
	bufferSize int
	closed     bool
}

// NewHub creates a hub whose subscribers each buffer up to bufferSize
// snapshots.
func NewHub(bufferSize int) *Hub {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Hub{
		subs:       make(map[string]*Subscriber),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new subscriber. With no types given every snapshot is
// delivered.
func (h *Hub) Subscribe(types ...MeasurementType) (*Subscriber, error) {
	sub := &Subscriber{
		id: ulid.MustNew(ulid.Now(), rand.Reader).String(),
		ch: make(chan Snapshot, h.bufferSize),
	}
	if len(types) > 0 {
		sub.filter = make(map[MeasurementType]struct{}, len(types))
		for _, t := range types {
			sub.filter[t] = struct{}{}
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.subs[sub.id] = sub
	return sub, nil
}

// Unsubscribe removes sub from the fan-out set and closes its channel. It is
// safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; !ok {
		return
	}
	delete(h.subs, sub.id)
	close(sub.ch)
}

// Publish delivers each snapshot to every subscriber whose filter matches.
// It never blocks on a slow subscriber.
func (h *Hub) Publish(snapshots ...Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		for _, snap := range snapshots {
			if sub.Wants(snap.Type) {
				sub.deliver(snap)
			}
		}
	}
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscriber channel and rejects new subscriptions.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}
