package metrics

import "sync/atomic"

// queue is the bounded ingest channel between request handlers and the
// aggregator. Producers never block: when the channel is full the event is
// discarded and counted.
type queue struct {
	events  chan Event
	dropped atomic.Uint64
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{events: make(chan Event, capacity)}
}

// offer enqueues ev without blocking and reports whether it was accepted.
func (q *queue) offer(ev Event) bool {
	select {
	case q.events <- ev:
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// poll removes one pending event if any is queued.
func (q *queue) poll() (Event, bool) {
	select {
	case ev := <-q.events:
		return ev, true
	default:
		return Event{}, false
	}
}

// discard empties the queue and returns how many events were thrown away.
func (q *queue) discard() int {
	n := 0
	for {
		if _, ok := q.poll(); !ok {
			return n
		}
		n++
	}
}

func (q *queue) depth() int {
	return len(q.events)
}

func (q *queue) capacity() int {
	return cap(q.events)
}
