package metrics

import "sync"

// Ring is a fixed-capacity circular buffer. Pushing into a full ring
// overwrites the oldest entry. Entries are always kept in push order.
type Ring[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	count int
}

// NewRing allocates a ring holding at most capacity entries. The backing
// storage is reserved up front so memory use does not grow over time.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when the ring is full.
func (r *Ring[T]) Push(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
	if r.count < len(r.items) {
		r.count++
	}
}

// Len returns the number of retained entries.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Cap returns the fixed capacity.
func (r *Ring[T]) Cap() int {
	return len(r.items)
}

// ReadRange returns up to limit entries starting at logical index from, where
// index 0 is the oldest entry still retained. Out of range arguments are
// clamped; a from past the end yields an empty slice.
func (r *Ring[T]) ReadRange(from, limit int) []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if from < 0 {
		from = 0
	}
	if limit <= 0 || from >= r.count {
		return []T{}
	}
	if n := r.count - from; limit > n {
		limit = n
	}

	out := make([]T, limit)
	start := r.oldest() + from
	for i := 0; i < limit; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

// Latest returns the most recently pushed entry.
func (r *Ring[T]) Latest() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		var zero T
		return zero, false
	}
	return r.items[(r.head-1+len(r.items))%len(r.items)], true
}

// Scan calls fn for up to limit entries, newest first, while holding the read
// lock. Iteration stops early when fn returns false. fn must not block.
func (r *Ring[T]) Scan(limit int, fn func(T) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > r.count {
		limit = r.count
	}
	for i := 0; i < limit; i++ {
		idx := (r.head - 1 - i + 2*len(r.items)) % len(r.items)
		if !fn(r.items[idx]) {
			return
		}
	}
}

func (r *Ring[T]) oldest() int {
	return (r.head - r.count + len(r.items)) % len(r.items)
}
