// Package eventlog provides the fixed-capacity history kept by the event bus.
// This package contains NO I/O and no locking; the owner serializes access.
package eventlog

// DefaultCapacity is the number of entries kept when no capacity is given.
const DefaultCapacity = 100

// Ring is a fixed-capacity ring buffer. When full, Push evicts the oldest entry.
type Ring[T any] struct {
	items []T
	head  int // index of the oldest entry
	size  int
}

// NewRing creates a ring holding at most capacity entries.
// A non-positive capacity falls back to DefaultCapacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring[T]{items: make([]T, capacity)}
}

// Push appends v, evicting the oldest entry when the ring is full.
func (r *Ring[T]) Push(v T) {
	if r.size < len(r.items) {
		r.items[(r.head+r.size)%len(r.items)] = v
		r.size++
		return
	}
	r.items[r.head] = v
	r.head = (r.head + 1) % len(r.items)
}

// Last returns a copy of the newest n entries, oldest first.
// n is capped at the number of stored entries; n <= 0 returns nil.
func (r *Ring[T]) Last(n int) []T {
	if n <= 0 || r.size == 0 {
		return nil
	}
	if n > r.size {
		n = r.size
	}
	out := make([]T, n)
	start := r.head + r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}

// Newest returns the most recent entry.
func (r *Ring[T]) Newest() (T, bool) {
	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[(r.head+r.size-1)%len(r.items)], true
}

// Len returns the number of stored entries.
func (r *Ring[T]) Len() int { return r.size }

// Cap returns the capacity of the ring.
func (r *Ring[T]) Cap() int { return len(r.items) }
