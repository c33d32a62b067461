package buffer

import (
	"sync"

	"go.uber.org/zap"
)

// RingBuffer is a fixed-capacity FIFO safe for concurrent use. When full, Add drops the
// oldest item.
type RingBuffer[T any] struct {
	mu      sync.Mutex
	items   []T
	start   int
	count   int
	dropped uint64
	logger  *zap.Logger
}

// New creates a RingBuffer holding at most capacity items. Capacity below one is raised to one.
func New[T any](capacity int, logger *zap.Logger) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		items:  make([]T, capacity),
		logger: logger,
	}
}

// Add appends item, evicting the oldest one when the buffer is full
func (rb *RingBuffer[T]) Add(item T) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	capacity := len(rb.items)
	if rb.count == capacity {
		rb.items[rb.start] = item
		rb.start = (rb.start + 1) % capacity
		rb.dropped++
		rb.logger.Warn("ring buffer full, dropped oldest item",
			zap.Int("capacity", capacity),
			zap.Uint64("dropped_total", rb.dropped))
		return
	}

	rb.items[(rb.start+rb.count)%capacity] = item
	rb.count++
}

// Drain removes and returns every buffered item, oldest first
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := rb.ordered()
	var zero T
	for i := range rb.items {
		rb.items[i] = zero
	}
	rb.start, rb.count = 0, 0
	return out
}

func (rb *RingBuffer[T]) ordered() []T {
	if rb.count == 0 {
		return nil
	}
	out := make([]T, rb.count)
	for i := range out {
		out[i] = rb.items[(rb.start+i)%len(rb.items)]
	}
	return out
}

// Len is the number of buffered items
func (rb *RingBuffer[T]) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Cap is the fixed capacity
func (rb *RingBuffer[T]) Cap() int {
	return len(rb.items)
}

// Dropped counts items evicted by Add since creation
func (rb *RingBuffer[T]) Dropped() uint64 {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dropped
}
