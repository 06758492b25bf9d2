package gsmnet

import (
	"runtime"
	"sync/atomic"
)

// RingBuffer is a fixed capacity FIFO queue for a single producer and a
// single consumer. One slot is always kept empty to tell a full buffer from
// an empty one, so a buffer of capacity N holds at most N-1 items and
// Size()+Free() == Capacity()-1 at all times.
//
// The two cursors are atomics, which makes the buffer safe when the producer
// and the consumer run on different goroutines. More than one producer or
// more than one consumer is not supported.
type RingBuffer[T any] struct {
	items []T
	head  atomic.Uint32 // next slot to read, owned by the consumer
	tail  atomic.Uint32 // next slot to write, owned by the producer
}

// NewRingBuffer allocates a ring buffer with the given capacity. Capacities
// below 2 are raised to 2 so the buffer can hold at least one item.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity < 2 {
		capacity = 2
	}
	return &RingBuffer[T]{items: make([]T, capacity)}
}

func (r *RingBuffer[T]) next(i uint32) uint32 {
	return (i + 1) % uint32(len(r.items))
}

// Capacity returns the number of slots, one more than the usable space.
func (r *RingBuffer[T]) Capacity() int {
	return len(r.items)
}

// Size returns the number of items ready to be read.
func (r *RingBuffer[T]) Size() int {
	n := uint32(len(r.items))
	return int((r.tail.Load() + n - r.head.Load()) % n)
}

// Free returns the number of items that can be written before the buffer is full.
func (r *RingBuffer[T]) Free() int {
	return len(r.items) - 1 - r.Size()
}

// Put appends one item. It returns false when the buffer is full.
func (r *RingBuffer[T]) Put(item T) bool {
	t := r.tail.Load()
	nt := r.next(t)
	if nt == r.head.Load() {
		return false
	}
	r.items[t] = item
	r.tail.Store(nt)
	return true
}

// PutSlice appends items in order and returns how many were written. Without
// blocking it stops at the first item that does not fit. With blocking it
// waits for the consumer to make room until every item is written.
func (r *RingBuffer[T]) PutSlice(items []T, blocking bool) int {
	n := 0
	for n < len(items) {
		if r.Put(items[n]) {
			n++
			continue
		}
		if !blocking {
			break
		}
		runtime.Gosched()
	}
	return n
}

// Get removes the oldest item. ok is false when the buffer is empty.
func (r *RingBuffer[T]) Get() (item T, ok bool) {
	h := r.head.Load()
	if h == r.tail.Load() {
		return item, false
	}
	item = r.items[h]
	var zero T
	r.items[h] = zero
	r.head.Store(r.next(h))
	return item, true
}

// GetSlice fills buf with the oldest items and returns how many were read.
// Without blocking it returns as soon as the buffer runs empty. With blocking
// it waits for the producer until buf is full.
func (r *RingBuffer[T]) GetSlice(buf []T, blocking bool) int {
	n := 0
	for n < len(buf) {
		item, ok := r.Get()
		if ok {
			buf[n] = item
			n++
			continue
		}
		if !blocking {
			break
		}
		runtime.Gosched()
	}
	return n
}

// Clear drops every buffered item. It must be called from the consumer side.
func (r *RingBuffer[T]) Clear() {
	r.head.Store(r.tail.Load())
}
