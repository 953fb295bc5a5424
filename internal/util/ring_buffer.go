// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"sync"
)

// RingBuffer is a thread-safe, fixed-size circular buffer.
//
// # Description
//
// Items are appended at the tail. When the buffer is full, Push overwrites
// the oldest item and increments DroppedCount. Snapshot returns the
// contents oldest-first without consuming them, which is what the
// diagnostic log window needs: every reader sees the same recent history.
//
// # Thread Safety
//
// All methods are protected by a mutex.
//
// # Limitations
//
//   - Fixed capacity, allocated up front.
//   - Dropped items cannot be recovered.
type RingBuffer[T any] struct {
	buffer   []T
	head     int
	size     int
	capacity int
	dropped  int64
	mu       sync.Mutex
}

// NewRingBuffer creates a ring buffer holding up to capacity items.
//
// # Panics
//
// Panics if capacity <= 0.
func NewRingBuffer[T any](capacity int) *RingBuffer[T] {
	if capacity <= 0 {
		panic("ring buffer capacity must be positive")
	}
	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Push appends item. Returns true if the oldest item was dropped to make room.
func (r *RingBuffer[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	tail := (r.head + r.size) % r.capacity
	r.buffer[tail] = item
	if r.size == r.capacity {
		r.head = (r.head + 1) % r.capacity
		r.dropped++
		return true
	}
	r.size++
	return false
}

// Pop removes and returns the oldest item.
func (r *RingBuffer[T]) Pop() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	item := r.buffer[r.head]
	r.buffer[r.head] = zero
	r.head = (r.head + 1) % r.capacity
	r.size--
	return item, true
}

// Snapshot returns a copy of the contents, oldest first.
func (r *RingBuffer[T]) Snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buffer[(r.head+i)%r.capacity]
	}
	return out
}

// Drain removes and returns all items, oldest first.
func (r *RingBuffer[T]) Drain() []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		idx := (r.head + i) % r.capacity
		out[i] = r.buffer[idx]
		r.buffer[idx] = zero
	}
	r.head = 0
	r.size = 0
	return out
}

// Size returns the number of buffered items.
func (r *RingBuffer[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the maximum number of items.
func (r *RingBuffer[T]) Capacity() int {
	return r.capacity
}

// DroppedCount returns how many items were overwritten since creation or
// the last Clear.
func (r *RingBuffer[T]) DroppedCount() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Clear empties the buffer and resets the dropped count.
func (r *RingBuffer[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.buffer {
		r.buffer[i] = zero
	}
	r.head = 0
	r.size = 0
	r.dropped = 0
}
