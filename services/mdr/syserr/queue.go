// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package syserr holds raised faults until the dispatch worker selects them.
package syserr

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/AleutianMDR/services/mdr/datatypes"
)

// PushResult reports what Push did with an occurrence.
type PushResult int

const (
	Queued PushResult = iota
	Duplicate
	Overflow
)

func (r PushResult) String() string {
	switch r {
	case Queued:
		return "queued"
	case Duplicate:
		return "duplicate"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Queue is the pending-fault queue.
//
// # Description
//
// Push never blocks. Wakeups are a non-blocking send on a 1-buffered
// channel, so any number of pushes between two waits collapse into one
// wakeup and the worker drains with SelectNext until empty.
//
// # Thread Safety
//
// Safe for concurrent use.
type Queue struct {
	mu         sync.Mutex
	pending    []datatypes.PendingFault
	maxPending int
	wake       chan struct{}
}

// NewQueue creates a queue. maxPending <= 0 means unbounded.
func NewQueue(maxPending int) *Queue {
	return &Queue{
		maxPending: maxPending,
		wake:       make(chan struct{}, 1),
	}
}

// Push appends p. With disallowDuplicate set, an occurrence whose modid
// is already pending is discarded.
func (q *Queue) Push(p datatypes.PendingFault, disallowDuplicate bool) PushResult {
	q.mu.Lock()
	if disallowDuplicate {
		for _, existing := range q.pending {
			if existing.ModID == p.ModID {
				q.mu.Unlock()
				return Duplicate
			}
		}
	}
	if q.maxPending > 0 && len(q.pending) >= q.maxPending {
		q.mu.Unlock()
		return Overflow
	}
	q.pending = append(q.pending, p)
	q.mu.Unlock()

	q.signal()
	return Queued
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// SelectNext removes and returns the pending fault with the numerically
// lowest priority. Ties go to the earliest entry.
//
// priorityOf is called with the queue lock held and must not touch the queue.
func (q *Queue) SelectNext(priorityOf func(modid uint32) int) (datatypes.PendingFault, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return datatypes.PendingFault{}, false
	}
	best := 0
	bestPrio := priorityOf(q.pending[0].ModID)
	for i := 1; i < len(q.pending); i++ {
		if prio := priorityOf(q.pending[i].ModID); prio < bestPrio {
			best, bestPrio = i, prio
		}
	}
	p := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	return p, true
}

// Wait blocks until a push signals, the timeout elapses, or ctx is done.
// It reports whether it was signalled.
func (q *Queue) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-q.wake:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Len returns the number of pending faults.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Empty reports whether nothing is pending.
func (q *Queue) Empty() bool {
	return q.Len() == 0
}

// Snapshot returns a copy of the pending faults in arrival order.
func (q *Queue) Snapshot() []datatypes.PendingFault {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]datatypes.PendingFault, len(q.pending))
	copy(out, q.pending)
	return out
}
