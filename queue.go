package clogger

import (
	"slices"
	"sync"
)

// lockableSlice is a thread-safe, unbounded work queue: appends never
// block, and Prune atomically drains the whole queue for processing.
// It is not a durable queue: anything still queued when the process exits
// is lost and must be re-requested.
type lockableSlice[T any] struct {
	data []T
	mu   sync.Mutex
}

// Append adds v to the queue.
func (l *lockableSlice[T]) Append(v T) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = append(l.data, v)
}

// Prune returns and clears the queue's contents.
func (l *lockableSlice[T]) Prune() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := slices.Clone(l.data)
	l.data = nil
	return c
}

// Len reports the queue's current length without draining it.
func (l *lockableSlice[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.data)
}

// backfillRequest asks the backfill worker to extend the log backward far
// enough to include target, stamping newly added rows with stamp.
type backfillRequest struct {
	target string
	stamp  bool
}

// deletionRequest asks the deleter worker to retire every row at or below
// the revnum of boundary (inclusive).
type deletionRequest struct {
	boundary string
}
