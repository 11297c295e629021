// Package queue provides the two FIFO containers the dispatcher and
// operator console share: the ready queue and the dead-letter queue.
package queue

import (
	"sync"

	"github.com/taskforge/dispatchd/pkg/types"
)

// Queue is a concurrent, insertion-ordered FIFO of tasks. Push and TryPop
// never block; TryPop reports whether an item was available.
type Queue struct {
	mu    sync.Mutex
	items []*types.Task
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{}
}

// Push appends a task to the tail.
func (q *Queue) Push(task *types.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, task)
}

// Peek returns the head task without removing it, or nil if empty.
func (q *Queue) Peek() *types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// TryPop removes and returns the head task if it matches taskID, reporting
// whether the removal happened. Callers re-peek and re-check before
// dispatching so a concurrently-removed head is never double-assigned.
func (q *Queue) TryPop(taskID string) (*types.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != taskID {
		return nil, false
	}
	task := q.items[0]
	q.items = q.items[1:]
	return task, true
}

// Remove deletes a task by id from anywhere in the queue, returning
// whether it was found.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.items {
		if t.ID == taskID {
			q.items = append(q.items[:i:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the current number of queued tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a shallow copy of the current queue contents, safe to
// range over without holding the queue's lock.
func (q *Queue) Snapshot() []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*types.Task, len(q.items))
	copy(out, q.items)
	return out
}

// DeadLetterQueue is a Queue by another name, kept distinct at the type
// level so callers cannot pass a ready queue where a dead-letter queue is
// expected (the dispatcher only ever reads the ready queue).
type DeadLetterQueue struct {
	Queue
}

// NewDeadLetter returns an empty dead-letter queue.
func NewDeadLetter() *DeadLetterQueue {
	return &DeadLetterQueue{}
}

// Drain removes and returns every queued task, emptying the queue. Used by
// the operator's reprocess-deadletter command.
func (q *DeadLetterQueue) Drain() []*types.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

// Clear empties the queue without returning its contents. Used by the
// operator's clear-deadletter command.
func (q *DeadLetterQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}
