// Package storage provides the crash-safe persistence layer for tasks,
// with two interchangeable backends: an embedded document store (bbolt)
// and a trio of append-rewrite JSON files.
package storage

import (
	"time"

	"github.com/taskforge/dispatchd/pkg/types"
)

// Store is the narrow persistence interface the dispatch server depends
// on. Implementations must serialize their own operations; callers never
// hold an external lock across a Store call.
type Store interface {
	// Save upserts a task record, keyed uniquely on its ID.
	Save(task *types.Task) error

	// UpdateStatus transitions a persisted task to a new status, updating
	// StatusUpdatedAt and (when retryIncrement is true) bumping RetryCount
	// and LastRetryAt. Returns an error if the task id is unknown.
	UpdateStatus(taskID string, status types.Status, retryIncrement bool, errMsg string) error

	// Delete removes a task record entirely.
	Delete(taskID string) error

	// LoadPending returns every task persisted as Pending or InProgress,
	// ordered by CreatedAt. InProgress tasks are returned here too: a
	// crash mid-dispatch leaves no record of which worker held them, so
	// they are re-queued on restart exactly like Pending tasks.
	LoadPending() ([]*types.Task, error)

	// LoadDeadLetter returns every task persisted as DeadLetter, ordered
	// by StatusUpdatedAt.
	LoadDeadLetter() ([]*types.Task, error)

	// MaxTaskOrdinal scans every persisted record, regardless of status,
	// and returns the largest n found in an id of the form Task-<n>. Used
	// at startup to seed the next-id counter strictly past every id ever
	// persisted, including ones that have already reached a terminal
	// status and so never appear in LoadPending or LoadDeadLetter.
	MaxTaskOrdinal() (int64, bool, error)

	// Statistics recomputes status counts from the full persisted set.
	Statistics() (types.Statistics, error)

	// CleanupOld deletes terminal (Completed, Failed) records with
	// StatusUpdatedAt older than cutoff, returning the count removed.
	// DeadLetter records are never purged by cleanup: invariant 5 holds
	// them until an operator explicitly clears or reprocesses them.
	CleanupOld(cutoff time.Time) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
