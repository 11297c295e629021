package storage

import (
	"sort"
	"strconv"
	"strings"

	"github.com/taskforge/dispatchd/pkg/types"
)

func sortByCreatedAt(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

func sortByStatusUpdatedAt(tasks []*types.Task) {
	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StatusUpdatedAt.Before(tasks[j].StatusUpdatedAt)
	})
}

// isCleanupEligible reports whether a record in status s may be purged by
// the retention monitor. DeadLetter is deliberately excluded: invariant 5
// holds dead-lettered tasks until an operator clears or reprocesses them,
// so cleanup must never remove them on its own.
func isCleanupEligible(s types.Status) bool {
	switch s {
	case types.StatusCompleted, types.StatusFailed:
		return true
	default:
		return false
	}
}

// taskOrdinal parses the n out of an id of the form Task-<n>.
func taskOrdinal(taskID string) (int64, bool) {
	const prefix = "Task-"
	if !strings.HasPrefix(taskID, prefix) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimPrefix(taskID, prefix), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func tallyStatus(stats *types.Statistics, status types.Status) {
	stats.Total++
	switch status {
	case types.StatusPending:
		stats.Pending++
	case types.StatusInProgress:
		stats.InProgress++
	case types.StatusCompleted:
		stats.Completed++
	case types.StatusFailed:
		stats.Failed++
	case types.StatusDeadLetter:
		stats.DeadLetter++
	}
}
