package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskforge/dispatchd/pkg/types"
)

const (
	pendingFile    = "tasks_pending.json"
	completedFile  = "tasks_completed.json"
	deadLetterFile = "tasks_deadletter.json"
	statisticsFile = "statistics.json"
)

// FileStore implements Store as three JSON-array files (pending, completed,
// deadletter) plus a statistics snapshot. Save and Delete rewrite whichever
// file owns the task's current status whole, never leaving a half-written
// record on disk. The dead-letter audit log is a separate component
// (DeadLetterAuditLog) shared with BoltStore, not owned by FileStore.
type FileStore struct {
	mu      sync.Mutex
	dataDir string
}

// NewFileStore returns a FileStore rooted at dataDir, creating it if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// Close is a no-op: every operation already flushes to disk synchronously.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dataDir, name)
}

func fileForStatus(status types.Status) string {
	switch status {
	case types.StatusPending, types.StatusInProgress:
		return pendingFile
	case types.StatusCompleted, types.StatusFailed:
		return completedFile
	case types.StatusDeadLetter:
		return deadLetterFile
	default:
		return pendingFile
	}
}

// readAll loads a JSON-array file. A missing or corrupt file is treated as
// empty rather than an error, per the recoverability requirement.
func readAll(path string) []*types.Task {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var tasks []*types.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil
	}
	return tasks
}

// writeAll atomically rewrites a JSON-array file: write to a temp file in
// the same directory, then rename over the target, so a crash mid-write
// cannot leave a half-parseable file in place.
func writeAll(path string, tasks []*types.Task) error {
	if tasks == nil {
		tasks = []*types.Task{}
	}
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) loadAllUnlocked() (pending, completed, deadletter []*types.Task) {
	pending = readAll(s.path(pendingFile))
	completed = readAll(s.path(completedFile))
	deadletter = readAll(s.path(deadLetterFile))
	return
}

// findAndRemoveUnlocked scans every file for taskID, returning it and the name of
// the file it was removed from, or nil if not found.
func (s *FileStore) findAndRemoveUnlocked(taskID string) (*types.Task, string) {
	for _, name := range []string{pendingFile, completedFile, deadLetterFile} {
		tasks := readAll(s.path(name))
		for i, t := range tasks {
			if t.ID == taskID {
				rest := append(tasks[:i:i], tasks[i+1:]...)
				if err := writeAll(s.path(name), rest); err != nil {
					return nil, ""
				}
				return t, name
			}
		}
	}
	return nil, ""
}

// Save upserts task into the file matching its current status, removing it
// from any other file it might currently live in.
func (s *FileStore) Save(task *types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := fileForStatus(task.Status)
	for _, name := range []string{pendingFile, completedFile, deadLetterFile} {
		tasks := readAll(s.path(name))
		idx := -1
		for i, t := range tasks {
			if t.ID == task.ID {
				idx = i
				break
			}
		}
		switch {
		case name == target && idx >= 0:
			tasks[idx] = task
			if err := writeAll(s.path(name), tasks); err != nil {
				return err
			}
			return nil
		case name == target && idx < 0:
			tasks = append(tasks, task)
			if err := writeAll(s.path(name), tasks); err != nil {
				return err
			}
			return nil
		case name != target && idx >= 0:
			tasks = append(tasks[:idx:idx], tasks[idx+1:]...)
			if err := writeAll(s.path(name), tasks); err != nil {
				return err
			}
		}
	}
	return nil
}

// UpdateStatus finds the task wherever it currently lives, mutates it, and
// re-saves it into the file matching its new status.
func (s *FileStore) UpdateStatus(taskID string, status types.Status, retryIncrement bool, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, _ := s.findAndRemoveUnlocked(taskID)
	if task == nil {
		return fmt.Errorf("task not found: %s", taskID)
	}

	now := time.Now()
	task.Status = status
	task.StatusUpdatedAt = now
	task.ErrorMessage = errMsg
	if retryIncrement {
		task.RetryCount++
		task.LastRetryAt = &now
	}

	// The task was just removed from every file, so appending it to the
	// file for its new status is the same upsert Save performs.
	target := s.path(fileForStatus(task.Status))
	return writeAll(target, append(readAll(target), task))
}

// Delete removes a task from whichever file currently holds it.
func (s *FileStore) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findAndRemoveUnlocked(taskID)
	return nil
}

// LoadPending returns all Pending and InProgress tasks, ordered by CreatedAt.
func (s *FileStore) LoadPending() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := readAll(s.path(pendingFile))
	out := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == types.StatusPending || t.Status == types.StatusInProgress {
			out = append(out, t)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

// LoadDeadLetter returns all DeadLetter tasks, ordered by StatusUpdatedAt.
func (s *FileStore) LoadDeadLetter() ([]*types.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := readAll(s.path(deadLetterFile))
	sortByStatusUpdatedAt(tasks)
	return tasks, nil
}

// MaxTaskOrdinal scans every record in all three files, regardless of
// status, and returns the largest n found in an id of the form Task-<n>.
func (s *FileStore) MaxTaskOrdinal() (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var max int64
	found := false
	pending, completed, deadletter := s.loadAllUnlocked()
	for _, tasks := range [][]*types.Task{pending, completed, deadletter} {
		for _, t := range tasks {
			n, ok := taskOrdinal(t.ID)
			if !ok {
				continue
			}
			if !found || n > max {
				max = n
				found = true
			}
		}
	}
	return max, found, nil
}

// Statistics recomputes status counts across all three files and writes a
// snapshot to statistics.json for operator inspection between runs.
func (s *FileStore) Statistics() (types.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := types.Statistics{GeneratedAt: time.Now()}
	pending, completed, deadletter := s.loadAllUnlocked()
	for _, t := range pending {
		tallyStatus(&stats, t.Status)
	}
	for _, t := range completed {
		tallyStatus(&stats, t.Status)
	}
	for _, t := range deadletter {
		tallyStatus(&stats, t.Status)
	}

	if data, err := json.MarshalIndent(&stats, "", "  "); err == nil {
		_ = os.WriteFile(s.path(statisticsFile), data, 0644)
	}
	return stats, nil
}

// CleanupOld removes Completed/Failed records older than cutoff from the
// completed file, returning the count removed. The deadletter file is
// never touched: invariant 5 holds dead-lettered tasks until an operator
// clears or reprocesses them.
func (s *FileStore) CleanupOld(cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, name := range []string{completedFile} {
		tasks := readAll(s.path(name))
		kept := tasks[:0:0]
		for _, t := range tasks {
			if isCleanupEligible(t.Status) && t.StatusUpdatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if err := writeAll(s.path(name), kept); err != nil {
			return removed, err
		}
	}
	return removed, nil
}
