package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/taskforge/dispatchd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketTasks = []byte("tasks")

// BoltStore implements Store on top of an embedded bbolt database, one
// document per task keyed on task id.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "dispatchd.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketTasks)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create tasks bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Save upserts a task record.
func (s *BoltStore) Save(task *types.Task) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

// UpdateStatus loads, mutates, and rewrites a single task record within one
// transaction so a reader never observes a half-updated status.
func (s *BoltStore) UpdateStatus(taskID string, status types.Status, retryIncrement bool, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(taskID))
		if data == nil {
			return fmt.Errorf("task not found: %s", taskID)
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("decode task %s: %w", taskID, err)
		}

		now := time.Now()
		task.Status = status
		task.StatusUpdatedAt = now
		task.ErrorMessage = errMsg
		if retryIncrement {
			task.RetryCount++
			task.LastRetryAt = &now
		}

		updated, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		return b.Put([]byte(taskID), updated)
	})
}

// Delete removes a task record.
func (s *BoltStore) Delete(taskID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.Delete([]byte(taskID))
	})
}

// LoadPending returns all Pending and InProgress tasks, ordered by CreatedAt.
func (s *BoltStore) LoadPending() ([]*types.Task, error) {
	tasks, err := s.scan(func(t *types.Task) bool {
		return t.Status == types.StatusPending || t.Status == types.StatusInProgress
	})
	if err != nil {
		return nil, err
	}
	sortByCreatedAt(tasks)
	return tasks, nil
}

// LoadDeadLetter returns all DeadLetter tasks, ordered by StatusUpdatedAt.
func (s *BoltStore) LoadDeadLetter() ([]*types.Task, error) {
	tasks, err := s.scan(func(t *types.Task) bool {
		return t.Status == types.StatusDeadLetter
	})
	if err != nil {
		return nil, err
	}
	sortByStatusUpdatedAt(tasks)
	return tasks, nil
}

// MaxTaskOrdinal scans every key in the bucket, regardless of status, and
// returns the largest n found in a key of the form Task-<n>.
func (s *BoltStore) MaxTaskOrdinal() (int64, bool, error) {
	var max int64
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(k, _ []byte) error {
			n, ok := taskOrdinal(string(k))
			if !ok {
				return nil
			}
			if !found || n > max {
				max = n
				found = true
			}
			return nil
		})
	})
	return max, found, err
}

// Statistics recomputes status counts across the full bucket.
func (s *BoltStore) Statistics() (types.Statistics, error) {
	stats := types.Statistics{GeneratedAt: time.Now()}
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(_, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			tallyStatus(&stats, t.Status)
			return nil
		})
	})
	return stats, err
}

// CleanupOld deletes Completed/Failed records older than cutoff, returning
// the count removed. DeadLetter records are never touched.
func (s *BoltStore) CleanupOld(cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if isCleanupEligible(t.Status) && t.StatusUpdatedAt.Before(cutoff) {
				key := append([]byte(nil), k...)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

func (s *BoltStore) scan(keep func(*types.Task) bool) ([]*types.Task, error) {
	var tasks []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		return b.ForEach(func(_, v []byte) error {
			var t types.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if keep(&t) {
				tasks = append(tasks, &t)
			}
			return nil
		})
	})
	return tasks, err
}
