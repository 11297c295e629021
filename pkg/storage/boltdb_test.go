package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/dispatchd/pkg/types"
)

func newTestBoltStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBoltStoreSaveAndLoadPending(t *testing.T) {
	s := newTestBoltStore(t)
	require.NoError(t, s.Save(&types.Task{ID: "Task-0", Status: types.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-1", Status: types.StatusInProgress, CreatedAt: time.Now().Add(time.Second)}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-2", Status: types.StatusCompleted, CreatedAt: time.Now()}))

	pending, err := s.LoadPending()
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestBoltStoreUpdateStatusUnknownTask(t *testing.T) {
	s := newTestBoltStore(t)
	err := s.UpdateStatus("Task-missing", types.StatusCompleted, false, "")
	assert.Error(t, err)
}

func TestBoltStoreStatisticsMatchesTotals(t *testing.T) {
	s := newTestBoltStore(t)
	require.NoError(t, s.Save(&types.Task{ID: "Task-0", Status: types.StatusPending, CreatedAt: time.Now()}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-1", Status: types.StatusCompleted, CreatedAt: time.Now()}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-2", Status: types.StatusDeadLetter, CreatedAt: time.Now()}))

	stats, err := s.Statistics()
	require.NoError(t, err)
	assert.Equal(t, stats.Total, stats.Pending+stats.InProgress+stats.Completed+stats.Failed+stats.DeadLetter)
	assert.Equal(t, 3, stats.Total)
}

func TestBoltStoreSaveIsIdempotent(t *testing.T) {
	s := newTestBoltStore(t)
	task := &types.Task{ID: "Task-0", Status: types.StatusPending, CreatedAt: time.Now()}
	require.NoError(t, s.Save(task))
	require.NoError(t, s.Save(task))

	pending, err := s.LoadPending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestBoltStoreDeleteRemovesTask(t *testing.T) {
	s := newTestBoltStore(t)
	require.NoError(t, s.Save(&types.Task{ID: "Task-0", Status: types.StatusDeadLetter, CreatedAt: time.Now()}))
	require.NoError(t, s.Delete("Task-0"))

	dead, err := s.LoadDeadLetter()
	require.NoError(t, err)
	assert.Empty(t, dead)
}

func TestBoltStoreCleanupOldRemovesStaleTerminalRecords(t *testing.T) {
	s := newTestBoltStore(t)
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, s.Save(&types.Task{ID: "Task-0", Status: types.StatusFailed, CreatedAt: old, StatusUpdatedAt: old}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-1", Status: types.StatusPending, CreatedAt: old, StatusUpdatedAt: old}))

	removed, err := s.CleanupOld(time.Now().Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the terminal record is eligible for cleanup, not the pending one")

	stats, err := s.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
}

func TestBoltStoreMaxTaskOrdinalConsidersEveryStatus(t *testing.T) {
	s := newTestBoltStore(t)
	now := time.Now()
	require.NoError(t, s.Save(&types.Task{ID: "Task-5", Status: types.StatusPending, CreatedAt: now, StatusUpdatedAt: now}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-6", Status: types.StatusDeadLetter, CreatedAt: now, StatusUpdatedAt: now}))
	require.NoError(t, s.Save(&types.Task{ID: "Task-9", Status: types.StatusCompleted, CreatedAt: now, StatusUpdatedAt: now}))

	max, found, err := s.MaxTaskOrdinal()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(9), max)
}

func TestBoltStoreCleanupOldNeverRemovesDeadLetterRecords(t *testing.T) {
	s := newTestBoltStore(t)
	old := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, s.Save(&types.Task{ID: "Task-0", Status: types.StatusDeadLetter, CreatedAt: old, StatusUpdatedAt: old}))

	removed, err := s.CleanupOld(time.Now().Add(-7 * 24 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, removed, "dead-lettered tasks survive cleanup until an operator clears or reprocesses them")

	dead, err := s.LoadDeadLetter()
	require.NoError(t, err)
	assert.Len(t, dead, 1)
}
