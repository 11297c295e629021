package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskforge/dispatchd/pkg/types"
)

func TestQueuePushOrderPreserved(t *testing.T) {
	q := New()
	q.Push(&types.Task{ID: "Task-0"})
	q.Push(&types.Task{ID: "Task-1"})
	q.Push(&types.Task{ID: "Task-2"})

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, "Task-0", q.Peek().ID)
}

func TestQueueTryPopRequiresMatchingHead(t *testing.T) {
	q := New()
	q.Push(&types.Task{ID: "Task-0"})
	q.Push(&types.Task{ID: "Task-1"})

	_, ok := q.TryPop("Task-1")
	assert.False(t, ok, "TryPop must refuse to dequeue a non-head task")
	assert.Equal(t, 2, q.Len())

	task, ok := q.TryPop("Task-0")
	require.True(t, ok)
	assert.Equal(t, "Task-0", task.ID)
	assert.Equal(t, 1, q.Len())
}

func TestQueueTryPopOnEmpty(t *testing.T) {
	q := New()
	_, ok := q.TryPop("Task-0")
	assert.False(t, ok)
}

func TestQueueRemoveFromMiddle(t *testing.T) {
	q := New()
	q.Push(&types.Task{ID: "Task-0"})
	q.Push(&types.Task{ID: "Task-1"})
	q.Push(&types.Task{ID: "Task-2"})

	require.True(t, q.Remove("Task-1"))
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.Remove("Task-1"), "removing an absent id reports false")

	ids := make([]string, 0, 2)
	for _, t := range q.Snapshot() {
		ids = append(ids, t.ID)
	}
	assert.Equal(t, []string{"Task-0", "Task-2"}, ids)
}

func TestDeadLetterDrainEmptiesQueue(t *testing.T) {
	dlq := NewDeadLetter()
	dlq.Push(&types.Task{ID: "Task-5"})
	dlq.Push(&types.Task{ID: "Task-6"})

	drained := dlq.Drain()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, dlq.Len())
}

func TestDeadLetterClearReturnsCount(t *testing.T) {
	dlq := NewDeadLetter()
	dlq.Push(&types.Task{ID: "Task-5"})
	dlq.Push(&types.Task{ID: "Task-6"})

	assert.Equal(t, 2, dlq.Clear())
	assert.Equal(t, 0, dlq.Len())
}
