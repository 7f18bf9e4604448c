package taskqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

func task(id string, priority int, deps ...string) model.Task {
	return model.Task{ID: id, Priority: priority, Dependencies: deps}
}

func TestDequeueReturnsHighestPriorityReadyTask(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("b", 5), 0))
	require.NoError(t, q.Enqueue(task("a", 1), 0))

	got, ok := q.Dequeue(0)
	require.True(t, ok)
	assert.Equal(t, "a", got.ID)
}

func TestDequeueTieBreaksByInsertionOrder(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("first", 1), 0))
	require.NoError(t, q.Enqueue(task("second", 1), 0))

	got, ok := q.Dequeue(0)
	require.True(t, ok)
	assert.Equal(t, "first", got.ID)
}

func TestDequeueWaitsOnUnsatisfiedDependencies(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("base", 1), 0))
	require.NoError(t, q.Enqueue(task("dependent", 1, "base"), 0))

	got, ok := q.Dequeue(0)
	require.True(t, ok)
	assert.Equal(t, "base", got.ID, "dependent should not be ready until base completes")

	q.MarkComplete("base")
	got, ok = q.Dequeue(0)
	require.True(t, ok)
	assert.Equal(t, "dependent", got.ID)
}

func TestDequeueRespectsWaveBoundary(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("wave0", 1), 0))
	require.NoError(t, q.Enqueue(task("wave1", 1), 1))

	got, ok := q.Dequeue(0)
	require.True(t, ok)
	assert.Equal(t, "wave0", got.ID)

	_, ok = q.Dequeue(0)
	assert.False(t, ok, "wave1 task should not be ready while current wave is 0")
}

func TestEnqueueRejectsUnknownDependency(t *testing.T) {
	q := New()
	err := q.Enqueue(task("dependent", 1, "missing"), 0)
	assert.Error(t, err)
}

func TestIsBlockedDetectsTransitiveFailedAncestor(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("root", 1), 0))
	require.NoError(t, q.Enqueue(task("mid", 1, "root"), 0))
	require.NoError(t, q.Enqueue(task("leaf", 1, "mid"), 0))

	q.MarkFailed("root")
	assert.True(t, q.IsBlocked("mid"))
	assert.True(t, q.IsBlocked("leaf"))
}

func TestMarkCompleteRemovesFromHeap(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("a", 1), 0))
	assert.Equal(t, 1, q.Size())

	q.MarkComplete("a")
	assert.Equal(t, 0, q.Size())
	assert.True(t, q.IsEmpty())
}

func TestGetByWaveOrdersByPriorityThenInsertion(t *testing.T) {
	q := New()
	require.NoError(t, q.Enqueue(task("c", 3), 0))
	require.NoError(t, q.Enqueue(task("a", 1), 0))
	require.NoError(t, q.Enqueue(task("b", 1), 0))

	tasks := q.GetByWave(0)
	require.Len(t, tasks, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{tasks[0].ID, tasks[1].ID, tasks[2].ID})
}
