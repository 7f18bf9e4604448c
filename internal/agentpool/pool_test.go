package agentpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/errs"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

func TestSpawnFailsAtCapacity(t *testing.T) {
	p := New(1)
	_, err := p.Spawn(model.AgentCoder, model.ModelConfig{})
	require.NoError(t, err)

	_, err = p.Spawn(model.AgentCoder, model.ModelConfig{})
	require.Error(t, err)
	var capErr *errs.CapacityError
	assert.ErrorAs(t, err, &capErr)
}

func TestAssignRequiresIdleAgent(t *testing.T) {
	p := New(2)
	a, err := p.Spawn(model.AgentCoder, model.ModelConfig{})
	require.NoError(t, err)

	_, err = p.Assign(a.ID, "task1", "/tmp/wt")
	require.NoError(t, err)

	_, err = p.Assign(a.ID, "task2", "/tmp/wt2")
	require.Error(t, err, "second assign while already assigned should fail")
	var stateErr *errs.InvalidStateError
	assert.ErrorAs(t, err, &stateErr)
}

func TestReleaseReturnsAgentToIdleAndUpdatesMetrics(t *testing.T) {
	p := New(1)
	a, err := p.Spawn(model.AgentCoder, model.ModelConfig{})
	require.NoError(t, err)
	_, err = p.Assign(a.ID, "task1", "")
	require.NoError(t, err)

	released, err := p.Release(a.ID, true, 5, 100, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, model.AgentIdle, released.Status)
	assert.Empty(t, released.CurrentTaskID)
	assert.Equal(t, 1, released.Metrics.TasksCompleted)
	assert.Equal(t, 5, released.Metrics.TotalIterations)
}

func TestGetAvailablePrefersMostRecentlyUsed(t *testing.T) {
	p := New(2)
	a1, _ := p.Spawn(model.AgentCoder, model.ModelConfig{})
	a2, _ := p.Spawn(model.AgentCoder, model.ModelConfig{})

	_, err := p.Assign(a1.ID, "t1", "")
	require.NoError(t, err)
	_, err = p.Release(a1.ID, true, 1, 1, time.Millisecond)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)

	_, err = p.Assign(a2.ID, "t2", "")
	require.NoError(t, err)
	_, err = p.Release(a2.ID, true, 1, 1, time.Millisecond)
	require.NoError(t, err)

	avail, ok := p.GetAvailable()
	require.True(t, ok)
	assert.Equal(t, a2.ID, avail.ID)
}

func TestTerminateRemovesAgent(t *testing.T) {
	p := New(1)
	a, err := p.Spawn(model.AgentCoder, model.ModelConfig{})
	require.NoError(t, err)

	require.NoError(t, p.Terminate(a.ID))
	assert.Equal(t, 0, p.Size())

	_, ok := p.GetByID(a.ID)
	assert.False(t, ok)
}
