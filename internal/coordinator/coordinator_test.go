package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/agentpool"
	"github.com/omarkhaled-auto/nexus/internal/eventbus"
	"github.com/omarkhaled-auto/nexus/internal/model"
	"github.com/omarkhaled-auto/nexus/internal/runner"
)

// alwaysCompleteLLM answers every prompt with the universal completion
// marker so a runner finishes in a single iteration.
type alwaysCompleteLLM struct{}

func (alwaysCompleteLLM) Chat(req model.ChatRequest) (model.ChatResponse, error) {
	return model.ChatResponse{Content: "Done. [TASK_COMPLETE]", Usage: model.TokenUsage{TotalTokens: 5}}, nil
}

// neverCompleteLLM never emits a completion marker, forcing the runner to
// escalate once it exhausts its iteration bound.
type neverCompleteLLM struct{}

func (neverCompleteLLM) Chat(req model.ChatRequest) (model.ChatResponse, error) {
	return model.ChatResponse{Content: "still working...", Usage: model.TokenUsage{TotalTokens: 5}}, nil
}

func waitForEvent(t *testing.T, bus *eventbus.Bus, want model.EventType, timeout time.Duration) model.Event {
	t.Helper()
	ch := make(chan model.Event, 1)
	unsub := bus.On(want, func(e model.Event) {
		select {
		case ch <- e:
		default:
		}
	})
	defer unsub()

	select {
	case e := <-ch:
		return e
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for event %s", want)
		return model.Event{}
	}
}

func newTestRunner(llm model.LLMClient, bus *eventbus.Bus, maxIter int) *runner.Runner {
	return runner.New(llm, bus, nil, nil, runner.Config{MaxIterations: maxIter, Timeout: 5 * time.Second})
}

func newTestPool(t *testing.T, capacity int) *agentpool.Pool {
	t.Helper()
	p := agentpool.New(capacity)
	for i := 0; i < capacity; i++ {
		_, err := p.Spawn(model.AgentCoder, model.ModelConfig{})
		require.NoError(t, err)
	}
	return p
}

func TestCoordinator_SingleWaveCompletesAllTasks(t *testing.T) {
	bus := eventbus.New()
	pool := newTestPool(t, 2)
	r := newTestRunner(alwaysCompleteLLM{}, bus, 5)
	c := New("proj-1", bus, pool, r, nil, Config{})

	err := c.Initialize([]model.Task{
		{ID: "A", Name: "task a"},
		{ID: "B", Name: "task b"},
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	waitForEvent(t, bus, model.EventCoordinatorStopped, 2*time.Second)

	require.Equal(t, model.StateIdle, c.GetStatus())
	progress := c.GetProgress()
	require.Equal(t, 2, progress.Completed)
	require.Equal(t, 0, progress.Pending)
}

func TestCoordinator_DependencyFilesFeedDependentTask(t *testing.T) {
	bus := eventbus.New()
	pool := newTestPool(t, 1)
	r := newTestRunner(alwaysCompleteLLM{}, bus, 5)
	c := New("proj-deps", bus, pool, r, nil, Config{})

	err := c.Initialize([]model.Task{
		{ID: "A", Name: "dependency", Files: []string{"a.go", "a_test.go"}},
		{ID: "B", Name: "dependent", Dependencies: []string{"A"}, Files: []string{"b.go"}},
	})
	require.NoError(t, err)

	taskB, ok := c.queue.Get("B")
	require.True(t, ok)
	require.Equal(t, []string{"a.go", "a_test.go"}, c.dependencyFiles(taskB))
}

func TestCoordinator_WaveGatingRunsDependentAfterDependency(t *testing.T) {
	bus := eventbus.New()
	pool := newTestPool(t, 1)
	r := newTestRunner(alwaysCompleteLLM{}, bus, 5)
	c := New("proj-2", bus, pool, r, nil, Config{})

	var startedOrder []string
	bus.On(model.EventTaskStarted, func(e model.Event) {
		startedOrder = append(startedOrder, e.Data["task_id"].(string))
	})

	err := c.Initialize([]model.Task{
		{ID: "A", Name: "dependency"},
		{ID: "B", Name: "dependent", Dependencies: []string{"A"}},
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	waitForEvent(t, bus, model.EventCoordinatorStopped, 2*time.Second)

	require.Equal(t, []string{"A", "B"}, startedOrder)
}

func TestCoordinator_EscalatedTaskBlocksDependent(t *testing.T) {
	bus := eventbus.New()
	pool := newTestPool(t, 1)
	r := newTestRunner(neverCompleteLLM{}, bus, 1)
	c := New("proj-3", bus, pool, r, nil, Config{})

	var blocked []string
	bus.On(model.EventTaskBlocked, func(e model.Event) {
		blocked = append(blocked, e.Data["task_id"].(string))
	})
	var started []string
	bus.On(model.EventTaskStarted, func(e model.Event) {
		started = append(started, e.Data["task_id"].(string))
	})

	err := c.Initialize([]model.Task{
		{ID: "A", Name: "flaky"},
		{ID: "B", Name: "downstream", Dependencies: []string{"A"}},
	})
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	waitForEvent(t, bus, model.EventCoordinatorStopped, 2*time.Second)

	require.Equal(t, []string{"A"}, started, "B must never be dispatched once its dependency escalates")
	require.Equal(t, []string{"B"}, blocked)
}

func TestCoordinator_InitializeRejectsCycle(t *testing.T) {
	bus := eventbus.New()
	pool := newTestPool(t, 1)
	r := newTestRunner(alwaysCompleteLLM{}, bus, 5)
	c := New("proj-4", bus, pool, r, nil, Config{})

	err := c.Initialize([]model.Task{
		{ID: "A", Dependencies: []string{"B"}},
		{ID: "B", Dependencies: []string{"A"}},
	})
	require.Error(t, err)
}

type recordingStore struct {
	saved []model.Checkpoint
}

func (s *recordingStore) Save(ctx context.Context, cp model.Checkpoint) error {
	s.saved = append(s.saved, cp)
	return nil
}
func (s *recordingStore) Load(ctx context.Context, id string) (*model.Checkpoint, error) {
	return nil, nil
}
func (s *recordingStore) Latest(ctx context.Context, projectID string) (*model.Checkpoint, error) {
	return nil, nil
}
func (s *recordingStore) ListPending(ctx context.Context, projectID string) ([]model.Checkpoint, error) {
	return nil, nil
}
func (s *recordingStore) Clear(ctx context.Context, id string) error { return nil }

func TestCoordinator_CheckpointTaskRunsWithoutAnAgent(t *testing.T) {
	bus := eventbus.New()
	pool := agentpool.New(1) // no agents spawned at all
	r := newTestRunner(alwaysCompleteLLM{}, bus, 5)
	store := &recordingStore{}
	c := New("proj-5", bus, pool, r, store, Config{})

	err := c.Initialize([]model.Task{
		{ID: "CP1", Type: model.TaskTypeCheckpoint},
	})
	require.NoError(t, err)

	// With no agent-bound work the whole plan finishes inside Start, so the
	// stop event is subscribed to before Start rather than after it.
	stopped := make(chan struct{}, 1)
	bus.On(model.EventCoordinatorStopped, func(model.Event) { stopped <- struct{}{} })
	require.NoError(t, c.Start(context.Background()))
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event %s", model.EventCoordinatorStopped)
	}

	require.Len(t, store.saved, 1)
	progress := c.GetProgress()
	require.Equal(t, 1, progress.Completed)
}
