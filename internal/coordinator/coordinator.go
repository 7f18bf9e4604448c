// Package coordinator drives the overall orchestration state machine:
// idle -> running -> paused -> running -> stopping -> idle. It owns the
// TaskQueue and AgentPool, pumps ready tasks to the pool as capacity
// allows, advances waves, and reports terminal outcomes on the event bus.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omarkhaled-auto/nexus/internal/agentpool"
	"github.com/omarkhaled-auto/nexus/internal/checkpoint"
	"github.com/omarkhaled-auto/nexus/internal/eventbus"
	"github.com/omarkhaled-auto/nexus/internal/model"
	"github.com/omarkhaled-auto/nexus/internal/runner"
	"github.com/omarkhaled-auto/nexus/internal/taskqueue"
)

// Classifier maps a task to the agent subtype that should execute it.
type Classifier func(model.Task) model.AgentType

// DefaultClassifier sends every non-checkpoint task to a coder agent;
// callers wanting tester/reviewer/merger routing should supply their own.
func DefaultClassifier(t model.Task) model.AgentType {
	return model.AgentCoder
}

// Config bounds a Coordinator's run.
type Config struct {
	MaxParallelAgents       int
	CheckpointIntervalHours float64
	Classifier              Classifier
}

// Coordinator is the orchestration kernel's top-level state machine.
type Coordinator struct {
	mu sync.Mutex

	projectID string
	state     model.CoordinatorState

	queue  *taskqueue.Queue
	pool   *agentpool.Pool
	bus    *eventbus.Bus
	runner *runner.Runner
	store  checkpoint.Store

	classifier  Classifier
	currentWave int
	maxWave     int

	pausing   bool
	wg        sync.WaitGroup
	runCtx    context.Context
	runCancel context.CancelFunc

	checkpointInterval time.Duration
	stopTicker         chan struct{}
}

// New creates a Coordinator. store may be nil if checkpointing is unused.
func New(projectID string, bus *eventbus.Bus, pool *agentpool.Pool, r *runner.Runner, store checkpoint.Store, cfg Config) *Coordinator {
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = DefaultClassifier
	}
	interval := time.Duration(cfg.CheckpointIntervalHours * float64(time.Hour))

	return &Coordinator{
		projectID:          projectID,
		state:              model.StateIdle,
		queue:              taskqueue.New(),
		pool:               pool,
		bus:                bus,
		runner:             r,
		store:              store,
		classifier:         classifier,
		checkpointInterval: interval,
	}
}

// Initialize loads tasks, assigns waves (trusting any planner-provided
// WaveID, computing the rest from dependency order), and leaves the
// Coordinator idle. Cyclic plans are rejected with a structural error.
func (c *Coordinator) Initialize(tasks []model.Task) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != model.StateIdle {
		return fmt.Errorf("coordinator: Initialize is only legal from idle, currently %s", c.state)
	}

	waves, err := assignWaves(tasks)
	if err != nil {
		return fmt.Errorf("coordinator: invalid task graph: %w", err)
	}

	ordered := make([]model.Task, len(tasks))
	copy(ordered, tasks)
	sortByWave(ordered, waves)

	maxWave := 0
	for _, w := range waves {
		if w > maxWave {
			maxWave = w
		}
	}

	for _, t := range ordered {
		wave := waves[t.ID]
		if err := c.queue.Enqueue(t, wave); err != nil {
			return fmt.Errorf("coordinator: failed to enqueue task %s: %w", t.ID, err)
		}
		c.bus.Emit(model.EventTaskQueued, c.projectID, map[string]any{"task_id": t.ID, "wave_id": wave})
	}

	c.currentWave = 0
	c.maxWave = maxWave
	return nil
}

// Start transitions idle -> running and pumps wave 0.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != model.StateIdle {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: Start is only legal from idle, currently %s", c.state)
	}
	c.state = model.StateRunning
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.bus.Emit(model.EventCoordinatorStarted, c.projectID, nil)
	c.bus.Emit(model.EventWaveStarted, c.projectID, map[string]any{"wave_id": c.currentWave})
	c.startCheckpointTicker()
	c.pump()
	return nil
}

// Pause requests suspension. In-flight runners complete naturally; no new
// assignments occur. coordinator:paused fires once no task is running.
func (c *Coordinator) Pause(reason string) {
	c.mu.Lock()
	if c.state != model.StateRunning {
		c.mu.Unlock()
		return
	}
	c.pausing = true
	anyRunning := c.hasRunningTasksLocked()
	c.mu.Unlock()

	if !anyRunning {
		c.finishPause(reason)
	}
}

func (c *Coordinator) hasRunningTasksLocked() bool {
	for _, a := range c.pool.GetActive() {
		if a.Status == model.AgentRunning || a.Status == model.AgentAssigned {
			return true
		}
	}
	return false
}

func (c *Coordinator) finishPause(reason string) {
	c.mu.Lock()
	c.state = model.StatePaused
	c.pausing = false
	c.mu.Unlock()
	c.bus.Emit(model.EventCoordinatorPaused, c.projectID, map[string]any{"reason": reason})
}

// ResumeFromCheckpoint restarts a coordinator whose queue has already been
// rebuilt (Initialize) and overlaid with a restored checkpoint
// (RestoreCheckpoint). Unlike Start, it does not assume a fresh wave-0
// plan: it resumes from whatever wave RestoreCheckpoint left in place.
func (c *Coordinator) ResumeFromCheckpoint(ctx context.Context) error {
	c.mu.Lock()
	if c.state == model.StateRunning {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: already running")
	}
	c.state = model.StateRunning
	c.runCtx, c.runCancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.bus.Emit(model.EventCoordinatorResumed, c.projectID, nil)
	c.startCheckpointTicker()
	c.pump()
	return nil
}

// Resume is only legal from paused; it replays the pump.
func (c *Coordinator) Resume() error {
	c.mu.Lock()
	if c.state != model.StatePaused {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: Resume is only legal from paused, currently %s", c.state)
	}
	c.state = model.StateRunning
	c.mu.Unlock()

	c.bus.Emit(model.EventCoordinatorResumed, c.projectID, nil)
	c.pump()
	return nil
}

// Stop cancels all runners, awaits pool drain, and transitions to idle.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state == model.StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = model.StateStopping
	cancel := c.runCancel
	c.mu.Unlock()

	c.bus.Emit(model.EventCoordinatorStopping, c.projectID, nil)
	if cancel != nil {
		cancel()
	}
	c.stopCheckpointTicker()
	c.wg.Wait()

	c.mu.Lock()
	c.state = model.StateIdle
	c.mu.Unlock()
	c.bus.Emit(model.EventCoordinatorStopped, c.projectID, nil)
}

// GetStatus returns the current state machine status.
func (c *Coordinator) GetStatus() model.CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Progress summarizes completion across the whole plan.
type Progress struct {
	CurrentWave int
	MaxWave     int
	Completed   int
	Pending     int
}

// GetProgress reports wave and task completion counts.
func (c *Coordinator) GetProgress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Progress{
		CurrentWave: c.currentWave,
		MaxWave:     c.maxWave,
		Completed:   len(c.queue.CompletedIDs()),
		Pending:     len(c.queue.PendingIDs()),
	}
}

// GetActiveAgents returns every agent not idle or terminated.
func (c *Coordinator) GetActiveAgents() []model.Agent { return c.pool.GetActive() }

// GetPendingTasks returns every task of the current wave that is not yet
// terminal (queued, assigned or running), ready or not.
func (c *Coordinator) GetPendingTasks() []model.Task {
	c.mu.Lock()
	wave := c.currentWave
	c.mu.Unlock()
	return c.queue.GetByWave(wave)
}

// OnEvent subscribes handler to every event on the bus.
func (c *Coordinator) OnEvent(handler eventbus.Handler) func() {
	return c.bus.On("*", handler)
}

// pump assigns ready tasks to available agents until the current wave's
// ready set is drained or the pool is saturated, then checks whether the
// wave can advance.
func (c *Coordinator) pump() {
	c.mu.Lock()
	if c.state != model.StateRunning {
		c.mu.Unlock()
		return
	}
	wave := c.currentWave
	c.mu.Unlock()

	for {
		if task, ok := c.queue.DequeueMatching(wave, isCheckpointTask); ok {
			c.runCheckpointTask(task)
			continue
		}

		agent, ok := c.pool.GetAvailable()
		if !ok {
			break
		}
		task, ok := c.queue.Dequeue(wave)
		if !ok {
			break
		}

		if _, err := c.pool.Assign(agent.ID, task.ID, ""); err != nil {
			c.bus.Emit(model.EventSystemError, c.projectID, map[string]any{"error": err.Error()})
			continue
		}
		c.bus.Emit(model.EventTaskAssigned, c.projectID, map[string]any{"task_id": task.ID, "agent_id": agent.ID})

		c.wg.Add(1)
		go c.runTask(agent, task)
	}

	c.maybeAdvanceWave()
}

func isCheckpointTask(t model.Task) bool { return t.Type == model.TaskTypeCheckpoint }

func (c *Coordinator) runCheckpointTask(task model.Task) {
	c.queue.MarkComplete(task.ID)
	c.bus.Emit(model.EventTaskCompleted, c.projectID, map[string]any{"task_id": task.ID, "type": "checkpoint"})
	if _, err := c.CreateCheckpoint(""); err != nil {
		c.bus.Emit(model.EventCheckpointFailed, c.projectID, map[string]any{"error": err.Error()})
	}
}

func (c *Coordinator) runTask(agent model.Agent, task model.Task) {
	defer c.wg.Done()

	c.bus.Emit(model.EventTaskStarted, c.projectID, map[string]any{"task_id": task.ID, "agent_id": agent.ID})

	subtype := c.classifier(task)
	actx := runner.AgentContext{
		TaskID:        task.ID,
		ProjectID:     c.projectID,
		WorkingDir:    agent.WorktreePath,
		RelevantFiles: c.dependencyFiles(task),
	}

	result := c.runner.Run(c.runCtx, agent.ID, subtype, task, actx)

	switch {
	case result.Success:
		c.queue.MarkComplete(task.ID)
		_, _ = c.pool.Release(agent.ID, true, result.Iterations, result.TokensUsed, result.Duration)
	case result.Escalated:
		c.queue.MarkEscalated(task.ID)
		_, _ = c.pool.Release(agent.ID, false, result.Iterations, result.TokensUsed, result.Duration)
	default:
		c.queue.MarkFailed(task.ID)
		_, _ = c.pool.Release(agent.ID, false, result.Iterations, result.TokensUsed, result.Duration)
		c.bus.Emit(model.EventTaskFailed, c.projectID, map[string]any{"task_id": task.ID, "reason": result.Reason})
	}
	c.bus.Emit(model.EventAgentIdle, c.projectID, map[string]any{"agent_id": agent.ID})

	c.mu.Lock()
	pausing := c.pausing
	c.mu.Unlock()
	if pausing && !c.hasRunningTasksLocked() {
		c.finishPause("")
		return
	}

	c.pump()
}

// dependencyFiles collects the Files of every task task depends on, so the
// runner can feed them into context assembly alongside task's own Files.
func (c *Coordinator) dependencyFiles(task model.Task) []string {
	var files []string
	for _, depID := range task.Dependencies {
		dep, ok := c.queue.Get(depID)
		if !ok {
			continue
		}
		files = append(files, dep.Files...)
	}
	return files
}

// maybeAdvanceWave checks the wave-advance condition: no task in the
// current wave remains pending|queued|running. Queued tasks with a failed
// or escalated transitive ancestor are terminal for this purpose: they are
// marked failed in the queue, reported with task:blocked, and removed from
// further scheduling.
func (c *Coordinator) maybeAdvanceWave() {
	c.mu.Lock()
	wave := c.currentWave
	c.mu.Unlock()

	for _, t := range c.queue.GetByWave(wave) {
		if t.Status == model.TaskQueued && c.queue.IsBlocked(t.ID) {
			c.queue.MarkFailed(t.ID)
			c.bus.Emit(model.EventTaskBlocked, c.projectID, map[string]any{"task_id": t.ID})
		}
	}

	if len(c.queue.GetByWave(wave)) > 0 {
		return
	}

	c.bus.Emit(model.EventWaveCompleted, c.projectID, map[string]any{"wave_id": wave})

	c.mu.Lock()
	if wave != c.currentWave {
		c.mu.Unlock()
		return
	}
	if c.currentWave >= c.maxWave {
		c.state = model.StateIdle
		c.mu.Unlock()
		c.bus.Emit(model.EventCoordinatorStopped, c.projectID, nil)
		return
	}
	c.currentWave++
	next := c.currentWave
	c.mu.Unlock()

	c.bus.Emit(model.EventWaveStarted, c.projectID, map[string]any{"wave_id": next})
	c.pump()
}

// CreateCheckpoint snapshots coordinator progress. A failure leaves
// coordinator state unchanged and emits checkpoint:failed.
func (c *Coordinator) CreateCheckpoint(name string) (model.Checkpoint, error) {
	c.mu.Lock()
	cp := model.Checkpoint{
		ID:               uuid.NewString(),
		Name:             name,
		ProjectID:        c.projectID,
		WaveID:           c.currentWave,
		CompletedTaskIDs: c.queue.CompletedIDs(),
		PendingTaskIDs:   c.queue.PendingIDs(),
		Timestamp:        time.Now(),
		CoordinatorState: c.state,
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Save(context.Background(), cp); err != nil {
			c.bus.Emit(model.EventCheckpointFailed, c.projectID, map[string]any{"error": err.Error()})
			return model.Checkpoint{}, fmt.Errorf("checkpoint save failed: %w", err)
		}
	}
	c.bus.Emit(model.EventCheckpointCreated, c.projectID, map[string]any{"checkpoint_id": cp.ID})
	return cp, nil
}

// RestoreCheckpoint reinstates a previously created Checkpoint: the
// Coordinator's queued-set becomes exactly PendingTaskIDs and its
// completed-set becomes exactly CompletedTaskIDs. Queued tasks listed in
// neither are marked failed. The Coordinator's own status is not taken
// from the checkpoint; it stays idle so ResumeFromCheckpoint can start it.
func (c *Coordinator) RestoreCheckpoint(cp model.Checkpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentWave = cp.WaveID
	for _, id := range cp.CompletedTaskIDs {
		c.queue.MarkComplete(id)
	}
	pending := make(map[string]bool, len(cp.PendingTaskIDs))
	for _, id := range cp.PendingTaskIDs {
		pending[id] = true
	}
	for _, id := range c.queue.PendingIDs() {
		if !pending[id] {
			c.queue.MarkFailed(id)
		}
	}
	c.bus.Emit(model.EventSystemCheckpointRestored, c.projectID, map[string]any{"checkpoint_id": cp.ID})
}

func (c *Coordinator) startCheckpointTicker() {
	if c.checkpointInterval <= 0 || c.store == nil {
		return
	}
	c.stopTicker = make(chan struct{})
	ticker := time.NewTicker(c.checkpointInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = c.CreateCheckpoint("periodic")
			case <-c.stopTicker:
				return
			}
		}
	}()
}

func (c *Coordinator) stopCheckpointTicker() {
	if c.stopTicker != nil {
		close(c.stopTicker)
		c.stopTicker = nil
	}
}
