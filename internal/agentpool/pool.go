// Package agentpool implements the bounded worker-agent lifecycle:
// spawn/assign/release/terminate with a capacity ceiling and
// most-recently-used idle selection, using a mutex-guarded in-memory
// registry.
package agentpool

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omarkhaled-auto/nexus/internal/errs"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

// DefaultCapacity is the pool's default maxParallelAgents ceiling.
const DefaultCapacity = 4

// Pool is a bounded, in-memory registry of Agents.
type Pool struct {
	mu       sync.Mutex
	capacity int
	agents   map[string]*model.Agent
}

// New creates a Pool with the given capacity. A non-positive capacity
// falls back to DefaultCapacity.
func New(capacity int) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Pool{capacity: capacity, agents: make(map[string]*model.Agent)}
}

// Spawn creates a new idle Agent of the given type. Fails with
// *errs.CapacityError if the pool is already at capacity.
func (p *Pool) Spawn(agentType model.AgentType, cfg model.ModelConfig) (model.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.agents) >= p.capacity {
		return model.Agent{}, &errs.CapacityError{Capacity: p.capacity}
	}

	now := time.Now()
	a := &model.Agent{
		ID:         uuid.NewString(),
		Type:       agentType,
		Status:     model.AgentIdle,
		Model:      cfg,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	p.agents[a.ID] = a
	return *a, nil
}

// Assign transitions agentID to assigned and records its current task.
// Legal only when the agent is idle.
func (p *Pool) Assign(agentID, taskID, worktreePath string) (model.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return model.Agent{}, &errs.NotFoundError{Kind: "agent", ID: agentID}
	}
	if a.Status != model.AgentIdle {
		return model.Agent{}, &errs.InvalidStateError{Agent: agentID, Status: string(a.Status)}
	}

	a.Status = model.AgentAssigned
	a.CurrentTaskID = taskID
	a.WorktreePath = worktreePath
	a.LastUsedAt = time.Now()
	return *a, nil
}

// Release returns agentID to idle, clears its current task, and records an
// outcome against its metrics.
func (p *Pool) Release(agentID string, succeeded bool, iterations int, tokens int64, elapsed time.Duration) (model.Agent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return model.Agent{}, &errs.NotFoundError{Kind: "agent", ID: agentID}
	}

	if succeeded {
		a.Metrics.TasksCompleted++
	} else {
		a.Metrics.TasksFailed++
	}
	a.Metrics.TotalIterations += iterations
	a.Metrics.CumulativeTokens += tokens
	a.Metrics.ActiveTime += elapsed

	a.Status = model.AgentIdle
	a.CurrentTaskID = ""
	a.WorktreePath = ""
	a.LastUsedAt = time.Now()
	return *a, nil
}

// Terminate removes agentID from the pool entirely.
func (p *Pool) Terminate(agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.agents[agentID]; !ok {
		return &errs.NotFoundError{Kind: "agent", ID: agentID}
	}
	delete(p.agents, agentID)
	return nil
}

// MarkError transitions agentID to the error status without releasing it,
// used by the runner when a task-level error leaves the agent unusable.
func (p *Pool) MarkError(agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.agents[agentID]
	if !ok {
		return &errs.NotFoundError{Kind: "agent", ID: agentID}
	}
	a.Status = model.AgentError
	return nil
}

// GetAvailable returns an idle agent, preferring the most-recently-used one
// (warm agents retain useful working-directory/model-provider state).
func (p *Pool) GetAvailable() (model.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *model.Agent
	for _, a := range p.agents {
		if a.Status != model.AgentIdle {
			continue
		}
		if best == nil || a.LastUsedAt.After(best.LastUsedAt) {
			best = a
		}
	}
	if best == nil {
		return model.Agent{}, false
	}
	return *best, true
}

// GetActive returns every agent not idle and not terminated.
func (p *Pool) GetActive() []model.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []model.Agent
	for _, a := range p.agents {
		if a.Status != model.AgentIdle && a.Status != model.AgentTerminated {
			out = append(out, *a)
		}
	}
	return out
}

// GetByID returns a copy of the agent with the given id.
func (p *Pool) GetByID(id string) (model.Agent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.agents[id]
	if !ok {
		return model.Agent{}, false
	}
	return *a, true
}

// GetAll returns a copy of every agent currently in the pool.
func (p *Pool) GetAll() []model.Agent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Agent, 0, len(p.agents))
	for _, a := range p.agents {
		out = append(out, *a)
	}
	return out
}

// Size returns the current number of agents in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}
