package model

import "time"

// AgentType names the subtype of worker agent.
type AgentType string

const (
	AgentCoder    AgentType = "coder"
	AgentTester   AgentType = "tester"
	AgentReviewer AgentType = "reviewer"
	AgentMerger   AgentType = "merger"
	AgentPlanner  AgentType = "planner"
)

// AgentStatus is the lifecycle state of an Agent.
type AgentStatus string

const (
	AgentIdle       AgentStatus = "idle"
	AgentAssigned   AgentStatus = "assigned"
	AgentRunning    AgentStatus = "running"
	AgentWaiting    AgentStatus = "waiting"
	AgentError      AgentStatus = "error"
	AgentTerminated AgentStatus = "terminated"
)

// AgentMetrics tracks cumulative per-agent statistics.
type AgentMetrics struct {
	TasksCompleted int
	TasksFailed    int
	TotalIterations int
	CumulativeTokens int64
	ActiveTime     time.Duration
}

// ModelConfig describes which model/provider an agent is configured with.
// The orchestration kernel never calls a model itself; this is carried only
// so callers can route the agent's LLMClient appropriately.
type ModelConfig struct {
	Provider    string
	Model       string
	Temperature float64
}

// Agent is a pooled worker.
type Agent struct {
	ID             string
	Type           AgentType
	Status         AgentStatus
	Model          ModelConfig
	CurrentTaskID  string
	WorktreePath   string
	Metrics        AgentMetrics
	CreatedAt      time.Time
	LastUsedAt     time.Time
}
