package model

import "time"

// CoordinatorState is the serializable snapshot of a Coordinator's status
// machine, embedded in a Checkpoint.
type CoordinatorState string

const (
	StateIdle    CoordinatorState = "idle"
	StateRunning CoordinatorState = "running"
	StatePaused  CoordinatorState = "paused"
	StateStopping CoordinatorState = "stopping"
)

// Checkpoint is a serializable snapshot of coordinator progress sufficient
// to resume execution.
type Checkpoint struct {
	ID                string
	Name              string
	ProjectID         string
	WaveID            int
	CompletedTaskIDs  []string
	PendingTaskIDs    []string
	Timestamp         time.Time
	CoordinatorState  CoordinatorState
	GitCommit         string
}
