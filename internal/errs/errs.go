// Package errs holds the kernel's typed error taxonomy. Each kind is a
// concrete struct implementing error; the kinds that wrap an underlying
// cause also implement Unwrap.
package errs

import "fmt"

// CapacityError reports that the agent pool is saturated.
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("pool at capacity (%d agents)", e.Capacity)
}

// NotFoundError reports an unknown agent/task id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// MaxIterationsError reports that a runner exhausted its iteration budget.
type MaxIterationsError struct {
	TaskID     string
	Iterations int
}

func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("task %s exceeded max iterations (%d)", e.TaskID, e.Iterations)
}

// TimeoutError reports that a runner exceeded its wall-clock budget.
type TimeoutError struct {
	TaskID string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s timed out", e.TaskID)
}

// ToolExecutionError reports an individual tool invocation failure. Runners
// recover from this within the loop by reporting it back to the LLM.
type ToolExecutionError struct {
	ToolName string
	Err      error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.ToolName, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// LLMCallError reports a transport failure. Runners recover by appending an
// error-recovery prompt and continuing until the iteration/timeout bound.
type LLMCallError struct {
	Err error
}

func (e *LLMCallError) Error() string {
	return fmt.Sprintf("llm call failed: %v", e.Err)
}

func (e *LLMCallError) Unwrap() error { return e.Err }

// EmbeddingAPIError distinguishes a retryable rate-limit failure from other
// embedding-provider failures.
type EmbeddingAPIError struct {
	Retryable bool
	Err       error
}

func (e *EmbeddingAPIError) Error() string {
	return fmt.Sprintf("embedding API error (retryable=%v): %v", e.Retryable, e.Err)
}

func (e *EmbeddingAPIError) Unwrap() error { return e.Err }

// CacheError is non-fatal: callers proceed without the cache.
type CacheError struct {
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache error: %v", e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// ParseError reports a reviewer/merger JSON extraction failure. Parsers
// return nil on this error; runners treat it as "not yet complete".
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Reason)
}

// InvalidStateError reports an illegal agent-state transition, such as
// assigning a task to an agent that is not idle.
type InvalidStateError struct {
	Agent  string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("agent %s is not in a valid state for this operation (status=%s)", e.Agent, e.Status)
}

// CheckpointError reports a failed checkpoint creation. Coordinator state
// is left unchanged when this occurs.
type CheckpointError struct {
	Err error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint error: %v", e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }
