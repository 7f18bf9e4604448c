package model

import "time"

// RelevantFile is a truncated-or-whole file included in a TaskContext.
type RelevantFile struct {
	Path      string
	Content   string
	Truncated bool
}

// RelevantCode is a scored code chunk included in a TaskContext.
type RelevantCode struct {
	Chunk      CodeChunk
	Score      float64
	Highlights []string
}

// CodebaseDocs is the summarized structural documentation of a project.
type CodebaseDocs struct {
	Summary    string
	Highlights []string
}

// ProjectConfigSummary carries the language/framework facts a prompt needs.
type ProjectConfigSummary struct {
	Language      string
	Framework     string
	TestFramework string
}

// TaskContext is the immutable, per-task bundle assembled fresh for every
// call to FreshContextManager.BuildFreshContext. ConversationHistory is
// always empty: that emptiness is a contract, not an implementation detail.
type TaskContext struct {
	ContextID           string
	GeneratedAt         time.Time
	TaskSpec            *Task
	RepoMap             string
	CodebaseDocs        CodebaseDocs
	ProjectConfig       ProjectConfigSummary
	RelevantFiles       []RelevantFile
	RelevantCode        []RelevantCode
	RelevantMemories    []string
	ConversationHistory []ChatMessage
	TokenCount          int
	TokenBudget         int
}

// ContextValidation is the result of TaskContext.Validate().
type ContextValidation struct {
	Valid       bool
	Warnings    []string
	Suggestions []string
	Breakdown   map[string]int
}

// Validate checks the token-budget invariant and returns advisory
// warnings/suggestions. A context can be Valid and still carry suggestions.
func (c *TaskContext) Validate() ContextValidation {
	v := ContextValidation{Valid: true, Breakdown: map[string]int{}}
	if c.TokenCount > c.TokenBudget {
		v.Valid = false
		v.Warnings = append(v.Warnings, "tokenCount exceeds tokenBudget")
	}
	if len(c.ConversationHistory) != 0 {
		v.Valid = false
		v.Warnings = append(v.Warnings, "conversationHistory must be empty in a fresh context")
	}
	if len(c.RelevantCode) == 0 && len(c.RelevantFiles) == 0 {
		v.Suggestions = append(v.Suggestions, "no relevant files or code were found for this task")
	}
	if c.TokenBudget > 0 {
		v.Breakdown["utilization_pct"] = c.TokenCount * 100 / c.TokenBudget
	}
	return v
}
