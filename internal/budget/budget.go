// Package budget implements TokenBudgeter: fixed + dynamic token
// allocation and the character/4 estimation contract used throughout
// context assembly.
package budget

import "math"

// FixedSlots are the default fixed-size allocations within a TokenBudget.
type FixedSlots struct {
	SystemPrompt int
	RepoMap      int
	CodebaseDocs int
	TaskSpec     int
	Reserved     int
}

// DefaultFixedSlots returns the default fixed allocation.
func DefaultFixedSlots() FixedSlots {
	return FixedSlots{
		SystemPrompt: 2000,
		RepoMap:      2000,
		CodebaseDocs: 3000,
		TaskSpec:     1000,
		Reserved:     16000,
	}
}

// Sum returns the total of all fixed slots.
func (f FixedSlots) Sum() int {
	return f.SystemPrompt + f.RepoMap + f.CodebaseDocs + f.TaskSpec + f.Reserved
}

// DynamicSplit is the proportional split of the dynamic pool.
type DynamicSplit struct {
	Files       float64
	CodeResults float64
	Memories    float64
}

// DefaultDynamicSplit returns the default dynamic split.
func DefaultDynamicSplit() DynamicSplit {
	return DynamicSplit{Files: 0.60, CodeResults: 0.25, Memories: 0.15}
}

// TokenBudget is the fully-resolved per-context allocation.
type TokenBudget struct {
	Total        int
	Fixed        FixedSlots
	DynamicTotal int
	Files        int
	CodeResults  int
	Memories     int
}

// DefaultMaxTokens is the default total context budget.
const DefaultMaxTokens = 150000

// New creates a TokenBudget from a total max, the default fixed slots,
// and the default dynamic split.
func New(total int) TokenBudget {
	return NewWithSlots(total, DefaultFixedSlots(), DefaultDynamicSplit())
}

// NewWithSlots creates a TokenBudget from explicit fixed slots and a
// dynamic split. The dynamic pool is total - sum(fixed); it is never
// negative — callers that request a total smaller than the fixed slots get
// a zero dynamic pool rather than an error, since it is always valid (if
// tight) to build a context with no room for dynamic content.
func NewWithSlots(total int, fixed FixedSlots, split DynamicSplit) TokenBudget {
	dynamic := total - fixed.Sum()
	if dynamic < 0 {
		dynamic = 0
	}
	return TokenBudget{
		Total:        total,
		Fixed:        fixed,
		DynamicTotal: dynamic,
		Files:        int(math.Round(float64(dynamic) * split.Files)),
		CodeResults:  int(math.Round(float64(dynamic) * split.CodeResults)),
		Memories:     int(math.Round(float64(dynamic) * split.Memories)),
	}
}

// EstimateTokens applies the chars/4 heuristic. This ratio is the contract
// for all budget math in the kernel — it must never be swapped for a
// tokenizer-backed estimate in code that makes truncation or allocation
// decisions. See PreciseEstimator for an informational-only alternative.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 4))
}

// TruncateToFit returns a prefix of text whose estimated token count is at
// most budget. Callers must not pass a negative budget.
func TruncateToFit(text string, budget int) string {
	if budget < 0 {
		panic("budget.TruncateToFit: negative budget")
	}
	if budget == 0 {
		return ""
	}
	maxChars := budget * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}
