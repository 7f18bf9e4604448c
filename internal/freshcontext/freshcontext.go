// Package freshcontext assembles a per-task TaskContext under a fixed token
// budget: repo map, codebase docs, task spec, semantic code search results,
// relevant files, and memories, each consumed from its own sub-allocation
// with residual tokens rolling forward into the next step. Every call to
// BuildFreshContext produces a brand new context with empty conversation
// history — no state is shared across calls, mirroring the ingest/search
// composition of the retrieval engine this package's search dependency
// comes from, but with its own always-fresh assembly contract.
package freshcontext

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omarkhaled-auto/nexus/internal/budget"
	"github.com/omarkhaled-auto/nexus/internal/model"
	"github.com/omarkhaled-auto/nexus/internal/search"
)

// RepoMapGenerator produces a structural summary of a project's layout.
type RepoMapGenerator interface {
	Generate(ctx context.Context, projectID string) (string, error)
}

// DocsSummarizer produces a summarized view of a project's documentation.
type DocsSummarizer interface {
	Summarize(ctx context.Context, projectID string) (model.CodebaseDocs, error)
}

// FileLoader loads the raw content of a file for inclusion in a context.
type FileLoader interface {
	Load(ctx context.Context, path string) (string, error)
}

// MemoryProvider surfaces prior learnings relevant to a task.
type MemoryProvider interface {
	Relevant(ctx context.Context, task model.Task, limit int) ([]string, error)
}

// CodeSearcher is the subset of search.Engine the manager depends on.
type CodeSearcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Result, error)
}

// Options parameterizes a single BuildFreshContext call.
type Options struct {
	ProjectID        string
	CodeSearchQuery  string
	MinCodeRelevance float64 // default 0.5
	ExtraFiles       []string
	MemoryLimit      int
}

// DefaultMinCodeRelevance: search results below this score are dropped
// before they ever compete for the code-results budget.
const DefaultMinCodeRelevance = 0.5

// Manager builds fresh TaskContexts. All dependencies beyond the token
// budget are optional: a Manager with nothing wired still produces a valid,
// minimal context (fallback repo map / docs, no search results, no files).
type Manager struct {
	maxTokens     int
	fixedSlots    budget.FixedSlots
	dynamicSplit  budget.DynamicSplit
	projectConfig model.ProjectConfigSummary

	repoMap   RepoMapGenerator
	docs      DocsSummarizer
	files     FileLoader
	memory    MemoryProvider
	searcher  CodeSearcher

	mu       sync.Mutex
	handles  map[string]*model.TaskContext // agentID -> last built context
	clock    func() time.Time
}

// Option configures an optional Manager dependency.
type Option func(*Manager)

func WithRepoMap(g RepoMapGenerator) Option  { return func(m *Manager) { m.repoMap = g } }
func WithDocs(d DocsSummarizer) Option       { return func(m *Manager) { m.docs = d } }
func WithFileLoader(f FileLoader) Option     { return func(m *Manager) { m.files = f } }
func WithMemory(p MemoryProvider) Option     { return func(m *Manager) { m.memory = p } }
func WithSearcher(s CodeSearcher) Option     { return func(m *Manager) { m.searcher = s } }
func WithProjectConfig(pc model.ProjectConfigSummary) Option {
	return func(m *Manager) { m.projectConfig = pc }
}

// NewManager creates a Manager with a total token budget (0 uses
// budget.DefaultMaxTokens) and any optional dependencies.
func NewManager(maxTokens int, opts ...Option) *Manager {
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxTokens
	}
	m := &Manager{
		maxTokens:    maxTokens,
		fixedSlots:   budget.DefaultFixedSlots(),
		dynamicSplit: budget.DefaultDynamicSplit(),
		handles:      make(map[string]*model.TaskContext),
		clock:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AgentContextResult is the lifecycle wrapper around a built context.
type AgentContextResult struct {
	Context     model.TaskContext
	AgentID     string
	TaskID      string
	BuildTimeMs int64
}

// PrepareAgentContext builds a fresh context for task and associates it
// with agentID so later GetAgentContext/OnTaskComplete/OnTaskFailed calls
// can find it.
func (m *Manager) PrepareAgentContext(ctx context.Context, agentID string, task model.Task, opts Options) (AgentContextResult, error) {
	start := m.clock()
	tc, err := m.BuildFreshContext(ctx, task, opts)
	if err != nil {
		return AgentContextResult{}, err
	}
	elapsed := m.clock().Sub(start)

	m.mu.Lock()
	m.handles[agentID] = &tc
	m.mu.Unlock()

	return AgentContextResult{Context: tc, AgentID: agentID, TaskID: task.ID, BuildTimeMs: elapsed.Milliseconds()}, nil
}

// GetAgentContext returns the last context built for agentID, or false if
// none is held (never built, or already purged by OnTaskComplete/Failed).
func (m *Manager) GetAgentContext(agentID string) (model.TaskContext, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.handles[agentID]
	if !ok {
		return model.TaskContext{}, false
	}
	return *tc, true
}

// OnTaskComplete purges agentID's held context handle.
func (m *Manager) OnTaskComplete(agentID, taskID string) { m.purge(agentID) }

// OnTaskFailed purges agentID's held context handle.
func (m *Manager) OnTaskFailed(agentID, taskID string) { m.purge(agentID) }

func (m *Manager) purge(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handles, agentID)
}

// slot tracks consumption against a running carry-forward allocation.
type slot struct {
	allocated int
	consumed  int
}

func (s *slot) available() int { return s.allocated }

// consumeText fits text into the slot's allocation, truncating if needed,
// and returns the (possibly truncated) text plus tokens actually consumed.
func consumeText(text string, allocated int) (string, int) {
	if allocated <= 0 || text == "" {
		return "", 0
	}
	estimated := budget.EstimateTokens(text)
	if estimated <= allocated {
		return text, estimated
	}
	truncated := budget.TruncateToFit(text, allocated)
	return truncated, budget.EstimateTokens(truncated)
}

// BuildFreshContext assembles a brand-new TaskContext for task. No state is
// retained across calls: every field is recomputed, and
// ConversationHistory is always the empty slice, per the package contract.
func (m *Manager) BuildFreshContext(ctx context.Context, task model.Task, opts Options) (model.TaskContext, error) {
	tb := budget.NewWithSlots(m.maxTokens, m.fixedSlots, m.dynamicSplit)

	tc := model.TaskContext{
		ContextID:           uuid.NewString(),
		GeneratedAt:         m.clock(),
		TaskSpec:            &task,
		ProjectConfig:       m.projectConfig,
		ConversationHistory: nil, // always empty; never populated anywhere in this package
		TokenBudget:         tb.Total,
	}

	consumed := 0
	fit := func(alloc int) int { return min(alloc, max(tb.Total-consumed, 0)) } // caps a slot at the unspent budget

	// 1. System prompt slot: reserved, not materialized here (the runner
	// owns the actual system prompt text).
	consumed += fit(tb.Fixed.SystemPrompt)

	// 2. Repo map.
	carry := 0
	repoMap, err := m.generateRepoMap(ctx, opts.ProjectID)
	if err != nil {
		return model.TaskContext{}, fmt.Errorf("repo map generation failed: %w", err)
	}
	text, used := consumeText(repoMap, fit(tb.Fixed.RepoMap))
	tc.RepoMap = text
	consumed += used
	carry = tb.Fixed.RepoMap - used

	// 3. Codebase docs summary.
	docs, err := m.summarizeDocs(ctx, opts.ProjectID)
	if err != nil {
		return model.TaskContext{}, fmt.Errorf("codebase docs summary failed: %w", err)
	}
	docsAlloc := fit(tb.Fixed.CodebaseDocs + carry)
	docsText, used := consumeText(docs.Summary, docsAlloc)
	docs.Summary = docsText
	tc.CodebaseDocs = docs
	consumed += used
	carry = docsAlloc - used

	// 4. Task spec rendering (accounted, not separately stored since
	// TaskSpec is already carried as a reference).
	specAlloc := fit(tb.Fixed.TaskSpec + carry)
	rendered := renderTaskSpec(task)
	_, used = consumeText(rendered, specAlloc)
	consumed += used
	carry = specAlloc - used

	// 5. Code search results (dynamic).
	codeAlloc := fit(tb.CodeResults + carry)
	relevantCode, used, err := m.searchCode(ctx, task, opts, codeAlloc)
	if err != nil {
		return model.TaskContext{}, fmt.Errorf("code search failed: %w", err)
	}
	tc.RelevantCode = relevantCode
	consumed += used
	carry = codeAlloc - used
	if carry < 0 {
		carry = 0
	}

	// 6. Relevant files (dynamic).
	filesAlloc := fit(tb.Files + carry)
	relevantFiles, used := m.loadFiles(ctx, task, opts, filesAlloc)
	tc.RelevantFiles = relevantFiles
	consumed += used
	carry = filesAlloc - used
	if carry < 0 {
		carry = 0
	}

	// 7. Memories (dynamic, optional).
	memAlloc := fit(tb.Memories + carry)
	memories, used := m.loadMemories(ctx, task, opts, memAlloc)
	tc.RelevantMemories = memories
	consumed += used

	tc.TokenCount = consumed
	return tc, nil
}

func (m *Manager) generateRepoMap(ctx context.Context, projectID string) (string, error) {
	if m.repoMap == nil {
		return "(no repo map generator configured; structure unknown)", nil
	}
	return m.repoMap.Generate(ctx, projectID)
}

func (m *Manager) summarizeDocs(ctx context.Context, projectID string) (model.CodebaseDocs, error) {
	if m.docs == nil {
		return model.CodebaseDocs{Summary: "(no codebase documentation available)"}, nil
	}
	return m.docs.Summarize(ctx, projectID)
}

func renderTaskSpec(task model.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s: %s\n%s\n", task.ID, task.Name, task.Description)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	return b.String()
}

func (m *Manager) searchCode(ctx context.Context, task model.Task, opts Options, allocated int) ([]model.RelevantCode, int, error) {
	if m.searcher == nil || strings.TrimSpace(opts.CodeSearchQuery) == "" || allocated <= 0 {
		return nil, 0, nil
	}

	minRelevance := opts.MinCodeRelevance
	if minRelevance <= 0 {
		minRelevance = DefaultMinCodeRelevance
	}

	results, err := m.searcher.Search(ctx, search.Request{
		ProjectID: opts.ProjectID,
		Query:     opts.CodeSearchQuery,
		Threshold: float32(minRelevance),
	})
	if err != nil {
		return nil, 0, err
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })

	var out []model.RelevantCode
	spent := 0
	for _, r := range results {
		remaining := allocated - spent
		if remaining <= 0 {
			break
		}
		text, used := consumeText(r.Chunk.Content, remaining)
		if used == 0 {
			continue
		}
		chunk := r.Chunk
		chunk.Content = text
		var highlights []string
		if r.Highlight != "" {
			highlights = strings.Split(r.Highlight, "\n")
		}
		out = append(out, model.RelevantCode{Chunk: chunk, Score: float64(r.Score), Highlights: highlights})
		spent += used
	}
	return out, spent, nil
}

func (m *Manager) loadFiles(ctx context.Context, task model.Task, opts Options, allocated int) ([]model.RelevantFile, int) {
	if m.files == nil || allocated <= 0 {
		return nil, 0
	}

	var paths []string
	paths = append(paths, task.Files...)
	paths = append(paths, opts.ExtraFiles...)

	var out []model.RelevantFile
	spent := 0
	for _, p := range dedupe(paths) {
		remaining := allocated - spent
		if remaining <= 0 {
			break
		}
		content, err := m.files.Load(ctx, p)
		if err != nil {
			continue
		}
		text, used := consumeText(content, remaining)
		if used == 0 {
			continue
		}
		out = append(out, model.RelevantFile{Path: p, Content: text, Truncated: used < budget.EstimateTokens(content)})
		spent += used
	}
	return out, spent
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func (m *Manager) loadMemories(ctx context.Context, task model.Task, opts Options, allocated int) ([]string, int) {
	if m.memory == nil || allocated <= 0 {
		return nil, 0
	}
	limit := opts.MemoryLimit
	if limit <= 0 {
		limit = 10
	}
	memories, err := m.memory.Relevant(ctx, task, limit)
	if err != nil {
		return nil, 0
	}

	var out []string
	spent := 0
	for _, mem := range memories {
		remaining := allocated - spent
		if remaining <= 0 {
			break
		}
		text, used := consumeText(mem, remaining)
		if used == 0 {
			continue
		}
		out = append(out, text)
		spent += used
	}
	return out, spent
}
