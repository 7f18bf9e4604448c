// Package runner implements the AgentRunner: an iteration-bounded,
// timeout-bounded conversation loop between a single agent and the LLM
// transport, with completion detection, tool-call dispatch, and
// subtype-specific recovery prompts. This is the most complex component of
// the orchestration kernel; its request/response loop and structured
// per-iteration logging generalize a processor-pipeline iteration loop
// from a single-agent conversation to a per-task, fresh-context run.
package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/omarkhaled-auto/nexus/internal/eventbus"
	"github.com/omarkhaled-auto/nexus/internal/freshcontext"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

// DefaultMaxIterations is the runner's default iteration bound.
const DefaultMaxIterations = 50

// DefaultTimeout is the runner's default wall-clock bound.
const DefaultTimeout = 30 * time.Minute

// Config bounds a single runner invocation.
type Config struct {
	MaxIterations int
	Timeout       time.Duration
}

// DefaultConfig returns the runner's documented defaults.
func DefaultConfig() Config {
	return Config{MaxIterations: DefaultMaxIterations, Timeout: DefaultTimeout}
}

// AgentContext is the runner's view of the agent and working environment
// assigned to a task.
type AgentContext struct {
	TaskID           string
	FeatureID        string
	ProjectID        string
	WorkingDir       string
	RelevantFiles    []string
	PreviousAttempts int
}

// ContextBuilder is the subset of freshcontext.Manager the runner depends
// on, so tests can substitute a fake without pulling in the full context
// assembly pipeline.
type ContextBuilder interface {
	BuildFreshContext(ctx context.Context, task model.Task, opts freshcontext.Options) (model.TaskContext, error)
}

// Runner executes a single task via a bounded LLM conversation loop.
type Runner struct {
	llm      model.LLMClient
	tools    model.ToolExecutor // optional
	contexts ContextBuilder     // optional
	bus      *eventbus.Bus
	cfg      Config
	now      func() time.Time
}

// New creates a Runner. tools and contexts may be nil.
func New(llm model.LLMClient, bus *eventbus.Bus, tools model.ToolExecutor, contexts ContextBuilder, cfg Config) *Runner {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Runner{llm: llm, bus: bus, tools: tools, contexts: contexts, cfg: cfg, now: time.Now}
}

// Run drives task to a terminal AgentTaskResult using agentID's identity
// for events and subtype for prompt/completion-vocabulary selection.
func (r *Runner) Run(ctx context.Context, agentID string, subtype model.AgentType, task model.Task, actx AgentContext) AgentTaskResult {
	start := r.now()
	r.emit(model.EventAgentStarted, task.ID, map[string]any{"agent_id": agentID, "task_id": task.ID})

	var taskCtx *model.TaskContext
	if r.contexts != nil {
		built, err := r.contexts.BuildFreshContext(ctx, task, freshcontext.Options{
			ProjectID:       actx.ProjectID,
			CodeSearchQuery: task.Description,
			ExtraFiles:      actx.RelevantFiles,
		})
		if err == nil {
			taskCtx = &built
		}
	}

	messages := []model.ChatMessage{
		{Role: model.RoleSystem, Content: systemPrompt(subtype)},
		{Role: model.RoleUser, Content: buildTaskPrompt(subtype, task, taskCtx)},
	}

	var (
		iteration  int
		tokensUsed int64
	)

	for iteration < r.cfg.MaxIterations {
		if ctx.Err() != nil {
			return AgentTaskResult{
				TaskID: task.ID, Kind: OutcomeCancelled, Success: false,
				Reason: "Execution cancelled", Iterations: iteration,
				Duration: r.now().Sub(start), TokensUsed: tokensUsed,
			}
		}

		if r.now().Sub(start) >= r.cfg.Timeout {
			r.emit(model.EventAgentEscalated, task.ID, map[string]any{"agent_id": agentID, "reason": "timeout"})
			r.emit(model.EventTaskEscalated, task.ID, map[string]any{"task_id": task.ID, "reason": "timeout", "iterations": iteration})
			return AgentTaskResult{
				TaskID: task.ID, Kind: OutcomeEscalated, Escalated: true,
				Reason: "timeout", Iterations: iteration,
				Duration: r.now().Sub(start), TokensUsed: tokensUsed,
			}
		}

		iteration++
		r.emit(model.EventAgentProgress, task.ID, map[string]any{"agent_id": agentID, "action": "iteration", "iteration": iteration})

		resp, err := r.llm.Chat(model.ChatRequest{
			Messages: messages,
			Options:  model.ChatOptions{WorkingDirectory: actx.WorkingDir, Tools: r.availableTools()},
		})
		if err != nil {
			r.emit(model.EventAgentError, task.ID, map[string]any{"agent_id": agentID, "message": err.Error(), "recoverable": true})
			messages = append(messages, model.ChatMessage{Role: model.RoleUser, Content: errorRecoveryPrompt(subtype, err.Error())})
			continue
		}

		tokensUsed += int64(resp.Usage.TotalTokens)

		if complete, output := r.checkCompletion(subtype, resp.Content); complete {
			r.emit(model.EventTaskCompleted, task.ID, map[string]any{"agent_id": agentID, "task_id": task.ID, "iterations": iteration})
			return AgentTaskResult{
				TaskID: task.ID, Kind: OutcomeSuccess, Success: true,
				Output: output, Iterations: iteration,
				Duration: r.now().Sub(start), TokensUsed: tokensUsed,
			}
		}

		if len(resp.ToolCalls) > 0 {
			assistantMsg := model.ChatMessage{Role: model.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
			toolResults := r.dispatchTools(ctx, resp.ToolCalls)
			messages = append(messages, assistantMsg, model.ChatMessage{Role: model.RoleTool, ToolResults: toolResults})
			continue
		}

		messages = append(messages,
			model.ChatMessage{Role: model.RoleAssistant, Content: resp.Content},
			model.ChatMessage{Role: model.RoleUser, Content: continuationPrompt(subtype)},
		)
	}

	r.emit(model.EventAgentEscalated, task.ID, map[string]any{"agent_id": agentID, "reason": "max_iterations"})
	r.emit(model.EventTaskEscalated, task.ID, map[string]any{"task_id": task.ID, "reason": "max_iterations", "iterations": iteration})
	return AgentTaskResult{
		TaskID: task.ID, Kind: OutcomeEscalated, Escalated: true,
		Reason: "Maximum iterations reached", Iterations: iteration,
		Duration: r.now().Sub(start), TokensUsed: tokensUsed,
	}
}

// checkCompletion checks for completion via the universal marker, the
// subtype phrase vocabulary, or (for reviewer/merger) the structured JSON
// gate.
func (r *Runner) checkCompletion(subtype model.AgentType, content string) (bool, string) {
	if containsMarker(content) {
		return true, content
	}
	if matchesCompletionPhrase(subtype, content) {
		return true, content
	}
	switch subtype {
	case model.AgentReviewer:
		if hasReviewJSONGate(content) {
			return true, content
		}
	case model.AgentMerger:
		if hasMergeJSONGate(content) {
			return true, content
		}
	}
	return false, ""
}

func containsMarker(content string) bool {
	return strings.Contains(content, completionMarker)
}

func (r *Runner) availableTools() []model.ToolSpec {
	if r.tools == nil {
		return nil
	}
	return r.tools.GetAvailableTools()
}

// dispatchTools runs every tool call concurrently and collects results in
// the original order. A tool failure is reported back as a textual error
// payload rather than aborting the loop, so every goroutine always returns
// a nil error to the group; errgroup.WithContext still gives the group a
// context tied to ctx's cancellation.
func (r *Runner) dispatchTools(ctx context.Context, calls []model.ToolCall) []model.ToolResult {
	results := make([]model.ToolResult, len(calls))
	g, _ := errgroup.WithContext(ctx)
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			if r.tools == nil {
				results[i] = model.ToolResult{ToolCallID: call.ID, Error: "no tool executor configured"}
				return nil
			}
			res, err := r.tools.Execute(call.Name, call.Arguments)
			if err != nil {
				results[i] = model.ToolResult{ToolCallID: call.ID, Error: fmt.Sprintf("tool %q failed: %v", call.Name, err)}
				return nil
			}
			results[i] = model.ToolResult{ToolCallID: res.ToolCallID, Result: res.Result}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (r *Runner) emit(t model.EventType, projectID string, data map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(t, projectID, data)
}
