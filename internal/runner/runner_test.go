package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/eventbus"
	"github.com/omarkhaled-auto/nexus/internal/model"
)

type scriptedLLM struct {
	responses []model.ChatResponse
	errors    []error
	calls     int
}

func (f *scriptedLLM) Chat(req model.ChatRequest) (model.ChatResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errors) && f.errors[i] != nil {
		return model.ChatResponse{}, f.errors[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return model.ChatResponse{Content: "still working..."}, nil
}

func textResp(s string) model.ChatResponse {
	return model.ChatResponse{Content: s, Usage: model.TokenUsage{TotalTokens: 10}}
}

func TestRunner_SingleCoderSuccess(t *testing.T) {
	llm := &scriptedLLM{responses: []model.ChatResponse{textResp("Implemented.\n[TASK_COMPLETE]")}}
	bus := eventbus.New()
	var events []model.EventType
	bus.On("*", func(e model.Event) { events = append(events, e.Type) })

	r := New(llm, bus, nil, nil, Config{MaxIterations: 5, Timeout: time.Minute})
	result := r.Run(context.Background(), "agent-1", model.AgentCoder, model.Task{ID: "T1"}, AgentContext{})

	require.True(t, result.Success)
	require.Equal(t, 1, result.Iterations)
	require.Equal(t, []model.EventType{model.EventAgentStarted, model.EventAgentProgress, model.EventTaskCompleted}, events)
}

func TestRunner_RetryAfterTransientError(t *testing.T) {
	llm := &scriptedLLM{
		errors:    []error{errors.New("API rate limit"), nil},
		responses: []model.ChatResponse{{}, textResp("Recovered. [TASK_COMPLETE]")},
	}
	bus := eventbus.New()
	errCount := 0
	bus.On(model.EventAgentError, func(e model.Event) { errCount++ })

	r := New(llm, bus, nil, nil, Config{MaxIterations: 5, Timeout: time.Minute})
	result := r.Run(context.Background(), "agent-1", model.AgentCoder, model.Task{ID: "T1"}, AgentContext{})

	require.True(t, result.Success)
	require.Equal(t, 2, result.Iterations)
	require.Equal(t, 1, errCount)
}

func TestRunner_MaxIterationsEscalation(t *testing.T) {
	llm := &scriptedLLM{}
	bus := eventbus.New()
	var escalated []model.Event
	bus.On(model.EventTaskEscalated, func(e model.Event) { escalated = append(escalated, e) })

	r := New(llm, bus, nil, nil, Config{MaxIterations: 3, Timeout: time.Minute})
	result := r.Run(context.Background(), "agent-1", model.AgentCoder, model.Task{ID: "T1"}, AgentContext{})

	require.False(t, result.Success)
	require.True(t, result.Escalated)
	require.Equal(t, "Maximum iterations reached", result.Reason)
	require.Equal(t, 3, result.Iterations)
	require.Len(t, escalated, 1)
	require.Equal(t, "max_iterations", escalated[0].Data["reason"])
}

func TestRunner_CancellationStopsWithoutFurtherCalls(t *testing.T) {
	llm := &scriptedLLM{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := New(llm, eventbus.New(), nil, nil, Config{MaxIterations: 5, Timeout: time.Minute})
	result := r.Run(ctx, "agent-1", model.AgentCoder, model.Task{ID: "T1"}, AgentContext{})

	require.False(t, result.Success)
	require.Equal(t, "Execution cancelled", result.Reason)
	require.Equal(t, 0, result.Iterations)
}

type fakeTools struct{ calledWith []string }

func (f *fakeTools) Execute(name string, arguments map[string]any) (model.ToolCallResult, error) {
	f.calledWith = append(f.calledWith, name)
	return model.ToolCallResult{ToolCallID: "call-1", Result: "ok"}, nil
}

func (f *fakeTools) GetAvailableTools() []model.ToolSpec { return nil }

func TestRunner_ToolDispatchThenCompletes(t *testing.T) {
	llm := &scriptedLLM{responses: []model.ChatResponse{
		{Content: "", ToolCalls: []model.ToolCall{{ID: "call-1", Name: "read_file", Arguments: map[string]any{"path": "a.go"}}}},
		textResp("Done. [TASK_COMPLETE]"),
	}}
	tools := &fakeTools{}
	r := New(llm, eventbus.New(), tools, nil, Config{MaxIterations: 5, Timeout: time.Minute})
	result := r.Run(context.Background(), "agent-1", model.AgentCoder, model.Task{ID: "T1"}, AgentContext{})

	require.True(t, result.Success)
	require.Equal(t, []string{"read_file"}, tools.calledWith)
}

func TestReviewer_ApprovalOverriddenByStrictPredicate(t *testing.T) {
	content := "```json\n{\"approved\": true, \"issues\": [{\"severity\": \"critical\", \"message\": \"bad\"}], \"summary\": \"ok\"}\n```"
	out := ParseReviewOutput(content)
	require.NotNil(t, out)
	require.True(t, out.Approved)
	require.False(t, ShouldApproveReview(*out))
}

func TestMerger_AutoCompletePredicate(t *testing.T) {
	safe := MergeOutput{Conflicts: []MergeConflict{{Severity: ConflictSimple, Type: ConflictContent}}}
	require.True(t, ShouldAutoCompleteMerge(safe))

	unsafe := MergeOutput{Conflicts: []MergeConflict{{Severity: ConflictComplex, Type: ConflictContent}}}
	require.False(t, ShouldAutoCompleteMerge(unsafe))

	deleteModify := MergeOutput{Conflicts: []MergeConflict{{Severity: ConflictSimple, Type: ConflictDeleteModify}}}
	require.False(t, ShouldAutoCompleteMerge(deleteModify))
}

func TestExtractJSON_FirstBalancedObject(t *testing.T) {
	content := `here is the result {"a": 1, "b": {"c": 2}} trailing text`
	require.Equal(t, `{"a": 1, "b": {"c": 2}}`, extractJSON(content))
}
