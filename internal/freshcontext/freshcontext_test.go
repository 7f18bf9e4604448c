package freshcontext

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

func TestBuildFreshContext_AlwaysEmptyHistory(t *testing.T) {
	m := NewManager(0)
	tc, err := m.BuildFreshContext(context.Background(), model.Task{ID: "t1", Name: "do thing"}, Options{ProjectID: "p1"})
	require.NoError(t, err)
	require.Empty(t, tc.ConversationHistory)
	require.LessOrEqual(t, tc.TokenCount, tc.TokenBudget)
}

func TestBuildFreshContext_NoDependenciesStillValid(t *testing.T) {
	m := NewManager(1000)
	tc, err := m.BuildFreshContext(context.Background(), model.Task{ID: "t1"}, Options{})
	require.NoError(t, err)
	v := tc.Validate()
	require.True(t, v.Valid)
	require.NotEmpty(t, v.Suggestions)
}

type fakeFileLoader struct{ files map[string]string }

func (f fakeFileLoader) Load(ctx context.Context, path string) (string, error) {
	return f.files[path], nil
}

func TestBuildFreshContext_LoadsTaskFiles(t *testing.T) {
	m := NewManager(5000, WithFileLoader(fakeFileLoader{files: map[string]string{
		"a.go": "package a\nfunc A() {}\n",
	}}))
	tc, err := m.BuildFreshContext(context.Background(), model.Task{ID: "t1", Files: []string{"a.go"}}, Options{})
	require.NoError(t, err)
	require.Len(t, tc.RelevantFiles, 1)
	require.Equal(t, "a.go", tc.RelevantFiles[0].Path)
	require.True(t, strings.Contains(tc.RelevantFiles[0].Content, "func A"))
}

func TestBuildFreshContext_TinyBudgetNeverOverflows(t *testing.T) {
	m := NewManager(10, WithFileLoader(fakeFileLoader{files: map[string]string{"a.go": strings.Repeat("x", 10000)}}))
	tc, err := m.BuildFreshContext(context.Background(), model.Task{ID: "t1", Files: []string{"a.go"}}, Options{})
	require.NoError(t, err)
	require.LessOrEqual(t, tc.TokenCount, tc.TokenBudget)
}

func TestPrepareAndPurgeAgentContext(t *testing.T) {
	m := NewManager(0)
	res, err := m.PrepareAgentContext(context.Background(), "agent-1", model.Task{ID: "t1"}, Options{})
	require.NoError(t, err)
	require.Equal(t, "t1", res.TaskID)

	_, ok := m.GetAgentContext("agent-1")
	require.True(t, ok)

	m.OnTaskComplete("agent-1", "t1")
	_, ok = m.GetAgentContext("agent-1")
	require.False(t, ok)
}
