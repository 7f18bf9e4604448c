package llmproc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

func TestClientChatReadsResponseFromStdout(t *testing.T) {
	script := `read _; echo '{"content":"hi [TASK_COMPLETE]","usage":{"inputTokens":3,"outputTokens":2,"totalTokens":5},"finishReason":"stop"}'`
	c := New(Config{Command: "sh", Args: []string{"-c", script}, StartTimeout: 5 * time.Second})

	resp, err := c.Chat(model.ChatRequest{Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "go"}}})
	require.NoError(t, err)
	require.Equal(t, "hi [TASK_COMPLETE]", resp.Content)
	require.Equal(t, 5, resp.Usage.TotalTokens)
	require.Equal(t, model.FinishStop, resp.FinishReason)
}

func TestClientChatSurfacesProcessFailure(t *testing.T) {
	c := New(Config{Command: "sh", Args: []string{"-c", "read _; echo boom 1>&2; exit 1"}, StartTimeout: 5 * time.Second})

	_, err := c.Chat(model.ChatRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestClientChatSurfacesEmptyOutput(t *testing.T) {
	c := New(Config{Command: "sh", Args: []string{"-c", "read _"}, StartTimeout: 5 * time.Second})

	_, err := c.Chat(model.ChatRequest{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no output")
}

func TestClientChatHonorsStartTimeout(t *testing.T) {
	c := New(Config{Command: "sh", Args: []string{"-c", "read _; sleep 5; echo '{}'"}, StartTimeout: 50 * time.Millisecond})

	_, err := c.Chat(model.ChatRequest{})
	require.Error(t, err)
}
