package runner

import (
	"fmt"
	"strings"

	"github.com/omarkhaled-auto/nexus/internal/model"
)

// completionMarker is the universal, case-sensitive completion signal
// recognized for every subtype.
const completionMarker = "[TASK_COMPLETE]"

// completionPhrases is the case-insensitive substring vocabulary per
// subtype, keyed by model.AgentType.
var completionPhrases = map[model.AgentType][]string{
	model.AgentCoder: {
		"implementation complete",
		"task completed successfully",
		"all acceptance criteria satisfied",
		"implementation is complete",
		"changes have been completed",
		"task has been completed",
	},
	model.AgentTester: {
		"tests complete",
		"test implementation complete",
		"all tests have been written",
		"testing is complete",
		"test coverage complete",
		"tests are ready",
		"test suite is complete",
	},
	model.AgentReviewer: {
		"review complete",
		"code review complete",
		"review is complete",
		"finished reviewing",
		"review summary:",
	},
	model.AgentMerger: {
		"merge complete",
	},
}

func matchesCompletionPhrase(subtype model.AgentType, content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range completionPhrases[subtype] {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func systemPrompt(subtype model.AgentType) string {
	switch subtype {
	case model.AgentCoder:
		return "You are a coding agent. Implement the assigned task end to end. " +
			"When every acceptance criterion is satisfied, say so explicitly and end with " + completionMarker + "."
	case model.AgentTester:
		return "You are a testing agent. Write tests that exercise the assigned task's acceptance criteria. " +
			"When the test suite is complete, say so explicitly and end with " + completionMarker + "."
	case model.AgentReviewer:
		return "You are a code review agent. Review the assigned change and respond with a JSON object " +
			`containing "approved", "issues", "suggestions", and "summary". ` +
			"End with " + completionMarker + " once the review is final."
	case model.AgentMerger:
		return "You are a merge-conflict-resolution agent. Resolve the assigned conflicts and respond with a JSON object " +
			`containing "success", "conflicts", and "resolutions". ` +
			"End with " + completionMarker + " once resolution is final."
	default:
		return "You are an autonomous software engineering agent working on a single assigned task."
	}
}

func buildTaskPrompt(subtype model.AgentType, task model.Task, tc *model.TaskContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n%s\n\n", task.Name, task.Description)
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	if tc != nil {
		if tc.RepoMap != "" {
			fmt.Fprintf(&b, "Repository map:\n%s\n\n", tc.RepoMap)
		}
		if tc.CodebaseDocs.Summary != "" {
			fmt.Fprintf(&b, "Codebase documentation:\n%s\n\n", tc.CodebaseDocs.Summary)
		}
		for _, f := range tc.RelevantFiles {
			fmt.Fprintf(&b, "File %s:\n%s\n\n", f.Path, f.Content)
		}
		for _, c := range tc.RelevantCode {
			fmt.Fprintf(&b, "Relevant code (%s:%d-%d, score=%.2f):\n%s\n\n", c.Chunk.File, c.Chunk.StartLine, c.Chunk.EndLine, c.Score, c.Chunk.Content)
		}
	}
	return b.String()
}

func continuationPrompt(subtype model.AgentType) string {
	switch subtype {
	case model.AgentCoder:
		return "Continue implementing the task. Report " + completionMarker + " once every acceptance criterion is met."
	case model.AgentTester:
		return "Continue writing tests. Report " + completionMarker + " once the suite is complete."
	case model.AgentReviewer:
		return "Continue the review. Respond with the final JSON review object and " + completionMarker + " when done."
	case model.AgentMerger:
		return "Continue resolving conflicts. Respond with the final JSON resolution object and " + completionMarker + " when done."
	default:
		return "Continue working on the task."
	}
}

func errorRecoveryPrompt(subtype model.AgentType, errMsg string) string {
	return fmt.Sprintf("The previous step failed with an error: %s\nAdjust your approach and continue working on the task.", errMsg)
}
