package runner

import "encoding/json"

// ReviewIssue is a single finding from a reviewer agent.
type ReviewIssue struct {
	Severity   string `json:"severity"`
	Category   string `json:"category"`
	File       string `json:"file"`
	Line       *int   `json:"line,omitempty"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ReviewOutput is the parsed, defaulted shape of a reviewer's JSON response.
type ReviewOutput struct {
	Approved    bool          `json:"approved"`
	Issues      []ReviewIssue `json:"issues"`
	Suggestions []string      `json:"suggestions"`
	Summary     string        `json:"summary"`
}

type rawReviewOutput struct {
	Approved    *bool         `json:"approved"`
	Issues      []ReviewIssue `json:"issues"`
	Suggestions []string      `json:"suggestions"`
	Summary     *string       `json:"summary"`
}

// ParseReviewOutput extracts and parses a reviewer's JSON response,
// applying the documented defaults for any missing field. Returns nil if
// no JSON object could be extracted or parsed (runner treats that as
// "not yet complete", never an error).
func ParseReviewOutput(content string) *ReviewOutput {
	raw := extractJSON(content)
	if raw == "" {
		return nil
	}

	var r rawReviewOutput
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return nil
	}

	out := &ReviewOutput{Suggestions: r.Suggestions}
	if r.Approved != nil {
		out.Approved = *r.Approved
	}
	out.Summary = "No summary provided"
	if r.Summary != nil && *r.Summary != "" {
		out.Summary = *r.Summary
	}
	for _, issue := range r.Issues {
		if issue.Severity == "" {
			issue.Severity = "minor"
		}
		if issue.Category == "" {
			issue.Category = "maintainability"
		}
		if issue.File == "" {
			issue.File = "unknown"
		}
		if issue.Message == "" {
			issue.Message = "No message"
		}
		out.Issues = append(out.Issues, issue)
	}
	return out
}

// hasReviewJSONGate reports whether content contains a JSON object with
// both "approved" and "summary" keys — the reviewer subtype's structured
// completion gate, independent of whether the review actually approves.
func hasReviewJSONGate(content string) bool {
	raw := extractJSON(content)
	if raw == "" {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return false
	}
	_, hasApproved := m["approved"]
	_, hasSummary := m["summary"]
	return hasApproved && hasSummary
}

// ShouldApproveReview is the independent, stricter approval predicate:
// it rejects any review carrying at least one critical issue or more than
// two major issues, regardless of the LLM's self-reported Approved field.
func ShouldApproveReview(r ReviewOutput) bool {
	critical, major := 0, 0
	for _, issue := range r.Issues {
		switch issue.Severity {
		case "critical":
			critical++
		case "major":
			major++
		}
	}
	if critical >= 1 || major > 2 {
		return false
	}
	return true
}
