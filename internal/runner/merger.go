package runner

import "encoding/json"

// ConflictSeverity is the severity of a single merge conflict.
type ConflictSeverity string

const (
	ConflictSimple   ConflictSeverity = "simple"
	ConflictModerate ConflictSeverity = "moderate"
	ConflictComplex  ConflictSeverity = "complex"
	ConflictCritical ConflictSeverity = "critical"
)

// ConflictType classifies the kind of merge conflict.
type ConflictType string

const (
	ConflictContent      ConflictType = "content"
	ConflictRename       ConflictType = "rename"
	ConflictDeleteModify ConflictType = "delete-modify"
	ConflictSemantic     ConflictType = "semantic"
	ConflictDependency   ConflictType = "dependency"
)

// MergeConflict is a single conflict reported by a merger agent.
type MergeConflict struct {
	File                string           `json:"file"`
	Type                ConflictType     `json:"type"`
	Severity            ConflictSeverity `json:"severity"`
	Description         string           `json:"description"`
	OurChanges          string           `json:"ourChanges"`
	TheirChanges        string           `json:"theirChanges"`
	SuggestedResolution string           `json:"suggestedResolution,omitempty"`
	NeedsManualReview   bool             `json:"needsManualReview"`
}

// MergeOutput is the parsed shape of a merger's JSON response.
type MergeOutput struct {
	Success            bool            `json:"success"`
	Conflicts          []MergeConflict `json:"conflicts"`
	Resolutions        []string        `json:"resolutions"`
	UnresolvedCount    int             `json:"unresolvedCount"`
	Summary            string          `json:"summary"`
	RequiresHumanReview bool           `json:"requiresHumanReview"`
}

// ParseMergeOutcome extracts and parses a merger's JSON response using the
// same extraction rule as ParseReviewOutput. Returns nil on extraction or
// parse failure.
func ParseMergeOutcome(content string) *MergeOutput {
	raw := extractJSON(content)
	if raw == "" {
		return nil
	}
	var out MergeOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return &out
}

// hasMergeJSONGate reports whether content contains a JSON object with
// both "success" and "conflicts" keys — the merger subtype's structured
// completion gate.
func hasMergeJSONGate(content string) bool {
	raw := extractJSON(content)
	if raw == "" {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return false
	}
	_, hasSuccess := m["success"]
	_, hasConflicts := m["conflicts"]
	return hasSuccess && hasConflicts
}

// ShouldAutoCompleteMerge reports whether every conflict is safe enough to
// resolve without a human: severity simple or moderate, NeedsManualReview
// false, and type not delete-modify.
func ShouldAutoCompleteMerge(out MergeOutput) bool {
	for _, c := range out.Conflicts {
		if c.Severity != ConflictSimple && c.Severity != ConflictModerate {
			return false
		}
		if c.NeedsManualReview {
			return false
		}
		if c.Type == ConflictDeleteModify {
			return false
		}
	}
	return true
}
