package types

import "time"

// Stage identifies a cascade stage.
type Stage int

const (
	StageExact Stage = iota + 1
	StageStructural
	StageSemantic
	StageVector
)

// String returns the stage name.
func (s Stage) String() string {
	switch s {
	case StageExact:
		return "exact"
	case StageStructural:
		return "structural"
	case StageSemantic:
		return "semantic"
	case StageVector:
		return "vector"
	default:
		return "unknown"
	}
}

// Match is a previously stored record matched by one cascade stage.
type Match struct {
	ContentID  string    `json:"content_id"`
	AdvisorID  string    `json:"advisor_id"`
	CreatedAt  time.Time `json:"created_at"`
	Similarity float64   `json:"similarity,omitempty"`
	Stage      Stage     `json:"stage"`
}

// UniquenessResult is the outcome of a uniqueness check.
//
// Only ExactMatch blocks acceptance; the other lists are advisory.
type UniquenessResult struct {
	IsUnique          bool    `json:"is_unique"`
	ExactMatch        *Match  `json:"exact_match,omitempty"`
	StructuralMatches []Match `json:"structural_matches"`
	SemanticMatches   []Match `json:"semantic_matches"`
	SimilarContent    []Match `json:"similar_content"`
}

// HasNearDuplicates reports whether any advisory stage found candidates.
func (r *UniquenessResult) HasNearDuplicates() bool {
	return len(r.StructuralMatches) > 0 || len(r.SemanticMatches) > 0 || len(r.SimilarContent) > 0
}
