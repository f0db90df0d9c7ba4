package types

import (
	"github.com/google/uuid"
)

const (
	MatchMethodExact        = "exact"
	MatchMethodEditDistance = "edit_distance"
	MatchMethodSemantic     = "semantic"
	MatchMethodUnmatched    = "unmatched"
)

// NormalizedSkillMatch is the result of normalizing one raw skill label
// against the taxonomy. Unmatched and low-confidence are valid outcomes,
// not errors; callers branch on Method and LowConfidence.
type NormalizedSkillMatch struct {
	RawText       string     `json:"raw_text"`
	SkillID       *uuid.UUID `json:"skill_id,omitempty"`
	Confidence    float64    `json:"confidence"`
	Method        string     `json:"method"`
	LowConfidence bool       `json:"low_confidence,omitempty"`
	HierarchyPath []string   `json:"hierarchy_path,omitempty"`
}

// GapReport is a pure derivation of a subject's SkillRecord set against a
// target's RequirementProfile. It is recomputed on demand and never stored
// as authoritative state.
type GapReport struct {
	SubjectID          uuid.UUID     `json:"subject_id"`
	TargetID           uuid.UUID     `json:"target_id"`
	OverallScore       float64       `json:"overall_score"`
	Categories         []CategoryGap `json:"categories"`
	Gaps               []GapEntry    `json:"gaps"`
	TransferableSkills []uuid.UUID   `json:"transferable_skills"`
}

type CategoryGap struct {
	Category string  `json:"category"`
	AvgGap   float64 `json:"avg_gap"`
}

type GapEntry struct {
	SkillID    uuid.UUID `json:"skill_id"`
	SkillName  string    `json:"skill_name"`
	Category   string    `json:"category"`
	Gap        int       `json:"gap"`
	Importance float64   `json:"importance"`
	IsMissing  bool      `json:"is_missing"`
}
