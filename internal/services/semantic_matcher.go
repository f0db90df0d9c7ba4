package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/pathwise/pathwise-backend/internal/logger"
)

// ErrSemanticUnavailable signals that the semantic matcher could not produce
// an answer (transport failure, refusal, or unparseable output). Callers fall
// back to the edit-distance candidate; this is never a fatal error.
var ErrSemanticUnavailable = errors.New("semantic matcher unavailable")

type SemanticCandidate struct {
	SkillID uuid.UUID
	Name    string
}

type SemanticMatch struct {
	SkillID    uuid.UUID
	Confidence float64
}

type SemanticMatcher interface {
	BestMatch(ctx context.Context, rawText string, candidates []SemanticCandidate) (*SemanticMatch, error)
}

type semanticMatcher struct {
	log *logger.Logger
	ai  OpenAIClient
}

func NewSemanticMatcher(baseLog *logger.Logger, ai OpenAIClient) SemanticMatcher {
	return &semanticMatcher{
		log: baseLog.With("service", "SemanticMatcher"),
		ai:  ai,
	}
}

const semanticMatchSystem = `You map a free-text skill label onto one entry of a fixed skill catalog.
Pick the catalog entry that names the same skill, if one exists.
Report a confidence between 0 and 1. If nothing fits, use the id "none" with confidence 0.`

var semanticMatchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"skill_id": map[string]any{
			"type":        "string",
			"description": "id of the chosen catalog entry, or \"none\"",
		},
		"confidence": map[string]any{
			"type":    "number",
			"minimum": 0,
			"maximum": 1,
		},
	},
	"required":             []string{"skill_id", "confidence"},
	"additionalProperties": false,
}

func (m *semanticMatcher) BestMatch(ctx context.Context, rawText string, candidates []SemanticCandidate) (*SemanticMatch, error) {
	if strings.TrimSpace(rawText) == "" || len(candidates) == 0 {
		return nil, ErrSemanticUnavailable
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Skill label: %q\n\nCatalog:\n", rawText)
	byID := make(map[string]uuid.UUID, len(candidates))
	for _, cand := range candidates {
		fmt.Fprintf(&sb, "- id=%s name=%q\n", cand.SkillID, cand.Name)
		byID[cand.SkillID.String()] = cand.SkillID
	}

	out, err := m.ai.GenerateJSON(ctx, semanticMatchSystem, sb.String(), "skill_match", semanticMatchSchema)
	if err != nil {
		m.log.Warn("Semantic match call failed", "raw_text", rawText, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrSemanticUnavailable, err)
	}

	idStr, _ := out["skill_id"].(string)
	confidence, _ := out["confidence"].(float64)
	if idStr == "" || idStr == "none" {
		return nil, nil
	}
	skillID, ok := byID[idStr]
	if !ok {
		// Model invented an id outside the candidate list.
		m.log.Warn("Semantic match returned unknown candidate id", "raw_text", rawText, "skill_id", idStr)
		return nil, fmt.Errorf("%w: unknown candidate id", ErrSemanticUnavailable)
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}
	return &SemanticMatch{SkillID: skillID, Confidence: confidence}, nil
}
