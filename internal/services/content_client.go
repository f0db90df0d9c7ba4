package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"

	"github.com/pathwise/pathwise-backend/internal/logger"
	"github.com/pathwise/pathwise-backend/internal/types"
)

type GenerationErrorKind string

const (
	GenerationErrorTransient GenerationErrorKind = "transient"
	GenerationErrorPermanent GenerationErrorKind = "permanent"
)

// GenerationError is the single failure shape the orchestrator branches on.
// Every transport-level anomaly from the generation backend is normalized
// into one of the two kinds before it leaves this client.
type GenerationError struct {
	Kind GenerationErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("content generation (%s): %v", e.Kind, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) IsTransient() bool { return e.Kind == GenerationErrorTransient }

// GenerationContext is everything the backend needs to produce content for
// one (subject, target) pair.
type GenerationContext struct {
	SubjectID     uuid.UUID
	TargetID      uuid.UUID
	Title         string
	TargetTitle   string
	SubjectSkills []ContextSkill
	GapReport     *types.GapReport
}

type ContextSkill struct {
	Name        string `json:"name"`
	Proficiency int    `json:"proficiency"`
}

// GeneratedPayload is the backend's answer before persistence.
type GeneratedPayload struct {
	Title string
	Body  map[string]any
	Model string
}

type ContentGenerationClient interface {
	Generate(ctx context.Context, genCtx GenerationContext) (*GeneratedPayload, error)
}

type contentGenerationClient struct {
	log *logger.Logger
	ai  OpenAIClient
}

func NewContentGenerationClient(baseLog *logger.Logger, ai OpenAIClient) ContentGenerationClient {
	return &contentGenerationClient{
		log: baseLog.With("service", "ContentGenerationClient"),
		ai:  ai,
	}
}

const contentGenerationSystem = `You create a personalized learning path that closes a person's skill gaps for a target role.
Recommend 3-5 courses ordered by priority. For each course give a title, a short
description, learning objectives, an estimated duration in hours, its relevance to
the role, and a content type (video, reading, interactive, or mixed).
Address the highest-weighted gaps first and build on the transferable skills listed.`

var contentGenerationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"title":   map[string]any{"type": "string"},
		"summary": map[string]any{"type": "string"},
		"courses": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":           map[string]any{"type": "string"},
					"description":     map[string]any{"type": "string"},
					"objectives":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					"estimated_hours": map[string]any{"type": "number"},
					"relevance":       map[string]any{"type": "string"},
					"content_type":    map[string]any{"type": "string"},
				},
				"required":             []string{"title", "description", "objectives", "estimated_hours", "relevance", "content_type"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"title", "summary", "courses"},
	"additionalProperties": false,
}

func (c *contentGenerationClient) Generate(ctx context.Context, genCtx GenerationContext) (*GeneratedPayload, error) {
	userPayload := map[string]any{
		"subject_id":   genCtx.SubjectID,
		"target_id":    genCtx.TargetID,
		"target_title": genCtx.TargetTitle,
		"skills":       genCtx.SubjectSkills,
		"gap_report":   genCtx.GapReport,
	}
	if genCtx.Title != "" {
		userPayload["requested_title"] = genCtx.Title
	}
	user, err := json.Marshal(userPayload)
	if err != nil {
		return nil, &GenerationError{Kind: GenerationErrorPermanent, Err: err}
	}

	out, err := c.ai.GenerateJSON(ctx, contentGenerationSystem, string(user), "learning_path", contentGenerationSchema)
	if err != nil {
		var malformed *malformedOutputError
		if errors.As(err, &malformed) {
			// The backend answered, just not in the agreed shape. Keep the
			// raw text rather than burning a retry on formatting.
			c.log.Warn("Generation output was not valid JSON, keeping raw text",
				"subject_id", genCtx.SubjectID, "target_id", genCtx.TargetID)
			return &GeneratedPayload{
				Title: genCtx.Title,
				Body:  map[string]any{"raw_content": malformed.Raw},
				Model: c.ai.Model(),
			}, nil
		}
		return nil, classifyGenerationErr(err)
	}

	title, _ := out["title"].(string)
	if title == "" {
		title = genCtx.Title
	}
	return &GeneratedPayload{
		Title: title,
		Body:  out,
		Model: c.ai.Model(),
	}, nil
}

func classifyGenerationErr(err error) *GenerationError {
	var httpErr *openAIHTTPError
	if errors.As(err, &httpErr) {
		if isRetryableHTTP(httpErr.StatusCode) {
			return &GenerationError{Kind: GenerationErrorTransient, Err: err}
		}
		return &GenerationError{Kind: GenerationErrorPermanent, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &GenerationError{Kind: GenerationErrorTransient, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &GenerationError{Kind: GenerationErrorTransient, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &GenerationError{Kind: GenerationErrorTransient, Err: err}
	}
	// Unknown anomalies are retried; the retry budget bounds the damage.
	return &GenerationError{Kind: GenerationErrorTransient, Err: err}
}
