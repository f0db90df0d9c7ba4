package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pathwise/pathwise-backend/internal/jobs"
	"github.com/pathwise/pathwise-backend/internal/services"
)

type GenerationHandler struct {
	svc    services.GenerationService
	worker *jobs.Worker
}

func NewGenerationHandler(svc services.GenerationService, worker *jobs.Worker) *GenerationHandler {
	return &GenerationHandler{svc: svc, worker: worker}
}

type enqueueRequest struct {
	TargetID   string   `json:"target_id" binding:"required"`
	TargetType string   `json:"target_type,omitempty"`
	SubjectIDs []string `json:"subject_ids" binding:"required"`
	Title      string   `json:"title,omitempty"`
}

// POST /api/generation/jobs
func (h *GenerationHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_target_id", err)
		return
	}
	subjectIDs := make([]uuid.UUID, 0, len(req.SubjectIDs))
	for _, raw := range req.SubjectIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
			return
		}
		subjectIDs = append(subjectIDs, id)
	}

	result, err := h.svc.Enqueue(c.Request.Context(), targetID, req.TargetType, subjectIDs, services.EnqueueOptions{Title: req.Title})
	if err != nil {
		if errors.Is(err, services.ErrInvalidEnqueueRequest) {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "enqueue_failed", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"job": result})
}

// GET /api/generation/jobs/:id
func (h *GenerationHandler) GetStatus(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	status, err := h.svc.Status(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "status_failed", err)
		return
	}

	RespondOK(c, gin.H{"job": status})
}

// POST /api/generation/jobs/:id/cancel
func (h *GenerationHandler) Cancel(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_job_id", err)
		return
	}
	status, err := h.svc.Cancel(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, services.ErrJobNotFound) {
			RespondError(c, http.StatusNotFound, "job_not_found", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "cancel_failed", err)
		return
	}

	RespondOK(c, gin.H{"job": status})
}

type triggerRequest struct {
	SubjectID string `json:"subject_id" binding:"required"`
	TargetID  string `json:"target_id" binding:"required"`
}

// POST /api/generation/trigger
func (h *GenerationHandler) TriggerSingle(c *gin.Context) {
	var req triggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	subjectID, err := uuid.Parse(req.SubjectID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
		return
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_target_id", err)
		return
	}

	task, err := h.svc.TriggerSingle(c.Request.Context(), subjectID, targetID)
	if err != nil {
		if errors.Is(err, services.ErrInvalidEnqueueRequest) {
			RespondError(c, http.StatusBadRequest, "invalid_request", err)
			return
		}
		RespondError(c, http.StatusInternalServerError, "trigger_failed", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

type tickRequest struct {
	Limit int `json:"limit,omitempty"`
}

// POST /api/generation/tick drains pending tasks and sweeps stale ones. It
// exists for deployments that drive the queue from an external scheduler
// instead of the resident worker pool.
func (h *GenerationHandler) Tick(c *gin.Context) {
	var req tickRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	requeued, failed, err := h.svc.ReclaimStale(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "reclaim_failed", err)
		return
	}
	executed, err := h.worker.DrainTick(c.Request.Context(), req.Limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "tick_failed", err)
		return
	}

	RespondOK(c, gin.H{
		"executed": executed,
		"requeued": requeued,
		"failed":   failed,
	})
}
