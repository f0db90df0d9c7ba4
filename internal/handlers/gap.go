package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pathwise/pathwise-backend/internal/services"
)

type GapHandler struct {
	svc services.GapAnalysisService
}

func NewGapHandler(svc services.GapAnalysisService) *GapHandler {
	return &GapHandler{svc: svc}
}

// GET /api/subjects/:id/gap/:targetId
func (h *GapHandler) GetGapReport(c *gin.Context) {
	subjectID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_subject_id", err)
		return
	}
	targetID, err := uuid.Parse(c.Param("targetId"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_target_id", err)
		return
	}

	report, err := h.svc.BuildReport(c.Request.Context(), subjectID, targetID)
	if err != nil {
		RespondError(c, http.StatusNotFound, "gap_report_failed", err)
		return
	}

	RespondOK(c, gin.H{"report": report})
}
