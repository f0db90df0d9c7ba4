package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pathwise/pathwise-backend/internal/services"
)

type NormalizationHandler struct {
	svc services.SkillNormalizerService
}

func NewNormalizationHandler(svc services.SkillNormalizerService) *NormalizationHandler {
	return &NormalizationHandler{svc: svc}
}

type normalizeRequest struct {
	Skills     []string `json:"skills" binding:"required"`
	DomainHint *string  `json:"domain_hint,omitempty"`
}

// POST /api/skills/normalize
func (h *NormalizationHandler) NormalizeBatch(c *gin.Context) {
	var req normalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if len(req.Skills) == 0 {
		RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("skills list is empty"))
		return
	}

	var domainHint *uuid.UUID
	if req.DomainHint != nil && *req.DomainHint != "" {
		hint, err := uuid.Parse(*req.DomainHint)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "invalid_domain_hint", err)
			return
		}
		domainHint = &hint
	}

	matches, err := h.svc.NormalizeBatch(c.Request.Context(), req.Skills, domainHint)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "normalization_failed", err)
		return
	}

	RespondOK(c, gin.H{"matches": matches})
}
