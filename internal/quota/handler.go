package quota

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"filevault-backend/internal/shared/server/middleware"
	"filevault-backend/internal/shared/server/respond"
)

// Handler exposes quota endpoints.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches quota routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/quota", h.getQuota)
}

// RegisterDevRoutes attaches dev-only quota routes.
func (h *Handler) RegisterDevRoutes(rg *gin.RouterGroup) {
	rg.PUT("/quota", h.setLimit)
}

type profileResponse struct {
	UserID          string  `json:"user_id"`
	StorageLimit    int64   `json:"storage_limit"`
	LogicalUsed     int64   `json:"logical_used"`
	Available       int64   `json:"available"`
	UsagePercentage float64 `json:"usage_percentage"`
	UpdatedAt       string  `json:"updated_at"`
}

func toResponse(p Profile) profileResponse {
	return profileResponse{
		UserID:          p.OwnerID,
		StorageLimit:    p.StorageLimitBytes,
		LogicalUsed:     p.LogicalUsed,
		Available:       p.Available(),
		UsagePercentage: p.UsagePercent(),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

func (h *Handler) getQuota(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	p, err := h.Svc.GetOrInit(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err, "failed to fetch quota")
		return
	}
	respond.OK(c, toResponse(p))
}

type setLimitRequest struct {
	StorageLimitBytes *int64 `json:"storage_limit_bytes"`
	StorageLimitMB    *int64 `json:"storage_limit_mb"`
}

func (h *Handler) setLimit(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)
	var req setLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid JSON body", nil)
		return
	}
	var limit int64
	switch {
	case req.StorageLimitBytes != nil:
		limit = *req.StorageLimitBytes
	case req.StorageLimitMB != nil:
		limit = *req.StorageLimitMB << 20
	default:
		respond.Error(c, http.StatusBadRequest, "validation_error", "storage_limit_bytes or storage_limit_mb is required", nil)
		return
	}

	p, err := h.Svc.SetLimit(c.Request.Context(), userID, limit)
	if err != nil {
		h.writeError(c, err, "failed to update quota")
		return
	}
	respond.OK(c, toResponse(p))
}

func (h *Handler) writeError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidOwner):
		respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respond.Error(c, http.StatusRequestTimeout, "timeout", "request canceled", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", msg, nil)
	}
}
