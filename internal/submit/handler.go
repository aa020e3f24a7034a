package submit

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"receipts-backend/internal/shared/metrics"
	"receipts-backend/internal/shared/server/middleware"
	"receipts-backend/internal/shared/server/respond"
	"receipts-backend/internal/shared/telemetry"
)

// Handler exposes the submit route.
type Handler struct {
	svc *Service
}

// NewHandler constructs the submission handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes registers the submission routes on the given group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/submit", h.submit)
}

func (h *Handler) submit(c *gin.Context) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil {
		metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
		respond.Error(c, http.StatusBadRequest, "invalid-body", "invalid request body", nil)
		return
	}
	if req.BatchID != "" {
		c.Set("batchId", req.BatchID)
	}

	requestID := middleware.RequestIDFromContext(c)
	itemID, err := h.svc.Submit(c.Request.Context(), req, requestID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidField):
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusBadRequest, "invalid-field", "unknown or malformed field", nil)
		case errors.Is(err, ErrInvalidSignature):
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusBadRequest, "invalid-signature", "signature rejected", nil)
		case errors.Is(err, ErrInvalidBatch):
			metrics.SubmissionsTotal.WithLabelValues("rejected").Inc()
			respond.Error(c, http.StatusBadRequest, "invalid-batch", "batch id rejected", nil)
		default:
			// The external store's raw error never reaches the caller;
			// full detail is logged with the correlation id.
			metrics.SubmissionsTotal.WithLabelValues("error").Inc()
			telemetry.Error("submit.failed", map[string]any{
				"request_id": requestID,
				"err":        err.Error(),
			})
			respond.Error(c, http.StatusInternalServerError, "internal", "Unexpected server error", nil)
		}
		return
	}

	metrics.SubmissionsTotal.WithLabelValues("ok").Inc()
	respond.OK(c, gin.H{"ok": true, "itemId": itemID})
}
