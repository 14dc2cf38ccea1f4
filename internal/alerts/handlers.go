package alerts

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskwatch/internal/event"
)

// Handler serves the read-only operator API over the recent-alerts cache
// and, when an audit store is configured, per-entity alert history.
type Handler struct {
	recent *RecentStore
	audit  Store // nil when history is disabled
	logger *slog.Logger
}

// NewHandler creates the alerts HTTP handler. audit may be nil.
func NewHandler(recent *RecentStore, audit Store, logger *slog.Logger) *Handler {
	return &Handler{recent: recent, audit: audit, logger: logger}
}

// RegisterRoutes sets up alert routes on the given group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.GetRecent)
	r.GET("/alerts/:entityId", h.GetHistory)
}

// GetRecent handles GET /alerts?limit=N. Returns [] when the cache is
// empty, newest alerts first.
func (h *Handler) GetRecent(c *gin.Context) {
	limit := DefaultMaxRecent
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a non-negative integer",
			})
			return
		}
		if n > 0 {
			limit = n
		}
	}

	result := h.recent.Recent(limit)
	if result == nil {
		result = []*event.RiskAlert{}
	}
	c.JSON(http.StatusOK, result)
}

// GetHistory handles GET /alerts/:entityId?limit=N from the audit store.
func (h *Handler) GetHistory(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "history_disabled",
			"message": "Alert history store is not configured",
		})
		return
	}

	limit := DefaultMaxRecent
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	result, err := h.audit.ListByEntity(c.Request.Context(), c.Param("entityId"), limit)
	if err != nil {
		h.logger.Error("alert history query failed", "entity_id", c.Param("entityId"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "history_error",
			"message": "Failed to query alert history",
		})
		return
	}
	if result == nil {
		result = []*event.RiskAlert{}
	}
	c.JSON(http.StatusOK, result)
}
