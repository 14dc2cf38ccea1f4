package webhook

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskwatch/internal/security"
)

// Handler provides HTTP endpoints for managing webhook subscriptions.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates the webhook admin handler.
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes sets up webhook management routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/:entityId", h.Create)
	r.GET("/webhooks/:entityId", h.List)
	r.DELETE("/webhooks/:entityId", h.Delete)
}

// CreateWebhookRequest registers a subscriber URL for an entity.
type CreateWebhookRequest struct {
	URL string `json:"url" binding:"required"`
}

// Create handles POST /webhooks/:entityId.
func (h *Handler) Create(c *gin.Context) {
	entityID := c.Param("entityId")

	var req CreateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Request body must include url",
		})
		return
	}

	// Registration from the API goes through the SSRF guard; direct
	// Register calls (tests, trusted wiring) only get URL validation.
	if err := security.ValidateWebhookURL(req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "unsafe_url",
			"message": err.Error(),
		})
		return
	}

	if err := h.dispatcher.Register(entityID, req.URL); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_url",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"entityId": entityID,
		"url":      req.URL,
	})
}

// List handles GET /webhooks/:entityId.
func (h *Handler) List(c *gin.Context) {
	entityID := c.Param("entityId")
	c.JSON(http.StatusOK, gin.H{
		"entityId": entityID,
		"webhooks": h.dispatcher.Webhooks(entityID),
	})
}

// Delete handles DELETE /webhooks/:entityId?url=<subscriber>.
func (h *Handler) Delete(c *gin.Context) {
	entityID := c.Param("entityId")
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_url",
			"message": "url query parameter is required",
		})
		return
	}

	if !h.dispatcher.Unregister(entityID, rawURL) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "No such webhook registration",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
