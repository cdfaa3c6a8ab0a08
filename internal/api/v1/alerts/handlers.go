// Package alerts implements HTTP handlers for alert rule management.
package alerts

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pulsewatch/internal/alert"
	"pulsewatch/internal/api/types"
)

// Handler manages alert rule endpoints.
type Handler struct {
	rules *alert.Service
}

// NewHandler creates an alert rule handler.
func NewHandler(rules *alert.Service) *Handler {
	return &Handler{rules: rules}
}

// List handles GET /api/v1/monitors/:id/alerts
func (h *Handler) List(c *gin.Context) {
	monitorID, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	rules, err := h.rules.List(c.Request.Context(), types.OwnerID(c), monitorID)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(rules))
}

// Create handles POST /api/v1/monitors/:id/alerts
//
// consecutive_failures defaults to 3 and cooldown_seconds to 300.
func (h *Handler) Create(c *gin.Context) {
	monitorID, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	var req alert.RuleInput
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	rule, err := h.rules.Create(c.Request.Context(), types.OwnerID(c), monitorID, req)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusCreated, types.SuccessResponse(rule))
}

// Update handles PATCH /api/v1/alerts/:id
func (h *Handler) Update(c *gin.Context) {
	ruleID, ok := types.ParseID(c, "id", "alert rule")
	if !ok {
		return
	}

	var patch alert.RulePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	rule, err := h.rules.Update(c.Request.Context(), types.OwnerID(c), ruleID, patch)
	if err != nil {
		types.AbortWithError(c, types.FromError("alert rule", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(rule))
}

// Delete handles DELETE /api/v1/alerts/:id
func (h *Handler) Delete(c *gin.Context) {
	ruleID, ok := types.ParseID(c, "id", "alert rule")
	if !ok {
		return
	}

	if err := h.rules.Delete(c.Request.Context(), types.OwnerID(c), ruleID); err != nil {
		types.AbortWithError(c, types.FromError("alert rule", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"id": ruleID, "deleted": true}))
}
