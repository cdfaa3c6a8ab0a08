// Package reports implements HTTP handlers for report management and
// manual generation.
package reports

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pulsewatch/internal/api/types"
	"pulsewatch/internal/report"
)

// Handler manages report endpoints.
type Handler struct {
	reports *report.Service
}

// NewHandler creates a report handler.
func NewHandler(reports *report.Service) *Handler {
	return &Handler{reports: reports}
}

// List handles GET /api/v1/reports
func (h *Handler) List(c *gin.Context) {
	reports, err := h.reports.List(c.Request.Context(), types.OwnerID(c))
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to list reports", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(reports))
}

// Create handles POST /api/v1/reports
//
// schedule accepts "daily", "weekly-<0..6>" (0 is Sunday), "monthly-<1..31>"
// or nothing for manual generation only.
func (h *Handler) Create(c *gin.Context) {
	var req report.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	r, err := h.reports.Create(c.Request.Context(), types.OwnerID(c), req)
	if err != nil {
		types.AbortWithError(c, types.FromError("report", err))
		return
	}
	c.JSON(http.StatusCreated, types.SuccessResponse(r))
}

// Get handles GET /api/v1/reports/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "report")
	if !ok {
		return
	}

	r, err := h.reports.Get(c.Request.Context(), types.OwnerID(c), id)
	if err != nil {
		types.AbortWithError(c, types.FromError("report", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(r))
}

// Update handles PATCH /api/v1/reports/:id
func (h *Handler) Update(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "report")
	if !ok {
		return
	}

	var patch report.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	r, err := h.reports.Update(c.Request.Context(), types.OwnerID(c), id, patch)
	if err != nil {
		types.AbortWithError(c, types.FromError("report", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(r))
}

// Delete handles DELETE /api/v1/reports/:id
func (h *Handler) Delete(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "report")
	if !ok {
		return
	}

	if err := h.reports.Delete(c.Request.Context(), types.OwnerID(c), id); err != nil {
		types.AbortWithError(c, types.FromError("report", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"id": id, "deleted": true}))
}

// Generate handles POST /api/v1/reports/:id/generate
//
// Builds and publishes the report now and returns the artifact.
func (h *Handler) Generate(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "report")
	if !ok {
		return
	}

	artifact, err := h.reports.Generate(c.Request.Context(), types.OwnerID(c), id)
	if err != nil {
		types.AbortWithError(c, types.FromError("report", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(artifact))
}
