package monitors

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pulsewatch/internal/api/types"
	"pulsewatch/internal/core"
	"pulsewatch/internal/registry"
	"pulsewatch/internal/stats"
)

// Handler manages monitor endpoints. Every route acts on behalf of the
// owner resolved by the identity middleware.
type Handler struct {
	registry *registry.Registry
	engine   *core.Engine
	stats    *stats.Aggregator
}

// NewHandler creates a monitor handler.
func NewHandler(reg *registry.Registry, engine *core.Engine, aggregator *stats.Aggregator) *Handler {
	return &Handler{registry: reg, engine: engine, stats: aggregator}
}

// List handles GET /api/v1/monitors
func (h *Handler) List(c *gin.Context) {
	monitors, err := h.registry.ListByOwner(c.Request.Context(), types.OwnerID(c))
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to list monitors", err))
		return
	}

	responses := make([]MonitorResponse, 0, len(monitors))
	for i := range monitors {
		responses = append(responses, toResponse(&monitors[i], h.engine.IsMonitorRunning(monitors[i].ID)))
	}
	c.JSON(http.StatusOK, types.SuccessResponse(responses))
}

// Create handles POST /api/v1/monitors
//
// The guild comes from X-Guild-ID. Active monitors are probed once before
// the response is written, so the returned status is already fresh.
func (h *Handler) Create(c *gin.Context) {
	var req registry.Input
	if err := c.ShouldBindJSON(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	m, err := h.registry.Create(c.Request.Context(), types.OwnerID(c), types.GuildID(c), req)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusCreated, types.SuccessResponse(toResponse(m, h.engine.IsMonitorRunning(m.ID))))
}

// Get handles GET /api/v1/monitors/:id
func (h *Handler) Get(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	m, err := h.registry.GetOwned(c.Request.Context(), types.OwnerID(c), id)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(toResponse(m, h.engine.IsMonitorRunning(m.ID))))
}

// Update handles PATCH /api/v1/monitors/:id
func (h *Handler) Update(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	var patch registry.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	m, err := h.registry.Update(c.Request.Context(), types.OwnerID(c), id, patch)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(toResponse(m, h.engine.IsMonitorRunning(m.ID))))
}

// Delete handles DELETE /api/v1/monitors/:id
//
// Deleting a monitor that no longer exists succeeds.
func (h *Handler) Delete(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	if err := h.registry.Delete(c.Request.Context(), types.OwnerID(c), id); err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(gin.H{"id": id, "deleted": true}))
}

// Start handles POST /api/v1/monitors/:id/start
func (h *Handler) Start(c *gin.Context) {
	h.setActive(c, true)
}

// Stop handles POST /api/v1/monitors/:id/stop
func (h *Handler) Stop(c *gin.Context) {
	h.setActive(c, false)
}

func (h *Handler) setActive(c *gin.Context, active bool) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	m, err := h.registry.SetActive(c.Request.Context(), types.OwnerID(c), id, active)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(toResponse(m, h.engine.IsMonitorRunning(m.ID))))
}

// Check handles POST /api/v1/monitors/:id/check
//
// Runs one probe outside the schedule and returns its result.
func (h *Handler) Check(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.registry.GetOwned(ctx, types.OwnerID(c), id); err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}

	result, err := h.engine.CheckNow(ctx, id)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(result))
}

// Stats handles GET /api/v1/monitors/:id/stats
func (h *Handler) Stats(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.registry.GetOwned(ctx, types.OwnerID(c), id); err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}

	st, err := h.stats.Get(ctx, id)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}
	c.JSON(http.StatusOK, types.SuccessResponse(st))
}

// Logs handles GET /api/v1/monitors/:id/logs
//
// Query parameters:
//   - limit (default: 20, max: 100)
//   - offset (default: 0)
//
// Entries are returned newest first.
func (h *Handler) Logs(c *gin.Context) {
	id, ok := types.ParseID(c, "id", "monitor")
	if !ok {
		return
	}

	var page types.PaginationRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}

	ctx := c.Request.Context()
	if _, err := h.registry.GetOwned(ctx, types.OwnerID(c), id); err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}

	logs, total, err := h.stats.Logs(ctx, id, page.Limit, page.Offset)
	if err != nil {
		types.AbortWithError(c, types.FromError("monitor", err))
		return
	}

	responses := make([]CheckLogResponse, 0, len(logs))
	for _, l := range logs {
		responses = append(responses, toLogResponse(l))
	}

	limit, offset := stats.ClampPage(page.Limit, page.Offset)
	c.JSON(http.StatusOK, types.SuccessResponseWithPagination(responses, &types.PaginationResponse{
		Limit:  limit,
		Offset: offset,
		Total:  total,
	}))
}
