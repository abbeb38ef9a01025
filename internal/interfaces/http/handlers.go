package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jinkaiteo/edms/internal/application/scheduler"
	"github.com/jinkaiteo/edms/internal/domain/entity"
)

// Handlers contains all HTTP request handlers
type Handlers struct {
	deps   Deps
	logger Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps, logger Logger) *Handlers {
	return &Handlers{deps: deps, logger: logger}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
}

// SweepRequest carries the optional as_of query parameter (YYYY-MM-DD)
type SweepRequest struct {
	AsOf string `form:"as_of"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	healthy, components := true, map[string]string(nil)
	if h.deps.Health != nil {
		healthy, components = h.deps.Health.Healthy()
	}

	response := HealthResponse{
		Status:     "healthy",
		Timestamp:  h.deps.Clock.Now().UTC().Format(time.RFC3339),
		Components: components,
	}
	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, Response{Success: healthy, Data: response})
}

// ReadyCheck handles GET /ready
func (h *Handlers) ReadyCheck(c *gin.Context) {
	if h.deps.Health == nil || !h.deps.Health.Ready() {
		c.JSON(http.StatusServiceUnavailable, Response{Success: false, Error: "not ready"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// TriggerSweep handles POST /internal/sweep
func (h *Handlers) TriggerSweep(c *gin.Context) {
	var req SweepRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "invalid query parameters"})
		return
	}

	asOf := entity.DateOf(h.deps.Clock.Now().In(h.deps.Location))
	if req.AsOf != "" {
		parsed, err := entity.ParseDate(req.AsOf)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{Success: false, Error: "as_of must be YYYY-MM-DD"})
			return
		}
		asOf = parsed
	}

	h.logger.Info("Manual sweep requested", "as_of", asOf.Format(entity.DateLayout))

	report, err := h.deps.Sweeper.RunLocked(c.Request.Context(), h.deps.Lock, asOf)
	if errors.Is(err, scheduler.ErrSweepInProgress) {
		c.JSON(http.StatusConflict, Response{Success: false, Error: err.Error()})
		return
	}
	if err != nil {
		h.logger.Error("Manual sweep failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "sweep failed"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: report})
}

// ListStale handles GET /internal/stale
func (h *Handlers) ListStale(c *gin.Context) {
	alerts, err := h.deps.Scanner.Scan(c.Request.Context(), h.deps.Clock.Now())
	if err != nil {
		h.logger.Error("Stale scan failed", "error", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "stale scan failed"})
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: alerts})
}
