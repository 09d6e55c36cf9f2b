package health

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/linefeed/chatbroker/internal/v1/bus"
	"github.com/linefeed/chatbroker/internal/v1/logging"
)

// RoomCounter reports how many rooms the broker currently serves. Satisfied
// by *broker.Broker.
type RoomCounter interface {
	RoomCount() int
}

// Handler serves the liveness and readiness probes on the ops listener.
type Handler struct {
	relay  *bus.Service // nil in single-instance mode
	broker RoomCounter
}

// NewHandler creates a health check handler. relay may be nil.
func NewHandler(relay *bus.Service, broker RoomCounter) *Handler {
	return &Handler{relay: relay, broker: broker}
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Rooms     int               `json:"rooms"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint
// GET /health/live
// Returns 200 if the process is alive (no dependency checks)
func (h *Handler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness handles the readiness probe endpoint
// GET /health/ready
// Returns 200 only if all critical dependencies are healthy
// Returns 503 if any dependency is unhealthy
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := map[string]string{
		"redis": h.checkRedis(ctx),
	}

	status := "ready"
	statusCode := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "unavailable"
			statusCode = http.StatusServiceUnavailable
		}
	}

	rooms := 0
	if h.broker != nil {
		rooms = h.broker.RoomCount()
	}

	c.JSON(statusCode, ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Rooms:     rooms,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// checkRedis verifies relay bus connectivity using PING. Single-instance
// deployments have no bus and are trivially healthy.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.relay == nil {
		return "healthy"
	}
	if err := h.relay.Ping(ctx); err != nil {
		logging.Error(ctx, "Redis health check failed", zap.Error(err))
		return "unhealthy"
	}
	return "healthy"
}
