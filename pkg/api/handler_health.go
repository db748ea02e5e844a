package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mediavault/mediavault/pkg/database"
)

// healthHandler handles GET /healthz. Only this process's own components
// are checked; external model providers are excluded so an upstream
// outage cannot get this pod restarted.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := &HealthResponse{
		Status:   "healthy",
		Database: database.Health(ctx, s.db),
	}
	if !resp.Database.Reachable {
		resp.Status = "unhealthy"
	}

	if s.pool != nil {
		resp.WorkerPool = s.pool.Health()
		if resp.WorkerPool != nil && !resp.WorkerPool.IsHealthy && resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}

	httpStatus := http.StatusOK
	if resp.Status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, resp)
}
