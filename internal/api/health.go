package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// LivenessHandler answers without touching any dependency. Readiness,
// including the database and the model provider, is served by the health checker.
type LivenessHandler struct {
	version string
	started time.Time
}

// HealthResponse represents the liveness response structure
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

func NewLivenessHandler(version string) *LivenessHandler {
	return &LivenessHandler{version: version, started: time.Now()}
}

// Live reports that the process is serving requests
func (h *LivenessHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}
