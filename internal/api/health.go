package api

import (
	"net/http"
	"time"

	"dfs-lite/internal/master"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	master *master.Master
}

func NewHealthHandler(m *master.Master) *HealthHandler {
	return &HealthHandler{master: m}
}

func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

// Readiness stays 503 until the restart window has closed.
func (h *HealthHandler) Readiness(c *gin.Context) {
	if !h.master.Ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "waiting for restarted nodes",
			"pending": h.master.Nodes().Pending(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"nodes":  h.master.Nodes().Len(),
		"uptime": h.master.Uptime().Seconds(),
	})
}

func (h *HealthHandler) Health(c *gin.Context) {
	stats, err := h.master.Stats()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	status := "healthy"
	if h.master.Nodes().Len() == 0 {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().Unix(),
		"uptime":    h.master.Uptime().Seconds(),
		"ready":     h.master.Ready(),
		"storage": gin.H{
			"live_nodes":      stats["live_nodes"],
			"total_space":     stats["total_space"],
			"space_available": stats["space_available"],
			"total_files":     stats["total_files"],
			"lost_parts":      stats["lost_parts"],
		},
	})
}
