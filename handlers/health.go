package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"copycat/services"
	"copycat/websocket"
)

// Version is reported by the health endpoints
var Version = "dev"

// HealthHandler handles health check endpoints
type HealthHandler struct {
	copyQueue services.CopyQueue
	hub       websocket.Hub
	roots     services.Roots
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(cq services.CopyQueue, hub websocket.Hub, roots services.Roots) *HealthHandler {
	return &HealthHandler{
		copyQueue: cq,
		hub:       hub,
		roots:     roots,
	}
}

// HealthCheck returns the health status of the service
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "copycat",
		"version":   Version,
		"timestamp": time.Now().Unix(),
	})
}

// APIStatus returns the roots, job counts and stream clients
func (h *HealthHandler) APIStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":          "CopyCat API is running",
		"source_root":      h.roots.Source,
		"destination_root": h.roots.Destination,
		"jobs":             h.copyQueue.Counts(),
		"stream_clients":   h.hub.ClientCount(),
	})
}
