package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"copycat/services"
	"copycat/types"
	"copycat/websocket"
)

const defaultHistoryLimit = 50

// CopyHandler handles copy job endpoints and the progress stream
type CopyHandler struct {
	copyQueue services.CopyQueue
	hub       websocket.Hub
}

// NewCopyHandler creates a new copy handler
func NewCopyHandler(cq services.CopyQueue, hub websocket.Hub) *CopyHandler {
	return &CopyHandler{
		copyQueue: cq,
		hub:       hub,
	}
}

func jobID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid job id %q", c.Param("id")),
		})
		return 0, false
	}
	return id, true
}

// StartCopy queues a new copy job
func (h *CopyHandler) StartCopy(c *gin.Context) {
	var req types.StartCopyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	job, err := h.copyQueue.AddJob(req.SourcePath, req.DestinationPath)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// GetQueue returns the queued and processing jobs
func (h *CopyHandler) GetQueue(c *gin.Context) {
	c.JSON(http.StatusOK, h.copyQueue.Queue())
}

// GetHistory returns finished jobs, newest first
func (h *CopyHandler) GetHistory(c *gin.Context) {
	var q struct {
		Limit  int `form:"limit" binding:"min=0"`
		Offset int `form:"offset" binding:"min=0"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit == 0 {
		q.Limit = defaultHistoryLimit
	}
	c.JSON(http.StatusOK, h.copyQueue.History(q.Limit, q.Offset))
}

// GetJob returns a specific copy job by ID
func (h *CopyHandler) GetJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	job, exists := h.copyQueue.GetJob(id)
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}
	c.JSON(http.StatusOK, job)
}

// CancelJob cancels a queued or processing job
func (h *CopyHandler) CancelJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.copyQueue.CancelJob(id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, types.MessageResponse{
		Message: "Job cancellation requested. Partial files will be cleaned up.",
	})
}

// ClearQueue cancels every queued and processing job
func (h *CopyHandler) ClearQueue(c *gin.Context) {
	n := h.copyQueue.CancelAll()
	c.JSON(http.StatusOK, types.MessageResponse{
		Message: fmt.Sprintf("Cancelled %d jobs", n),
	})
}

// RetryJob queues a copy of a failed job
func (h *CopyHandler) RetryJob(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	job, err := h.copyQueue.RetryJob(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, job)
}

// HandleProgressStream upgrades to a websocket that receives every
// progress event
func (h *CopyHandler) HandleProgressStream(c *gin.Context) {
	upgrader := websocket.GetUpgrader()
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", c.ClientIP(), "error", err)
		return
	}

	websocket.NewClient(h.hub, conn).StartPumps()
}
