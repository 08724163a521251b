package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/quanglt/vulnscan-be/internal/api/dto"
)

// QueueStatus handles GET /api/v1/queue/status
// Combines job store counts with the broker queue depth. A broker outage
// degrades broker_healthy instead of failing the call.
func (h *StatusHandler) QueueStatus(c *gin.Context) {
	counts, err := h.storage.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count jobs by status", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read queue status",
		})
		return
	}

	resp := dto.QueueStatusResponse{
		Pending:    counts.Pending,
		Processing: counts.Processing,
		Completed:  counts.Completed,
		Failed:     counts.Failed,
	}

	if h.rabbitClient != nil && h.rabbitClient.IsConnected() {
		depth, err := h.rabbitClient.QueueDepth()
		if err != nil {
			h.logger.Warn("Failed to inspect queue depth", slog.String("error", err.Error()))
		} else {
			resp.QueueDepth = depth
			resp.BrokerHealthy = true
		}
	}

	c.JSON(http.StatusOK, resp)
}
