package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/pkg/logger"
)

const sseKeepAlive = 25 * time.Second

// SSEHandler streams finalized reviews to dashboard subscribers
type SSEHandler struct {
	hub       *services.SSEHub
	keepAlive time.Duration
}

func NewSSEHandler(hub *services.SSEHub) *SSEHandler {
	return &SSEHandler{hub: hub, keepAlive: sseKeepAlive}
}

// StreamBranchEvents is mounted behind AuthRequired and BranchScoped.
// GET /api/events/branches/:branchId
func (h *SSEHandler) StreamBranchEvents(c *gin.Context) {
	branchID := c.Param("branchId")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(200)
	c.Writer.Flush()

	clientID := uuid.New().String()
	events := h.hub.Subscribe(clientID, branchID)
	defer h.hub.Unsubscribe(clientID)

	logger.Info().Str("client_id", clientID).Str("branch", branchID).Int("total", h.hub.ClientCount()).Msg("SSE client connected")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				logger.Error().Err(err).Msg("SSE marshal error")
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data)
			c.Writer.Flush()
		case <-ticker.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		case <-c.Request.Context().Done():
			logger.Info().Str("client_id", clientID).Msg("SSE client disconnected")
			return
		}
	}
}
