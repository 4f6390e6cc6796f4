package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/models"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/internal/store"
)

// HealthHandler reports the state of every subsystem.
type HealthHandler struct {
	store store.Store
	queue services.TaskQueue
	hub   *services.SSEHub
}

func NewHealthHandler(s store.Store, queue services.TaskQueue, hub *services.SSEHub) *HealthHandler {
	return &HealthHandler{store: s, queue: queue, hub: hub}
}

// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	overall := "healthy"
	status := http.StatusOK

	dbStatus := "ok"
	if err := h.store.Ping(ctx); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	queueMode := "sync"
	if h.queue != nil && h.queue.IsAsync() {
		queueMode = "async (Redis)"
	}

	var pendingCount int64 = -1
	if dbStatus == "ok" {
		pendingCount, _ = h.store.CountReviews(ctx, store.Query{Where: []store.Predicate{
			store.Eq(store.FieldStatus, models.ReviewStatusPending),
			store.Eq(store.FieldIsDeleted, false),
		}})
	}

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "reviewiq",
		"components": gin.H{
			"database":        dbStatus,
			"queue_mode":      queueMode,
			"sse_clients":     h.hub.ClientCount(),
			"pending_reviews": pendingCount,
		},
	})
}
