package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/pkg/response"
)

type SyncHandler struct {
	sync *services.SyncService
}

func NewSyncHandler(sync *services.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Trigger pulls external reviews for one branch and waits for the result
// POST /api/branches/:branchId/sync
func (h *SyncHandler) Trigger(c *gin.Context) {
	result, err := h.sync.SyncExternalReviews(c.Request.Context(), c.Param("branchId"))
	if err != nil {
		fail(c, err)
		return
	}

	response.Success(c, result)
}
