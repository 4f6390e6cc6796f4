package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/services"
	"github.com/huangang/reviewiq/pkg/logger"
	"github.com/huangang/reviewiq/pkg/response"
)

// fail maps a service error to its HTTP form. Server-side failures are
// logged here because the client only sees a generic message.
func fail(c *gin.Context, err error) {
	appErr := services.ToAppError(err)
	if ae, ok := appErr.(*response.AppError); ok && ae.HTTPStatus >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	response.Error(c, appErr)
}
