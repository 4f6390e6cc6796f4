package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics serves the prometheus exposition of the default registry.
func Metrics() gin.HandlerFunc {
	metrics.Init()
	return gin.WrapH(promhttp.Handler())
}
