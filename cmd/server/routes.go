package main

import (
	"github.com/gin-gonic/gin"
	"github.com/huangang/reviewiq/internal/handlers"
	"github.com/huangang/reviewiq/internal/middleware"
	"github.com/huangang/reviewiq/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS(svc.cfg.Server.CORSOrigins))

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", handlers.Metrics())

	api := r.Group("/api")
	{
		// Customer intake is public and throttled per IP
		api.POST("/reviews", svc.limiter.Middleware(), svc.reviewHandler.Submit)

		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/reviews", svc.reviewHandler.List)
			protected.GET("/reviews/:id", svc.reviewHandler.GetByID)
			protected.GET("/reviews/:id/responses", svc.reviewHandler.ListResponses)
			protected.GET("/branches", middleware.AdminRequired(), svc.reviewHandler.ListBranches)

			// SSE clients pass the token as ?token=
			protected.GET("/events/branches/:branchId", middleware.BranchScoped("branchId"), svc.sseHandler.StreamBranchEvents)

			analytics := protected.Group("/analytics")
			{
				analytics.GET("/branch/:branchId", middleware.BranchScoped("branchId"), svc.analyticsHandler.GetBranchMetrics)
				analytics.GET("/trends/:branchId", middleware.BranchScoped("branchId"), svc.analyticsHandler.GetTrends)
				analytics.GET("/sla/:branchId", middleware.BranchScoped("branchId"), svc.analyticsHandler.GetSla)
				analytics.GET("/staff/:staffId", svc.analyticsHandler.GetStaff)
			}

			// Staff writes are audited
			audited := protected.Group("", middleware.AuditLog(svc.audit))
			{
				audited.POST("/reviews/:id/responses", svc.reviewHandler.Respond)
				audited.POST("/branches/:branchId/sync", middleware.BranchScoped("branchId"), svc.syncHandler.Trigger)
			}
		}
	}
}
