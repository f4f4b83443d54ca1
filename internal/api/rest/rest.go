package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/feral-file/ff-version-index/internal/api/middleware"
)

// SetupRoutes configures all REST API routes
func SetupRoutes(router *gin.Engine, handler Handler, authCfg middleware.AuthConfig) {
	// Health check endpoint (no auth, no version prefix)
	router.GET("/health", handler.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/tokens/:chain", handler.ListTokens)
		v1.GET("/tokens/:chain/:contract/:token", handler.GetToken)
		v1.GET("/tokens/:chain/:contract/:token/versions", handler.ListVersions)

		v1.GET("/changes", handler.GetChanges)

		v1.POST("/admin/rebuild", middleware.Auth(authCfg), handler.TriggerRebuild)
	}
}
