// Package router provides inventory service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/inventory-rag/internal/inventory/handler"
	"github.com/kart-io/inventory-rag/pkg/infra/middleware"
)

// Register registers the inventory service routes.
func Register(engine *gin.Engine, h *handler.InventoryHandler, health *middleware.HealthManager) {
	logger.Info("Registering inventory routes...")

	engine.GET("/healthz", health.Handler())
	engine.GET("/version", middleware.Version())
	engine.GET("/metrics", h.Metrics)

	v1 := engine.Group("/v1")
	{
		inventory := v1.Group("/inventory")
		{
			// Tenant lifecycle
			inventory.POST("/tenants/:tenant/initialize", h.Initialize)
			inventory.POST("/tenants/:tenant/refresh", h.Refresh)
			inventory.GET("/tenants/:tenant/status", h.Status)

			// Query endpoint
			inventory.POST("/query", h.Query)
		}
	}

	logger.Info("HTTP routes registered")
}
