package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all application routes
func SetupRoutes(router *gin.Engine, h *Handlers) {
	api := router.Group("/api")
	{
		api.GET("/health", h.HealthCheck)

		// Case endpoints
		api.GET("/cases", h.ListCases)
		api.GET("/cases/:id", h.GetCase)

		// Lead endpoints
		api.GET("/leads", h.ListLeads)
		api.PATCH("/leads/:id/status", h.UpdateLeadStatus)

		// Scraping
		api.POST("/retrieve", h.Retrieve)
		api.GET("/scrapers", h.Scrapers)

		api.GET("/cache/stats", h.CacheStats)
	}
}
