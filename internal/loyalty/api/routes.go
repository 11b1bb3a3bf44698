package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the loyalty endpoints on r.
func RegisterRoutes(r *gin.Engine, h *Handler) {
	r.Use(corsMiddleware())

	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	clients := r.Group("/clients")
	{
		clients.GET("", h.ListClients)
		clients.GET("/:id", h.GetClient)
		clients.GET("/:id/barcodes", h.ListClientBarcodes)
		clients.GET("/:id/history", h.ListClientHistory)
	}

	barcodes := r.Group("/barcodes")
	{
		barcodes.GET("/unassigned", h.ListUnassignedBarcodes)
		barcodes.POST("", h.GenerateBarcodes)
		barcodes.POST("/:code/assign", h.AssignBarcode)
		barcodes.POST("/:code/scan", h.ScanBarcode)
	}

	r.POST("/sync", h.Sync)
}

// NewRouter builds an engine with recovery and the loyalty routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	RegisterRoutes(r, h)
	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
