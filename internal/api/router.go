package api

import (
	"dfs-lite/internal/master"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(r *gin.Engine, m *master.Master) {
	r.Use(Logger())
	r.Use(Recovery())

	handler := NewHandler(m)
	folderHandler := NewFolderHandler(m)
	healthHandler := NewHealthHandler(m)
	metricsHandler := NewMetricsHandler(m)

	setupFileRoutes(r, handler)
	setupFolderRoutes(r, folderHandler)
	setupManagementRoutes(r, handler)
	setupHealthRoutes(r, healthHandler, metricsHandler)
}

func setupFileRoutes(r *gin.Engine, handler *Handler) {
	files := r.Group("/file")
	{
		files.POST("", handler.Upload)
		files.GET("/:id/info", handler.GetFileInfo)
		files.GET("/:id", handler.Download)
		files.DELETE("/:id", handler.Delete)
	}

	r.GET("/files", handler.ListFiles)
	r.GET("/search", handler.Search)
}

func setupFolderRoutes(r *gin.Engine, handler *FolderHandler) {
	folders := r.Group("/folders")
	{
		folders.GET("", handler.Tree)
		folders.POST("", handler.Create)
		folders.PUT("/:id/name", handler.Rename)
		folders.PUT("/:id/parent", handler.Move)
		folders.DELETE("/:id", handler.Delete)
	}
}

func setupManagementRoutes(r *gin.Engine, handler *Handler) {
	r.GET("/status", handler.Status)
	r.GET("/nodes", handler.ListNodes)
}

func setupHealthRoutes(r *gin.Engine, healthHandler *HealthHandler, metricsHandler *MetricsHandler) {
	health := r.Group("/health")
	{
		health.GET("", healthHandler.Health)
		health.GET("/live", healthHandler.Liveness)
		health.GET("/ready", healthHandler.Readiness)
	}

	r.GET("/metrics", metricsHandler.Metrics)
}
