package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/user/filmrec/internal/handler"
	"github.com/user/filmrec/internal/middleware"
)

// RegisterRoutes 注册所有路由
func RegisterRoutes(r *gin.Engine, h *handler.Handler) {
	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ==================== 前端 API ====================
	api := r.Group("/api")
	{
		api.POST("/movies", h.ListMovies)
		api.GET("/movies/:id", h.GetMovie)
		api.GET("/genres", h.Genres)
		api.GET("/certifications", h.Certifications)
	}

	// ==================== 管理接口 ====================
	if h.Config.AdminSecret == "" {
		return
	}
	admin := r.Group("/api/admin")
	admin.Use(middleware.RequireAdmin(h.Config.AdminSecret))
	{
		admin.POST("/ingest", h.AdminIngest)
		admin.GET("/ingest", h.AdminIngestStatus)
		admin.POST("/reset", h.AdminReset)
		admin.POST("/reconcile", h.AdminReconcile)
		admin.DELETE("/cache", h.AdminClearCache)
	}
}
