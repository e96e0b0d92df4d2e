// internal/api/router.go
package api

import (
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
)

const staticCacheControl = "public, max-age=3600, must-revalidate"

// Register 把所有路由注册到 router 上
func (s *Server) Register(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/download", s.downloadHandler)
		api.GET("/tasks", s.getTasksHandler)
		api.POST("/tasks/clear", s.clearTasksHandler)
		api.GET("/tasks/:id", s.getTaskHandler)
		api.POST("/tasks/:id/cancel", s.cancelTaskHandler)
		api.POST("/tasks/:id/retry", s.retryTaskHandler)
		api.DELETE("/tasks/:id", s.removeTaskHandler)

		api.GET("/settings", s.getSettingsHandler)
		api.PUT("/settings", s.updateSettingsHandler)
		api.GET("/services", s.getServicesHandler)
		api.PUT("/services/:id", s.updateServiceHandler)
		api.DELETE("/services/:id", s.removeServiceHandler)
	}
	router.GET("/health", s.healthHandler)

	// 前端静态文件，/static 下的资源带缓存头
	if dir := s.cfg.StaticDir; dir != "" {
		static := router.Group("/static", cacheControl())
		static.Static("/", dir)
		router.StaticFile("/", filepath.Join(dir, "index.html"))
	}
}

// NewRouter 创建带日志与恢复中间件的 gin 引擎并注册路由
func (s *Server) NewRouter() *gin.Engine {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	s.Register(router)
	return router
}

func cacheControl() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/static/") {
			c.Header("Cache-Control", staticCacheControl)
		}
		c.Next()
	}
}
