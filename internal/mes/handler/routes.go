package handler

import (
	"net/http"
	"strings"

	"github.com/bitfantasy/nimo-mes/internal/middleware"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const apiPrefix = "/api/v1/mes"

// NewRouter 创建带全局中间件的路由
func NewRouter(h *Handlers, jwtSecret, mode string, logger *zap.Logger) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())
	router.Use(middleware.RequestID())
	// SSE 流不能压缩，否则事件会被缓冲
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{apiPrefix + "/sse"})))

	RegisterRoutes(router, h, jwtSecret)
	return router
}

// RegisterRoutes 注册全部路由
func RegisterRoutes(r *gin.Engine, h *Handlers, jwtSecret string) {
	if h.Health != nil {
		r.GET("/health/live", h.Health.Live)
		r.GET("/health/ready", h.Health.Ready)
		r.GET("/version", h.Health.Version)
	}

	r.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"code": CodeNotFound, "message": "Not found"})
			return
		}
		c.Status(http.StatusNotFound)
	})

	api := r.Group(apiPrefix)
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		api.GET("/sse/events", h.SSE.Stream)

		workOrders := api.Group("/work-orders")
		{
			workOrders.GET("", h.WorkOrder.List)
			workOrders.POST("", h.WorkOrder.Create)
			workOrders.GET("/:id", h.WorkOrder.Get)
			workOrders.DELETE("/:id", h.WorkOrder.Delete)
			workOrders.GET("/:id/readiness", h.WorkOrder.Readiness)
			workOrders.POST("/:id/readiness/recalculate", h.WorkOrder.Recalculate)
		}

		operations := api.Group("/operations")
		{
			operations.GET("/:id", h.Operation.Get)
			operations.PUT("/:id/status", h.Operation.UpdateStatus)
			operations.PUT("/:id/quantity", h.Operation.UpdateQuantity)
			operations.PUT("/:id/assignee", h.Operation.Assign)
			operations.GET("/:id/history", h.Operation.History)
			operations.GET("/:id/dependencies", h.Operation.ListDependencies)
			operations.POST("/:id/dependencies", h.Operation.AddDependency)
			operations.GET("/:id/readiness", h.Operation.Readiness)
		}

		workCenters := api.Group("/work-centers")
		{
			workCenters.GET("/:id/operations", h.WorkCenter.Operations)
			workCenters.GET("/:id/ready", h.WorkCenter.Ready)
			workCenters.GET("/:id/queue", h.WorkCenter.Queue)
			workCenters.POST("/:id/queue/rebuild", h.WorkCenter.RebuildQueue)
			workCenters.GET("/:id/queue/export", h.WorkCenter.ExportQueue)
		}

		api.POST("/parts/:id/routings/import", h.Part.ImportRouting)

		notifications := api.Group("/notifications")
		{
			notifications.GET("", h.Notification.List)
			notifications.POST("/:id/read", h.Notification.MarkRead)
		}

		admin := api.Group("/admin", middleware.RequireRole(middleware.AdminRole))
		{
			admin.POST("/permissions/:user_id/invalidate", h.Admin.InvalidatePermissions)
		}
	}
}
