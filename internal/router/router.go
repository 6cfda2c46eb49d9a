package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/config"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/handlers"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/metrics"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/middleware"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
)

// Deps 路由依赖的服务实例，由 main 统一创建
type Deps struct {
	Clusters   *services.ClusterService
	Dashboard  *services.DashboardService
	Cards      *services.MetricCardService
	Schedules  *services.ScheduleService
	Reports    *services.ReportService
	Dispatcher *services.Dispatcher
	Board      *services.StatusBoard
	Agent      services.AgentGateway
	// Ready 检查存储是否可用，为 nil 时视为就绪
	Ready func(ctx context.Context) error
}

// Setup 注册所有路由
func Setup(cfg *config.Config, deps Deps) *gin.Engine {
	r := gin.New()

	r.Use(
		gin.Recovery(),
		gin.Logger(),
		middleware.CORS(),
		// 报表与历史接口响应体较大
		gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/api/v1/agent/pull/ws"})),
	)

	// Health endpoints：liveness 与 readiness
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"ready": true})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api/v1")
	auth := middleware.AuthRequired(cfg.JWT.Secret)

	clusterHandler := handlers.NewClusterHandler(deps.Clusters, deps.Dispatcher)
	dashboardHandler := handlers.NewDashboardHandler(deps.Dashboard)
	checkHandler := handlers.NewCheckHandler(deps.Dispatcher, deps.Clusters)
	scheduleHandler := handlers.NewScheduleHandler(deps.Schedules)

	clusters := api.Group("/clusters")
	{
		clusters.GET("", clusterHandler.GetClusters)
		clusters.POST("", auth, clusterHandler.CreateCluster)
		clusters.GET("/status", dashboardHandler.GetStatuses)
		clusters.GET("/:clusterID", clusterHandler.GetCluster)
		clusters.PUT("/:clusterID", auth, clusterHandler.UpdateCluster)
		clusters.DELETE("/:clusterID", auth, clusterHandler.DeleteCluster)
		clusters.GET("/:clusterID/status", dashboardHandler.GetClusterStatus)
		clusters.GET("/:clusterID/addons", clusterHandler.ListAddons)
		clusters.POST("/:clusterID/addons", auth, clusterHandler.CreateAddon)
		clusters.GET("/:clusterID/schedule", scheduleHandler.GetSchedule)
		clusters.PUT("/:clusterID/schedule", auth, scheduleHandler.UpdateSchedule)
	}
	api.DELETE("/addons/:addonID", auth, clusterHandler.DeleteAddon)

	checks := api.Group("/checks", auth)
	{
		checks.POST("/clusters", checkHandler.TriggerAll)
		checks.POST("/clusters/:clusterID", checkHandler.TriggerCluster)
	}

	api.GET("/summary", dashboardHandler.GetSummary)
	api.GET("/history", dashboardHandler.GetHistory)
	api.GET("/reports/daily", handlers.NewReportHandler(deps.Reports).DownloadDaily)

	monitoringHandler := handlers.NewMonitoringHandler(deps.Cards)
	promql := api.Group("/promql")
	{
		promql.GET("/cards", monitoringHandler.ListCards)
		promql.POST("/cards", auth, monitoringHandler.CreateCard)
		promql.GET("/cards/query", monitoringHandler.QueryAll)
		promql.GET("/cards/:id", monitoringHandler.GetCard)
		promql.PUT("/cards/:id", auth, monitoringHandler.UpdateCard)
		promql.DELETE("/cards/:id", auth, monitoringHandler.DeleteCard)
		promql.GET("/cards/:id/query", monitoringHandler.QueryCard)
		promql.POST("/test", monitoringHandler.TestQuery)
		promql.GET("/health", monitoringHandler.Health)
	}

	agentHandler := handlers.NewAgentHandler(deps.Agent, deps.Clusters, deps.Board, cfg.Ollama.Model)
	agent := api.Group("/agent")
	{
		agent.GET("/health", agentHandler.Health)
		agent.GET("/models", agentHandler.ListModels)
		agent.POST("/chat", agentHandler.Chat)
		agent.GET("/pull/ws", auth, agentHandler.PullModel)
	}

	return r
}
