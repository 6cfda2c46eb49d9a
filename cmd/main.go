package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/checkers"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/config"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/database"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/k8s"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/router"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/services"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
	"github.com/clay-wangzhi/k8s-daily-monitor/pkg/logger"
)

func main() {
	// 初始化配置
	cfg := config.Load()

	// 初始化日志
	logger.Init(cfg.Log.Level)

	// 初始化存储
	var (
		st    store.Store
		ready func(ctx context.Context) error
	)
	if cfg.Database.Driver == "memory" {
		st = store.NewMemoryStore(cfg.History.Retention)
		logger.Info("使用内存存储（数据不会持久化）")
	} else {
		db, err := database.Init(cfg.Database)
		if err != nil {
			log.Fatalf("数据库初始化失败: %v", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			log.Fatalf("获取数据库连接失败: %v", err)
		}
		defer sqlDB.Close()
		st = store.NewGormStore(db)
		ready = sqlDB.PingContext
	}

	// 健康检查引擎
	board := services.NewStatusBoard()
	clients := k8s.NewClientManager()
	engine := services.NewHealthCheckService(st, st, clients, checkers.DefaultRegistry(), board, services.HealthCheckOptions{
		CheckerTimeout: cfg.Check.CheckerTimeout,
		ClusterTimeout: cfg.Check.ClusterTimeout,
		MaxParallel:    cfg.Check.MaxParallelCheckers,
	})
	dispatcher := services.NewDispatcher(engine, st, cfg.Check.Workers)

	scheduler, err := services.NewScheduler(dispatcher, st, cfg.Check.Schedule, cfg.Check.Timezone, 2*cfg.Check.ClusterTimeout)
	if err != nil {
		log.Fatalf("定时任务初始化失败: %v", err)
	}
	scheduler.Start()
	if next, ok := scheduler.NextRun(); ok {
		logger.Info("下一次定时检查: %s", next.Format(time.RFC3339))
	}

	// 外部服务
	prometheus, err := services.NewPrometheusService(cfg.Prometheus.URL, cfg.Prometheus.Timeout)
	if err != nil {
		log.Fatalf("Prometheus 客户端初始化失败: %v", err)
	}
	agent := services.NewAgentService(cfg.Ollama.URL, cfg.Ollama.Model, cfg.Ollama.Timeout)

	// 设置 Gin 模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	dashboard := services.NewDashboardService(st, st, board, dispatcher)
	if loc, err := time.LoadLocation(cfg.Check.Timezone); err == nil {
		dashboard.SetLocation(loc)
	}

	r := router.Setup(cfg, router.Deps{
		Clusters:   services.NewClusterService(st, clients, board),
		Dashboard:  dashboard,
		Cards:      services.NewMetricCardService(st, prometheus),
		Schedules:  services.NewScheduleService(st, st),
		Reports:    services.NewReportService(st),
		Dispatcher: dispatcher,
		Board:      board,
		Agent:      agent,
		Ready:      ready,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("服务器启动在端口: %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待中断信号以优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("正在关闭服务器...")

	// 先停止接收请求与定时触发，再等待进行中的检查
	scheduler.Stop()
	agent.CancelPull()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("服务器强制关闭: %v", err)
	}

	checkCtx, checkCancel := context.WithTimeout(context.Background(), cfg.Check.ClusterTimeout)
	defer checkCancel()
	if err := dispatcher.Shutdown(checkCtx); err != nil {
		logger.Warn("进行中的检查已被取消: %v", err)
	}

	logger.Info("服务器已退出")
}
