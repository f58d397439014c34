package main

import (
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wellpulse/internal/database"
	"wellpulse/internal/router"
	"wellpulse/internal/services"
	"wellpulse/pkg/config"
	"wellpulse/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting WellPulse tenant platform...")

	// 初始化主库（租户注册表）
	if err := database.Initialize(cfg); err != nil {
		appLogger.Fatalf("Failed to initialize master database: %v", err)
	}
	defer func() {
		// 关闭数据库连接
		if err := database.Close(); err != nil {
			appLogger.Error("Failed to close master database:", err)
		}
		// 关闭Redis连接
		if err := database.CloseRedisQueue(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 执行主库迁移
	if err := database.Migrate(); err != nil {
		appLogger.Fatalf("Failed to migrate master database: %v", err)
	}

	// 确保默认平台管理员存在
	userService := services.NewUserService()
	if err := userService.EnsureAdmin(
		getEnvOr("ADMIN_USERNAME", "admin"),
		getEnvOr("ADMIN_EMAIL", "admin@wellpulse.io"),
		getEnvOr("ADMIN_PASSWORD", "Admin@2024"),
	); err != nil {
		appLogger.Fatalf("Failed to ensure platform admin: %v", err)
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 启动试用到期巡检（在路由初始化前）
	tenantService := services.NewTenantService()
	trialChecker := services.NewTrialChecker(tenantService, getEnvOr("TRIAL_CHECK_CRON", ""))
	if err := trialChecker.Start(); err != nil {
		appLogger.Errorf("Failed to start trial expiry checker: %v", err)
		// 不影响主服务启动
	}
	defer trialChecker.Stop()

	// 设置路由
	r := router.SetupRouter()

	// 启动服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 启动服务
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	if err := server.Close(); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}

	// 关闭全部租户连接池
	database.GetTenantPoolManager().Shutdown()

	appLogger.Info("Server exited")
}

func getEnvOr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
