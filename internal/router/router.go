package router

import (
	"regexp"
	"time"

	"wellpulse/internal/database"
	"wellpulse/internal/handlers"
	"wellpulse/internal/middleware"
	"wellpulse/internal/services"
	"wellpulse/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// SetupRouter 设置路由
func SetupRouter() *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS())

	registerValidators()

	// 注册路由
	registerRoutes(router)
	return router
}

// registerValidators 在gin的binding引擎上注册自定义校验器
func registerValidators() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) >= 3 && len(s) <= 50 && slugPattern.MatchString(s)
	})
	v.RegisterValidation("subdomain", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		return len(s) >= 2 && len(s) <= 30 && subdomainPattern.MatchString(s)
	})
}

// 注册所有路由
func registerRoutes(router *gin.Engine) {

	userService := services.NewUserService()
	tenantService := services.NewTenantService()
	wellService := services.NewWellService()
	tenantService.SetUsageCounter(wellService)

	auth := middleware.NewAuthMiddleware(userService, tenantService)
	pools := database.GetTenantPoolManager()

	// Prometheus指标
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", healthCheck)
		api.GET("/ping", ping)

		// 认证路由（无需认证）
		authHandler := handlers.NewAuthHandler(userService, tenantService)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login) // 运营用户登录
			authGroup.POST("/token", authHandler.Token) // 租户凭证换API令牌
		}

		// 🔐 租户管理路由（运营端，平台管理员）
		tenantHandler := handlers.NewTenantHandler(tenantService, pools)
		tenants := api.Group("/tenants")
		tenants.Use(auth.RequireLogin(), auth.RequirePlatformAdmin())
		{
			tenants.POST("", tenantHandler.Create)
			tenants.GET("", tenantHandler.GetAll)
			tenants.GET("/pools", tenantHandler.GetPools) // 连接池快照
			tenants.GET("/:id", tenantHandler.GetByID)
			tenants.DELETE("/:id", tenantHandler.Delete)

			// 🔒 生命周期操作
			tenants.POST("/:id/activate", tenantHandler.Activate)
			tenants.POST("/:id/suspend", tenantHandler.Suspend)
			tenants.POST("/:id/upgrade", tenantHandler.Upgrade)
			tenants.POST("/:id/downgrade", tenantHandler.Downgrade)
			tenants.POST("/:id/rotate-secret", tenantHandler.RotateSecret)

			// 🔒 资料维护
			tenants.PUT("/:id/contact", tenantHandler.UpdateContact)
			tenants.PUT("/:id/features", tenantHandler.SetFeatureFlag)
		}

		// 🔐 井数据路由（租户端，走租户自己的数据库）
		wellHandler := handlers.NewWellHandler(wellService)
		wells := api.Group("/wells")
		wells.Use(auth.RequireTenant())
		{
			wells.POST("", wellHandler.Create)
			wells.GET("", wellHandler.GetAll)
			wells.GET("/:id", wellHandler.GetByID)
			wells.PUT("/:id", wellHandler.Update)
			wells.DELETE("/:id", wellHandler.Delete)
		}
	}
}

func healthCheck(c *gin.Context) {
	data := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now(),
		"service":   "WellPulse",
		"version":   "1.0.0",
	}
	response.Success(c, data)
}

func ping(c *gin.Context) {
	response.SuccessWithMessage(c, "pong", nil)
}
