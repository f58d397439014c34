package middleware

import (
	"strings"

	"wellpulse/internal/models"
	"wellpulse/internal/services"
	"wellpulse/pkg/jwt"
	"wellpulse/pkg/response"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware 权限中间件
// 两套令牌：运营用户令牌（管理端）和租户API令牌（凭证换取）
type AuthMiddleware struct {
	userService   *services.UserService
	tenantService *services.TenantService
	jwtManager    *jwt.JWTManager
}

func NewAuthMiddleware(userService *services.UserService, tenantService *services.TenantService) *AuthMiddleware {
	return &AuthMiddleware{
		userService:   userService,
		tenantService: tenantService,
		jwtManager:    jwt.GetJWTManager(), // 使用全局JWT管理器
	}
}

// extractToken 从Authorization头提取Bearer令牌
func extractToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	return authHeader[7:], true
}

// RequireLogin 要求运营用户登录
func (m *AuthMiddleware) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		// 验证token
		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}
		if claims.TokenType != jwt.TokenTypeOperator {
			response.Unauthorized(c, "令牌类型错误")
			c.Abort()
			return
		}

		// 获取用户信息
		user, err := m.userService.GetByID(claims.UserID)
		if err != nil {
			response.Unauthorized(c, "用户不存在")
			c.Abort()
			return
		}

		// 检查用户状态
		if !user.IsActive() {
			response.Unauthorized(c, "用户已被禁用")
			c.Abort()
			return
		}

		// 将用户信息保存到上下文
		c.Set("user", user)
		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Set("is_platform_admin", claims.IsPlatformAdmin)
		c.Set("claims", claims)

		c.Next()
	}
}

// RequirePlatformAdmin 要求平台管理员
func (m *AuthMiddleware) RequirePlatformAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, exists := c.Get("user")
		if !exists {
			response.Unauthorized(c, "请先登录")
			c.Abort()
			return
		}

		if !user.(*models.User).IsPlatformAdmin {
			response.Forbidden(c, "需要平台管理员权限")
			c.Abort()
			return
		}

		c.Next()
	}
}

// RequireTenant 要求租户API令牌，并把租户聚合放进上下文
// 令牌有效但租户已停用/删除时同样拒绝（状态变更即时生效，不等令牌过期）
func (m *AuthMiddleware) RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := extractToken(c)
		if !ok {
			response.Unauthorized(c, "请先认证")
			c.Abort()
			return
		}

		claims, err := m.jwtManager.VerifyToken(tokenString)
		if err != nil {
			response.Unauthorized(c, "Token无效或已过期")
			c.Abort()
			return
		}
		if claims.TokenType != jwt.TokenTypeTenant {
			response.Unauthorized(c, "令牌类型错误")
			c.Abort()
			return
		}

		tenant, err := m.tenantService.GetByID(claims.TenantUUID)
		if err != nil {
			response.Unauthorized(c, "租户不存在")
			c.Abort()
			return
		}

		if tenant.Status != models.TenantStatusActive && tenant.Status != models.TenantStatusTrial {
			response.Forbidden(c, "租户当前不可用")
			c.Abort()
			return
		}

		c.Set("tenant", tenant)
		c.Set("tenant_uuid", tenant.ID)
		c.Set("tenant_slug", tenant.Slug)
		c.Set("claims", claims)

		c.Next()
	}
}

// RequireFeature 要求租户开通某个功能
func (m *AuthMiddleware) RequireFeature(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, exists := c.Get("tenant")
		if !exists {
			response.Unauthorized(c, "请先认证")
			c.Abort()
			return
		}

		if !value.(*models.Tenant).HasFeature(key) {
			response.Forbidden(c, "当前套餐未开通该功能: "+key)
			c.Abort()
			return
		}

		c.Next()
	}
}
