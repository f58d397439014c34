package handlers

import (
	"wellpulse/internal/services"
	"wellpulse/pkg/jwt"
	"wellpulse/pkg/response"

	"github.com/gin-gonic/gin"
)

// LoginRequest 运营用户登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// TokenRequest 租户凭证换令牌请求
type TokenRequest struct {
	TenantID  string `json:"tenant_id" binding:"required"`
	SecretKey string `json:"secret_key" binding:"required"`
}

type AuthHandler struct {
	userService   *services.UserService
	tenantService *services.TenantService
	jwtManager    *jwt.JWTManager
}

func NewAuthHandler(userService *services.UserService, tenantService *services.TenantService) *AuthHandler {
	return &AuthHandler{
		userService:   userService,
		tenantService: tenantService,
		jwtManager:    jwt.GetJWTManager(),
	}
}

// Login 运营用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	user, token, err := h.userService.Login(req.Username, req.Password)
	if err != nil {
		response.Unauthorized(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"token": token,
		"user": gin.H{
			"id":                user.ID,
			"username":          user.Username,
			"name":              user.Name,
			"is_platform_admin": user.IsPlatformAdmin,
		},
	})
}

// Token 租户凭证换API令牌
// tenant_id + secret_key 验证通过后签发租户范围的JWT
func (h *AuthHandler) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "参数错误")
		return
	}

	tenant, err := h.tenantService.VerifyCredentials(req.TenantID, req.SecretKey)
	if err != nil {
		// 不区分失败原因
		response.Unauthorized(c, "租户凭证无效")
		return
	}

	token, err := h.jwtManager.GenerateTenantToken(tenant.ID, tenant.TenantID, tenant.Slug)
	if err != nil {
		response.ServerError(c, "令牌签发失败")
		return
	}

	response.Success(c, gin.H{
		"token":      token,
		"expires_in": int(h.jwtManager.GetTokenDuration().Seconds()),
		"tenant": gin.H{
			"slug":      tenant.Slug,
			"name":      tenant.Name,
			"tier":      tenant.SubscriptionTier,
			"subdomain": tenant.Subdomain,
		},
	})
}
