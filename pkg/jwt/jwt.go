package jwt

import (
	"errors"
	"sync"
	"time"
	"wellpulse/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType 令牌类型
const (
	TokenTypeOperator = "operator" // 平台运营人员令牌
	TokenTypeTenant   = "tenant"   // 租户API令牌（凭证换取）
)

// JWTClaims JWT声明
type JWTClaims struct {
	TokenType       string `json:"token_type"`
	UserID          uint   `json:"user_id,omitempty"`     // 运营用户ID
	Username        string `json:"username,omitempty"`    // 运营用户名
	IsPlatformAdmin bool   `json:"is_platform_admin"`     // 是否平台管理员
	TenantUUID      string `json:"tenant_uuid,omitempty"` // 租户聚合ID
	TenantID        string `json:"tenant_id,omitempty"`   // 租户凭证标识，如 ACMEOILG-X7K2P9
	TenantSlug      string `json:"tenant_slug,omitempty"` // 租户slug
	jwt.RegisteredClaims
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey     string
	tokenDuration time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
	}
}

// GenerateOperatorToken 生成运营用户令牌
func (manager *JWTManager) GenerateOperatorToken(userID uint, username string, isPlatformAdmin bool) (string, error) {
	claims := JWTClaims{
		TokenType:       TokenTypeOperator,
		UserID:          userID,
		Username:        username,
		IsPlatformAdmin: isPlatformAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "WellPulse",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(manager.secretKey))
}

// GenerateTenantToken 生成租户API令牌（租户凭证验证通过后签发）
func (manager *JWTManager) GenerateTenantToken(tenantUUID, tenantID, slug string) (string, error) {
	claims := JWTClaims{
		TokenType:  TokenTypeTenant,
		TenantUUID: tenantUUID,
		TenantID:   tenantID,
		TenantSlug: slug,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "WellPulse",
			Subject:   tenantID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(manager.secretKey))
}

// VerifyToken 验证JWT令牌
func (manager *JWTManager) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&JWTClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// 验证签名方法
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("意外的签名方法")
			}
			return []byte(manager.secretKey), nil
		},
	)

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, errors.New("无法解析token声明")
	}

	return claims, nil
}

// GetTokenDuration 获取令牌有效期
func (manager *JWTManager) GetTokenDuration() time.Duration {
	return manager.tokenDuration
}

// 单例实现
var (
	defaultManager *JWTManager
	once           sync.Once
)

// GetJWTManager 获取全局JWT管理器实例
func GetJWTManager() *JWTManager {
	once.Do(func() {
		cfg := config.GetConfig()
		tokenDuration, err := time.ParseDuration(cfg.JWT.TokenDuration)
		if err != nil {
			tokenDuration = 24 * time.Hour
		}
		defaultManager = NewJWTManager(cfg.JWT.SecretKey, tokenDuration)
	})
	return defaultManager
}
