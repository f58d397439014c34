package services

import (
	"wellpulse/internal/database"
	"wellpulse/internal/models"
	"wellpulse/pkg/errors"
	"wellpulse/pkg/jwt"

	"gorm.io/gorm"
)

// UserService 平台运营用户服务
type UserService struct {
	db         *gorm.DB
	jwtManager *jwt.JWTManager
}

func NewUserService() *UserService {
	return &UserService{
		db:         database.GetDB(),
		jwtManager: jwt.GetJWTManager(),
	}
}

// Login 运营用户登录，成功返回用户和JWT令牌
func (s *UserService) Login(username, password string) (*models.User, string, error) {
	invalid := errors.NewValidation("credentials", "用户名或密码错误")

	var user models.User
	err := s.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, "", invalid
		}
		return nil, "", err
	}

	if !user.IsActive() {
		return nil, "", errors.NewValidation("status", "用户已被禁用")
	}
	if !user.CheckPassword(password) {
		return nil, "", invalid
	}

	token, err := s.jwtManager.GenerateOperatorToken(user.ID, user.Username, user.IsPlatformAdmin)
	if err != nil {
		return nil, "", err
	}

	// 记录登录时间，失败不影响登录
	s.db.Model(&user).Update("last_login_at", gorm.Expr("NOW()"))

	return &user, token, nil
}

// GetByID 根据ID获取用户
func (s *UserService) GetByID(id uint) (*models.User, error) {
	var user models.User
	err := s.db.First(&user, id).Error
	return &user, err
}

// Create 创建运营用户
func (s *UserService) Create(username, email, name, password string, isPlatformAdmin bool) (*models.User, error) {
	var count int64
	s.db.Model(&models.User{}).Where("username = ? OR email = ?", username, email).Count(&count)
	if count > 0 {
		return nil, errors.NewConflict("username", "用户名或邮箱已存在")
	}

	user := &models.User{
		Username:        username,
		Email:           email,
		Name:            name,
		Status:          models.UserStatusActive,
		IsPlatformAdmin: isPlatformAdmin,
	}
	if err := user.SetPassword(password); err != nil {
		return nil, err
	}

	err := s.db.Create(user).Error
	return user, err
}

// EnsureAdmin 确保默认管理员存在（启动时调用）
func (s *UserService) EnsureAdmin(username, email, password string) error {
	var count int64
	if err := s.db.Model(&models.User{}).Where("is_platform_admin = ?", true).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err := s.Create(username, email, "平台管理员", password, true)
	return err
}

// IsActive 检查用户是否激活
func (s *UserService) IsActive(user *models.User) bool {
	return user.IsActive()
}
