package services

import (
	"time"

	"wellpulse/internal/database"
	"wellpulse/internal/models"

	"gorm.io/gorm"
)

// TenantRepository 租户注册表访问接口
// 编排服务只依赖接口，便于测试时用内存实现替换
type TenantRepository interface {
	Create(tenant *models.Tenant) error
	Update(tenant *models.Tenant) error
	FindByID(id string) (*models.Tenant, error)
	FindBySlug(slug string) (*models.Tenant, error)
	FindBySubdomain(subdomain string) (*models.Tenant, error)
	FindByTenantID(tenantID string) (*models.Tenant, error)
	SlugExists(slug string) (bool, error)
	SubdomainExists(subdomain string) (bool, error)
	TenantIDExists(tenantID string) (bool, error)
	ListWithPage(status, keyword string, page, pageSize int) ([]*models.Tenant, int64, error)
	FindExpiredTrials(now time.Time) ([]*models.Tenant, error)
}

// GormTenantRepository 基于主库的租户仓储实现
type GormTenantRepository struct {
	db *gorm.DB
}

func NewTenantRepository() *GormTenantRepository {
	return &GormTenantRepository{
		db: database.GetDB(),
	}
}

// NewTenantRepositoryWithDB 指定连接创建仓储（测试用）
func NewTenantRepositoryWithDB(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// Create 持久化新租户
func (r *GormTenantRepository) Create(tenant *models.Tenant) error {
	return r.db.Create(tenant).Error
}

// Update 保存租户变更
func (r *GormTenantRepository) Update(tenant *models.Tenant) error {
	return r.db.Save(tenant).Error
}

// FindByID 按聚合ID查找（包含已删除，供管理端审计）
func (r *GormTenantRepository) FindByID(id string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.Where("id = ?", id).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindBySlug 按slug查找（不含已删除）
func (r *GormTenantRepository) FindBySlug(slug string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.Where("slug = ? AND status != ?", slug, models.TenantStatusDeleted).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindBySubdomain 按子域名查找（不含已删除，请求路由用）
func (r *GormTenantRepository) FindBySubdomain(subdomain string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.Where("subdomain = ? AND status != ?", subdomain, models.TenantStatusDeleted).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// FindByTenantID 按凭证标识查找（API鉴权用，不含已删除）
func (r *GormTenantRepository) FindByTenantID(tenantID string) (*models.Tenant, error) {
	var tenant models.Tenant
	err := r.db.Where("tenant_id = ? AND status != ?", tenantID, models.TenantStatusDeleted).First(&tenant).Error
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// SlugExists slug是否已被占用（已删除的租户不释放slug）
func (r *GormTenantRepository) SlugExists(slug string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Tenant{}).Where("slug = ?", slug).Count(&count).Error
	return count > 0, err
}

// SubdomainExists 子域名是否已被占用
func (r *GormTenantRepository) SubdomainExists(subdomain string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Tenant{}).Where("subdomain = ?", subdomain).Count(&count).Error
	return count > 0, err
}

// TenantIDExists 凭证标识是否已被占用
func (r *GormTenantRepository) TenantIDExists(tenantID string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Tenant{}).Where("tenant_id = ?", tenantID).Count(&count).Error
	return count > 0, err
}

// ListWithPage 组合查询（分页版本）
func (r *GormTenantRepository) ListWithPage(status, keyword string, page, pageSize int) ([]*models.Tenant, int64, error) {
	var tenants []*models.Tenant
	var total int64

	query := r.db.Model(&models.Tenant{})

	// 添加过滤条件
	if status != "" {
		query = query.Where("status = ?", status)
	} else {
		query = query.Where("status != ?", models.TenantStatusDeleted)
	}
	if keyword != "" {
		searchPattern := "%" + keyword + "%"
		query = query.Where("name ILIKE ? OR slug ILIKE ? OR tenant_id ILIKE ?",
			searchPattern, searchPattern, searchPattern)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询（按创建时间降序）
	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&tenants).Error
	if err != nil {
		return nil, 0, err
	}

	return tenants, total, nil
}

// FindExpiredTrials 查找试用已到期的租户（定时任务用）
func (r *GormTenantRepository) FindExpiredTrials(now time.Time) ([]*models.Tenant, error) {
	var tenants []*models.Tenant
	err := r.db.Where("status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at < ?",
		models.TenantStatusTrial, now).Find(&tenants).Error
	return tenants, err
}
