package services

import (
	"sync"
	"time"

	"wellpulse/internal/database"
	"wellpulse/internal/models"
	"wellpulse/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PoolRouter 按租户路由数据库连接
type PoolRouter interface {
	GetConnection(tenant *models.Tenant) (*gorm.DB, error)
}

// WellService 油气井业务服务
// 所有操作都落在调用方租户自己的数据库里，跨租户访问在路由层就不可能发生
type WellService struct {
	pools PoolRouter

	// 每个租户库首次使用时迁移一次业务表
	migrated map[string]bool
	mu       sync.Mutex
}

func NewWellService() *WellService {
	return &WellService{
		pools:    database.GetTenantPoolManager(),
		migrated: make(map[string]bool),
	}
}

// NewWellServiceWithRouter 指定连接路由创建服务（测试用）
func NewWellServiceWithRouter(pools PoolRouter) *WellService {
	return &WellService{
		pools:    pools,
		migrated: make(map[string]bool),
	}
}

// CreateWellRequest 创建井请求
type CreateWellRequest struct {
	Name       string                 `json:"name" binding:"required,min=1,max=100"`
	APINumber  string                 `json:"api_number" binding:"required,max=20"`
	Field      string                 `json:"field" binding:"max=100"`
	Latitude   *float64               `json:"latitude"`
	Longitude  *float64               `json:"longitude"`
	Status     string                 `json:"status"`
	SpudDate   *time.Time             `json:"spud_date"`
	Attributes map[string]interface{} `json:"attributes"`
}

// UpdateWellRequest 更新井请求
type UpdateWellRequest struct {
	Name       string                 `json:"name" binding:"omitempty,min=1,max=100"`
	Field      string                 `json:"field" binding:"max=100"`
	Latitude   *float64               `json:"latitude"`
	Longitude  *float64               `json:"longitude"`
	Status     string                 `json:"status"`
	SpudDate   *time.Time             `json:"spud_date"`
	Attributes map[string]interface{} `json:"attributes"`
}

// tenantDB 获取租户库连接并确保业务表已迁移
func (s *WellService) tenantDB(tenant *models.Tenant) (*gorm.DB, error) {
	db, err := s.pools.GetConnection(tenant)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.migrated[tenant.ID] {
		if err := db.AutoMigrate(&models.Well{}); err != nil {
			return nil, err
		}
		s.migrated[tenant.ID] = true
	}
	return db, nil
}

// Create 创建井（配额满时拒绝）
func (s *WellService) Create(tenant *models.Tenant, req *CreateWellRequest) (*models.Well, error) {
	db, err := s.tenantDB(tenant)
	if err != nil {
		return nil, err
	}

	var count int64
	if err := db.Model(&models.Well{}).Count(&count).Error; err != nil {
		return nil, err
	}
	if count >= int64(tenant.MaxWells) {
		return nil, errors.NewValidation("quota", "井数已达套餐上限 %d，请升级套餐", tenant.MaxWells)
	}

	var dup int64
	if err := db.Model(&models.Well{}).Where("api_number = ?", req.APINumber).Count(&dup).Error; err != nil {
		return nil, err
	}
	if dup > 0 {
		return nil, errors.NewConflict("api_number", "API井号已存在: %s", req.APINumber)
	}

	status := req.Status
	if status == "" {
		status = models.WellStatusActive
	}

	attributes := datatypes.JSONMap{}
	for k, v := range req.Attributes {
		attributes[k] = v
	}

	well := &models.Well{
		ID:         uuid.New().String(),
		Name:       req.Name,
		APINumber:  req.APINumber,
		Field:      req.Field,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
		Status:     status,
		SpudDate:   req.SpudDate,
		Attributes: attributes,
	}

	err = db.Create(well).Error
	return well, err
}

// GetByID 按ID获取井
func (s *WellService) GetByID(tenant *models.Tenant, id string) (*models.Well, error) {
	db, err := s.tenantDB(tenant)
	if err != nil {
		return nil, err
	}

	var well models.Well
	err = db.Where("id = ?", id).First(&well).Error
	if err != nil {
		return nil, err
	}
	return &well, nil
}

// GetWithFiltersAndPage 组合查询（分页版本）
func (s *WellService) GetWithFiltersAndPage(tenant *models.Tenant, status, field, keyword string, page, pageSize int) ([]*models.Well, int64, error) {
	db, err := s.tenantDB(tenant)
	if err != nil {
		return nil, 0, err
	}

	var wells []*models.Well
	var total int64

	query := db.Model(&models.Well{})

	// 添加过滤条件
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if field != "" {
		query = query.Where("field = ?", field)
	}
	if keyword != "" {
		searchPattern := "%" + keyword + "%"
		query = query.Where("name ILIKE ? OR api_number ILIKE ?", searchPattern, searchPattern)
	}

	// 计算总数
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	// 分页查询
	offset := (page - 1) * pageSize
	err = query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&wells).Error
	if err != nil {
		return nil, 0, err
	}

	return wells, total, nil
}

// Update 更新井
func (s *WellService) Update(tenant *models.Tenant, id string, req *UpdateWellRequest) (*models.Well, error) {
	db, err := s.tenantDB(tenant)
	if err != nil {
		return nil, err
	}

	var well models.Well
	if err := db.Where("id = ?", id).First(&well).Error; err != nil {
		return nil, err
	}

	if req.Name != "" {
		well.Name = req.Name
	}
	if req.Field != "" {
		well.Field = req.Field
	}
	if req.Latitude != nil {
		well.Latitude = req.Latitude
	}
	if req.Longitude != nil {
		well.Longitude = req.Longitude
	}
	if req.Status != "" {
		switch req.Status {
		case models.WellStatusActive, models.WellStatusShutIn, models.WellStatusAbandoned:
			well.Status = req.Status
		default:
			return nil, errors.NewValidation("status", "无效的井状态: %s", req.Status)
		}
	}
	if req.SpudDate != nil {
		well.SpudDate = req.SpudDate
	}
	if req.Attributes != nil {
		attributes := datatypes.JSONMap{}
		for k, v := range req.Attributes {
			attributes[k] = v
		}
		well.Attributes = attributes
	}

	err = db.Save(&well).Error
	return &well, err
}

// Delete 删除井
func (s *WellService) Delete(tenant *models.Tenant, id string) error {
	db, err := s.tenantDB(tenant)
	if err != nil {
		return err
	}
	return db.Where("id = ?", id).Delete(&models.Well{}).Error
}

// CountWells 统计租户当前井数
func (s *WellService) CountWells(tenant *models.Tenant) (int64, error) {
	db, err := s.tenantDB(tenant)
	if err != nil {
		return 0, err
	}
	var count int64
	err = db.Model(&models.Well{}).Count(&count).Error
	return count, err
}

// CurrentUsage 当前用量（套餐降级校验用）
// 租户库暂未落用户表，用户数按0计
func (s *WellService) CurrentUsage(tenant *models.Tenant) (models.TierUsage, error) {
	wells, err := s.CountWells(tenant)
	if err != nil {
		return models.TierUsage{}, err
	}
	return models.TierUsage{Wells: int(wells)}, nil
}
