package services

import (
	"context"
	"fmt"

	"wellpulse/internal/database"
	"wellpulse/internal/models"
	"wellpulse/pkg/config"
	"wellpulse/pkg/crypto"
	"wellpulse/pkg/errors"
	"wellpulse/pkg/logger"
	"wellpulse/pkg/metrics"
	"wellpulse/pkg/queue"

	"gorm.io/gorm"
)

// tenantIDMaxAttempts 凭证标识撞库时的重试次数
const tenantIDMaxAttempts = 5

// Notifier 租户事件通知接口（Redis队列实现）
type Notifier interface {
	PublishTenantEvent(msg *queue.TenantEventMessage) error
}

// PoolEvictor 连接池驱逐接口，停用/删除租户时关闭其连接池
type PoolEvictor interface {
	CloseTenantConnection(tenantID string) error
}

// UsageCounter 租户当前用量统计（降级校验用）
type UsageCounter interface {
	CurrentUsage(tenant *models.Tenant) (models.TierUsage, error)
}

// TenantService 租户生命周期编排服务
// 创建流程的顺序约定：先查唯一性，再开库，最后落库；
// 开库失败绝不写注册表，避免出现指向不存在数据库的租户记录
type TenantService struct {
	repo        TenantRepository
	provisioner Provisioner
	notifier    Notifier
	pools       PoolEvictor
	usage       UsageCounter
	tenantCfg   *config.TenantDBConfig
}

// CreateTenantRequest 创建租户请求
type CreateTenantRequest struct {
	Name         string                 `json:"name" binding:"required,min=2,max=100"`
	Slug         string                 `json:"slug" binding:"required,slug"`
	Subdomain    string                 `json:"subdomain" binding:"required,subdomain"`
	Tier         string                 `json:"tier" binding:"required"`
	Engine       string                 `json:"engine"`
	TrialDays    int                    `json:"trial_days" binding:"min=0,max=90"`
	ContactEmail string                 `json:"contact_email" binding:"required,email"`
	ContactPhone *string                `json:"contact_phone"`
	BillingEmail *string                `json:"billing_email"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedBy    uint                   `json:"-"`
}

func NewTenantService() *TenantService {
	cfg := config.GetConfig()
	return &TenantService{
		repo:        NewTenantRepository(),
		provisioner: NewDatabaseProvisioner(&cfg.TenantDB),
		notifier:    database.GetRedisQueue(),
		pools:       database.GetTenantPoolManager(),
		tenantCfg:   &cfg.TenantDB,
	}
}

// NewTenantServiceWith 显式注入依赖（测试用）
func NewTenantServiceWith(repo TenantRepository, provisioner Provisioner, notifier Notifier, pools PoolEvictor, tenantCfg *config.TenantDBConfig) *TenantService {
	return &TenantService{
		repo:        repo,
		provisioner: provisioner,
		notifier:    notifier,
		pools:       pools,
		tenantCfg:   tenantCfg,
	}
}

// SetUsageCounter 注入用量统计实现（启动时由well服务挂上，避免构造环）
func (s *TenantService) SetUsageCounter(usage UsageCounter) {
	s.usage = usage
}

// Create 创建租户：唯一性检查 -> 开库 -> 落库 -> 通知
// 返回的第二个值是一次性明文密钥，仅在响应中出现一次
func (s *TenantService) Create(ctx context.Context, req *CreateTenantRequest) (*models.Tenant, string, error) {
	appLogger := logger.GetLogger()

	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		return nil, "", err
	}

	engine := models.DBEnginePostgres
	if req.Engine != "" {
		engine = models.DBEngine(req.Engine)
	}

	// 唯一性检查
	if exists, err := s.repo.SlugExists(req.Slug); err != nil {
		return nil, "", err
	} else if exists {
		return nil, "", errors.NewConflict("slug", "slug已被占用: %s", req.Slug)
	}
	if exists, err := s.repo.SubdomainExists(req.Subdomain); err != nil {
		return nil, "", err
	} else if exists {
		return nil, "", errors.NewConflict("subdomain", "子域名已被占用: %s", req.Subdomain)
	}

	tenantID, err := s.allocateTenantID(req.Name)
	if err != nil {
		return nil, "", err
	}

	// 先构造聚合把全部不变量过一遍，避免非法请求触发建库
	tenant, plaintext, err := models.NewTenant(models.TenantProps{
		Name:         req.Name,
		Slug:         req.Slug,
		Subdomain:    req.Subdomain,
		TenantID:     tenantID,
		Tier:         tier,
		Engine:       engine,
		TrialDays:    req.TrialDays,
		ContactEmail: req.ContactEmail,
		ContactPhone: req.ContactPhone,
		BillingEmail: req.BillingEmail,
		Metadata:     req.Metadata,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		return nil, "", err
	}

	// 开库
	dbName, err := DeriveDatabaseName(req.Slug, s.tenantCfg.NameSuffix)
	if err != nil {
		return nil, "", err
	}
	result := s.provisioner.ProvisionDatabase(ctx, dbName)
	if !result.Success {
		return nil, "", result.Err()
	}

	tenant, err = tenant.WithDatabaseConfig(models.DatabaseConfig{
		Engine:       engine,
		DatabaseName: dbName,
		DatabaseURL:  s.tenantCfg.DSNFor(dbName),
		Host:         s.tenantCfg.Host,
		Port:         s.tenantCfg.Port,
	})
	if err != nil {
		return nil, "", err
	}

	// 落库；失败时不回滚已建的库，留给运维排查后复用（开库是幂等的）
	if err := s.repo.Create(tenant); err != nil {
		appLogger.WithField("database", dbName).WithField("slug", req.Slug).
			Errorf("Tenant registry insert failed after database was provisioned, orphaned database left in place: %v", err)
		return nil, "", err
	}

	metrics.TenantsCreated.Inc()
	appLogger.WithField("tenant_id", tenant.TenantID).
		WithField("slug", tenant.Slug).
		WithField("tier", string(tenant.SubscriptionTier)).
		WithField("database", dbName).
		Info("Tenant created")

	// 通知是尽力而为：失败只记日志，不影响创建结果
	s.publishEvent("tenant.created", tenant, plaintext)

	return tenant, plaintext, nil
}

// allocateTenantID 生成凭证标识，撞库时重试
func (s *TenantService) allocateTenantID(companyName string) (string, error) {
	for i := 0; i < tenantIDMaxAttempts; i++ {
		tenantID, err := crypto.GenerateTenantID(companyName)
		if err != nil {
			return "", err
		}
		exists, err := s.repo.TenantIDExists(tenantID)
		if err != nil {
			return "", err
		}
		if !exists {
			return tenantID, nil
		}
	}
	return "", fmt.Errorf("生成租户凭证标识失败：连续%d次撞库", tenantIDMaxAttempts)
}

// GetByID 按聚合ID获取租户
func (s *TenantService) GetByID(id string) (*models.Tenant, error) {
	return s.repo.FindByID(id)
}

// GetBySlug 按slug获取租户
func (s *TenantService) GetBySlug(slug string) (*models.Tenant, error) {
	return s.repo.FindBySlug(slug)
}

// GetBySubdomain 按子域名获取租户（请求路由用）
func (s *TenantService) GetBySubdomain(subdomain string) (*models.Tenant, error) {
	return s.repo.FindBySubdomain(subdomain)
}

// ListWithPage 组合查询（分页版本）
func (s *TenantService) ListWithPage(status, keyword string, page, pageSize int) ([]*models.Tenant, int64, error) {
	return s.repo.ListWithPage(status, keyword, page, pageSize)
}

// Activate 激活租户（试用转正/解除停用）
func (s *TenantService) Activate(id string) (*models.Tenant, error) {
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if err := tenant.Activate(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// Suspend 停用租户并驱逐其连接池
func (s *TenantService) Suspend(id, reason string) (*models.Tenant, error) {
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if err := tenant.Suspend(reason); err != nil {
		return nil, err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, err
	}

	if err := s.pools.CloseTenantConnection(tenant.ID); err != nil {
		logger.GetLogger().Warnf("Failed to evict pool for suspended tenant %s: %v", tenant.Slug, err)
	}
	s.publishEvent("tenant.suspended", tenant, "")
	return tenant, nil
}

// Delete 标记删除租户并驱逐其连接池
// 租户数据库不随删除销毁，保留给数据导出与合规留存
func (s *TenantService) Delete(id string) error {
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return err
	}
	if err := tenant.MarkDeleted(); err != nil {
		return err
	}
	if err := s.repo.Update(tenant); err != nil {
		return err
	}

	if err := s.pools.CloseTenantConnection(tenant.ID); err != nil {
		logger.GetLogger().Warnf("Failed to evict pool for deleted tenant %s: %v", tenant.Slug, err)
	}
	return nil
}

// UpgradeTier 升级套餐
func (s *TenantService) UpgradeTier(id, tierName string) (*models.Tenant, error) {
	tier, err := models.ParseTier(tierName)
	if err != nil {
		return nil, err
	}
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if err := tenant.UpgradeTier(tier); err != nil {
		return nil, err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// DowngradeTier 降级套餐；当前用量超过目标套餐配额时拒绝
func (s *TenantService) DowngradeTier(id, tierName string) (*models.Tenant, error) {
	tier, err := models.ParseTier(tierName)
	if err != nil {
		return nil, err
	}
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}

	usage := models.TierUsage{}
	if s.usage != nil {
		usage, err = s.usage.CurrentUsage(tenant)
		if err != nil {
			return nil, err
		}
	}

	if err := tenant.DowngradeTier(tier, usage); err != nil {
		return nil, err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// UpdateContact 更新联系信息
func (s *TenantService) UpdateContact(id, email string, phone, billingEmail *string) (*models.Tenant, error) {
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if err := tenant.UpdateContactDetails(email, phone, billingEmail); err != nil {
		return nil, err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// SetFeatureFlag 设置功能开关
func (s *TenantService) SetFeatureFlag(id, key string, enabled bool) (*models.Tenant, error) {
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, err
	}
	if err := tenant.SetFeatureFlag(key, enabled); err != nil {
		return nil, err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, err
	}
	return tenant, nil
}

// RotateSecret 轮换密钥，返回新明文密钥（仅此一次可见）
func (s *TenantService) RotateSecret(id string) (*models.Tenant, string, error) {
	tenant, err := s.repo.FindByID(id)
	if err != nil {
		return nil, "", err
	}
	plaintext, err := tenant.RotateSecret()
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.Update(tenant); err != nil {
		return nil, "", err
	}

	s.publishEvent("tenant.secret_rotated", tenant, plaintext)
	return tenant, plaintext, nil
}

// VerifyCredentials 校验租户API凭证
// 失败原因不外泄：标识不存在、密钥不对、租户停用，对外都是同一个错误
func (s *TenantService) VerifyCredentials(tenantID, secretKey string) (*models.Tenant, error) {
	invalid := errors.NewValidation("credentials", "租户凭证无效")

	tenant, err := s.repo.FindByTenantID(tenantID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, invalid
		}
		return nil, err
	}

	if tenant.Status != models.TenantStatusActive && tenant.Status != models.TenantStatusTrial {
		return nil, invalid
	}
	if !tenant.VerifySecret(secretKey) {
		return nil, invalid
	}
	return tenant, nil
}

// publishEvent 发布租户事件（尽力而为）
func (s *TenantService) publishEvent(event string, tenant *models.Tenant, secretKey string) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.PublishTenantEvent(&queue.TenantEventMessage{
		Event:        event,
		TenantUUID:   tenant.ID,
		TenantID:     tenant.TenantID,
		TenantName:   tenant.Name,
		Slug:         tenant.Slug,
		ContactEmail: tenant.ContactEmail,
		SecretKey:    secretKey,
	})
	if err != nil {
		logger.GetLogger().Warnf("Failed to publish %s event for tenant %s: %v", event, tenant.Slug, err)
	}
}
