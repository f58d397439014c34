package models

import (
	"regexp"
	"time"

	"wellpulse/pkg/crypto"
	"wellpulse/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// 租户状态常量
const (
	TenantStatusTrial     = "trial"
	TenantStatusActive    = "active"
	TenantStatusSuspended = "suspended"
	TenantStatusDeleted   = "deleted"
)

// DBEngine 租户数据库引擎
type DBEngine string

const (
	DBEnginePostgres  DBEngine = "postgres"
	DBEngineMySQL     DBEngine = "mysql"
	DBEngineSQLServer DBEngine = "sqlserver"
	DBEngineMongoDB   DBEngine = "mongodb"
)

// 标识格式校验
var (
	slugPattern      = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	emailPattern     = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// DatabaseConfig 租户数据库绑定信息
// 创建租户时先用占位配置构造，开库成功后整体替换
type DatabaseConfig struct {
	Engine       DBEngine          `json:"engine" gorm:"size:20;default:'postgres'"`
	DatabaseName string            `json:"database_name" gorm:"size:100"`
	DatabaseURL  string            `json:"-" gorm:"size:500"` // 含凭证，不对外输出
	Host         string            `json:"host" gorm:"size:100"`
	Port         int               `json:"port"`
	EngineExtra  datatypes.JSONMap `json:"engine_extra,omitempty" gorm:"type:jsonb"` // 引擎特有配置，如外部同步设置
}

// Tenant 租户聚合
// 所有业务不变量在构造和每次变更时校验；除构造函数和业务方法外不要直接改字段
type Tenant struct {
	ID        string `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string `json:"name" gorm:"not null;size:100"`
	Slug      string `json:"slug" gorm:"unique;not null;size:50;index"`
	Subdomain string `json:"subdomain" gorm:"unique;not null;size:30;index"`

	// 凭证：只存摘要，明文仅在生成/轮换时返回一次
	TenantID        string     `json:"tenant_id" gorm:"unique;not null;size:20;index"`
	SecretKeyHash   string     `json:"-" gorm:"not null;size:64"`
	SecretRotatedAt *time.Time `json:"secret_rotated_at"`

	// 数据库绑定
	Database DatabaseConfig `json:"database" gorm:"embedded;embeddedPrefix:db_"`

	// 商务状态
	SubscriptionTier Tier       `json:"subscription_tier" gorm:"size:20;not null"`
	MaxWells         int        `json:"max_wells" gorm:"not null"`
	MaxUsers         int        `json:"max_users" gorm:"not null"`
	StorageQuotaGB   int        `json:"storage_quota_gb" gorm:"not null"`
	Status           string     `json:"status" gorm:"size:20;not null;index"`
	TrialEndsAt      *time.Time `json:"trial_ends_at"`
	SuspendedReason  string     `json:"suspended_reason,omitempty" gorm:"size:200"`

	// 联系信息与扩展
	ContactEmail string            `json:"contact_email" gorm:"not null;size:100"`
	ContactPhone *string           `json:"contact_phone" gorm:"size:20"`
	BillingEmail *string           `json:"billing_email" gorm:"size:100"`
	FeatureFlags datatypes.JSONMap `json:"feature_flags" gorm:"type:jsonb"`
	Metadata     datatypes.JSONMap `json:"metadata" gorm:"type:jsonb"`

	CreatedBy uint       `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// TableName 表名
func (t *Tenant) TableName() string {
	return "tenants"
}

// TenantProps 构造租户所需的属性
type TenantProps struct {
	Name           string
	Slug           string
	Subdomain      string
	TenantID       string // 凭证标识，调用方负责查库保证唯一
	Tier           Tier
	MaxWells       int // 0 表示使用套餐默认值
	MaxUsers       int
	StorageQuotaGB int
	Engine         DBEngine
	Database       DatabaseConfig
	TrialDays      int
	ContactEmail   string
	ContactPhone   *string
	BillingEmail   *string
	Metadata       map[string]interface{}
	CreatedBy      uint
}

// NewTenant 创建新租户（分配身份、生成密钥、打时间戳）
// 返回的第二个值是明文密钥，仅此一次可见
func NewTenant(props TenantProps) (*Tenant, string, error) {
	if !props.Tier.Valid() {
		return nil, "", errors.NewValidation("tier", "无效的订阅套餐: %s", string(props.Tier))
	}

	limits := props.Tier.DefaultLimits()
	if props.MaxWells == 0 {
		props.MaxWells = limits.MaxWells
	}
	if props.MaxUsers == 0 {
		props.MaxUsers = limits.MaxUsers
	}
	if props.StorageQuotaGB == 0 {
		props.StorageQuotaGB = limits.StorageQuotaGB
	}

	plaintext, hash, err := crypto.GenerateSecretKey()
	if err != nil {
		return nil, "", err
	}

	featureFlags := datatypes.JSONMap{}
	for k, v := range limits.Features {
		featureFlags[k] = v
	}

	metadata := datatypes.JSONMap{}
	for k, v := range props.Metadata {
		metadata[k] = v
	}

	now := time.Now()
	status := TenantStatusActive
	var trialEndsAt *time.Time
	if props.TrialDays > 0 {
		status = TenantStatusTrial
		t := now.AddDate(0, 0, props.TrialDays)
		trialEndsAt = &t
	}

	database := props.Database
	if database.Engine == "" {
		database.Engine = props.Engine
	}

	tenant := &Tenant{
		ID:               uuid.New().String(),
		Name:             props.Name,
		Slug:             props.Slug,
		Subdomain:        props.Subdomain,
		TenantID:         props.TenantID,
		SecretKeyHash:    hash,
		Database:         database,
		SubscriptionTier: props.Tier,
		MaxWells:         props.MaxWells,
		MaxUsers:         props.MaxUsers,
		StorageQuotaGB:   props.StorageQuotaGB,
		Status:           status,
		TrialEndsAt:      trialEndsAt,
		ContactEmail:     props.ContactEmail,
		ContactPhone:     props.ContactPhone,
		BillingEmail:     props.BillingEmail,
		FeatureFlags:     featureFlags,
		Metadata:         metadata,
		CreatedBy:        props.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := tenant.validate(); err != nil {
		return nil, "", err
	}

	return tenant, plaintext, nil
}

// ReconstituteTenant 从已有数据重建租户（不分配新身份，仅校验）
func ReconstituteTenant(tenant *Tenant) (*Tenant, error) {
	if err := tenant.validate(); err != nil {
		return nil, err
	}
	return tenant, nil
}

// WithDatabaseConfig 返回替换了数据库绑定的副本（开库成功后由编排方调用）
func (t *Tenant) WithDatabaseConfig(cfg DatabaseConfig) (*Tenant, error) {
	copied := *t
	copied.Database = cfg
	copied.UpdatedAt = time.Now()
	if err := copied.validate(); err != nil {
		return nil, err
	}
	return &copied, nil
}

// validate 校验全部业务不变量
func (t *Tenant) validate() error {
	if t.Name == "" {
		return errors.NewValidation("name", "租户名称不能为空")
	}
	if len(t.Slug) < 3 || len(t.Slug) > 50 || !slugPattern.MatchString(t.Slug) {
		return errors.NewValidation("slug", "slug必须为3-50位小写字母、数字或连字符: %s", t.Slug)
	}
	if len(t.Subdomain) < 2 || len(t.Subdomain) > 30 || !subdomainPattern.MatchString(t.Subdomain) {
		return errors.NewValidation("subdomain", "子域名必须为2-30位小写字母、数字或连字符: %s", t.Subdomain)
	}
	if !crypto.TenantIDPattern.MatchString(t.TenantID) {
		return errors.NewValidation("tenant_id", "租户凭证标识格式不正确: %s", t.TenantID)
	}
	if t.SecretKeyHash == "" {
		return errors.NewValidation("secret_key_hash", "密钥摘要不能为空")
	}
	if !t.SubscriptionTier.Valid() {
		return errors.NewValidation("tier", "无效的订阅套餐: %s", string(t.SubscriptionTier))
	}
	if t.MaxWells <= 0 || t.MaxUsers <= 0 || t.StorageQuotaGB <= 0 {
		return errors.NewValidation("quota", "配额必须为正数")
	}
	if !emailPattern.MatchString(t.ContactEmail) {
		return errors.NewValidation("contact_email", "联系邮箱格式不正确: %s", t.ContactEmail)
	}
	if t.BillingEmail != nil && !emailPattern.MatchString(*t.BillingEmail) {
		return errors.NewValidation("billing_email", "账单邮箱格式不正确: %s", *t.BillingEmail)
	}
	if err := validateEngine(t.Database.Engine); err != nil {
		return err
	}
	if t.Status == TenantStatusTrial && t.TrialEndsAt == nil {
		return errors.NewValidation("trial_ends_at", "试用状态必须设置试用截止时间")
	}
	switch t.Status {
	case TenantStatusTrial, TenantStatusActive, TenantStatusSuspended, TenantStatusDeleted:
	default:
		return errors.NewValidation("status", "无效的租户状态: %s", t.Status)
	}
	return nil
}

// validateEngine 数据库引擎白名单，目前仅支持postgres
func validateEngine(engine DBEngine) error {
	switch engine {
	case DBEnginePostgres:
		return nil
	case DBEngineMySQL, DBEngineSQLServer, DBEngineMongoDB:
		return errors.NewValidation("engine", "数据库引擎 %s 暂未实现", string(engine))
	default:
		return errors.NewValidation("engine", "未知的数据库引擎: %s", string(engine))
	}
}

// guardNotDeleted 已删除的租户禁止任何变更
func (t *Tenant) guardNotDeleted() error {
	if t.Status == TenantStatusDeleted {
		return errors.NewValidation("status", "租户已删除，禁止变更")
	}
	return nil
}

// Activate 激活租户（试用转正/解除停用）
func (t *Tenant) Activate() error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if t.Status == TenantStatusActive {
		return errors.NewValidation("status", "租户已是激活状态")
	}
	t.Status = TenantStatusActive
	t.TrialEndsAt = nil
	t.SuspendedReason = ""
	t.touch()
	return nil
}

// Suspend 停用租户；重复停用视为错误
func (t *Tenant) Suspend(reason string) error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if t.Status == TenantStatusSuspended {
		return errors.NewValidation("status", "租户已处于停用状态")
	}
	t.Status = TenantStatusSuspended
	t.SuspendedReason = reason
	t.touch()
	return nil
}

// MarkDeleted 标记删除（终态）
// 激活中的付费租户必须先降级或停用才能删除，防止误删在付费中的客户
func (t *Tenant) MarkDeleted() error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if t.Status == TenantStatusActive && t.SubscriptionTier.IsPaid() {
		return errors.NewValidation("status", "激活中的付费租户不能直接删除，请先降级或停用")
	}
	now := time.Now()
	t.Status = TenantStatusDeleted
	t.DeletedAt = &now
	t.touch()
	return nil
}

// UpgradeTier 升级套餐，配额提升到新套餐默认值
func (t *Tenant) UpgradeTier(newTier Tier) error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if !newTier.Valid() {
		return errors.NewValidation("tier", "无效的订阅套餐: %s", string(newTier))
	}
	if newTier.Rank() <= t.SubscriptionTier.Rank() {
		return errors.NewValidation("tier", "升级套餐必须高于当前套餐 %s", string(t.SubscriptionTier))
	}
	t.applyTier(newTier)
	t.touch()
	return nil
}

// TierUsage 降级校验所需的当前用量（由调用方统计租户库得出）
type TierUsage struct {
	Wells int
	Users int
}

// DowngradeTier 降级套餐；当前用量超过目标套餐默认配额时拒绝
func (t *Tenant) DowngradeTier(newTier Tier, usage TierUsage) error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if !newTier.Valid() {
		return errors.NewValidation("tier", "无效的订阅套餐: %s", string(newTier))
	}
	if newTier.Rank() >= t.SubscriptionTier.Rank() {
		return errors.NewValidation("tier", "降级套餐必须低于当前套餐 %s", string(t.SubscriptionTier))
	}

	limits := newTier.DefaultLimits()
	if usage.Wells > limits.MaxWells {
		return errors.NewValidation("quota", "当前井数 %d 超过目标套餐上限 %d，无法降级", usage.Wells, limits.MaxWells)
	}
	if usage.Users > limits.MaxUsers {
		return errors.NewValidation("quota", "当前用户数 %d 超过目标套餐上限 %d，无法降级", usage.Users, limits.MaxUsers)
	}

	t.applyTier(newTier)
	t.touch()
	return nil
}

// applyTier 应用套餐默认配额与功能开关
func (t *Tenant) applyTier(tier Tier) {
	limits := tier.DefaultLimits()
	t.SubscriptionTier = tier
	t.MaxWells = limits.MaxWells
	t.MaxUsers = limits.MaxUsers
	t.StorageQuotaGB = limits.StorageQuotaGB
	if t.FeatureFlags == nil {
		t.FeatureFlags = datatypes.JSONMap{}
	}
	for k, v := range limits.Features {
		t.FeatureFlags[k] = v
	}
}

// SetFeatureFlag 设置功能开关
func (t *Tenant) SetFeatureFlag(key string, enabled bool) error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if t.FeatureFlags == nil {
		t.FeatureFlags = datatypes.JSONMap{}
	}
	t.FeatureFlags[key] = enabled
	t.touch()
	return nil
}

// UpdateContactDetails 更新联系信息
func (t *Tenant) UpdateContactDetails(email string, phone, billingEmail *string) error {
	if err := t.guardNotDeleted(); err != nil {
		return err
	}
	if !emailPattern.MatchString(email) {
		return errors.NewValidation("contact_email", "联系邮箱格式不正确: %s", email)
	}
	if billingEmail != nil && !emailPattern.MatchString(*billingEmail) {
		return errors.NewValidation("billing_email", "账单邮箱格式不正确: %s", *billingEmail)
	}
	t.ContactEmail = email
	t.ContactPhone = phone
	t.BillingEmail = billingEmail
	t.touch()
	return nil
}

// RotateSecret 轮换密钥，返回新的明文密钥（仅此一次可见）
func (t *Tenant) RotateSecret() (string, error) {
	if err := t.guardNotDeleted(); err != nil {
		return "", err
	}
	plaintext, hash, err := crypto.GenerateSecretKey()
	if err != nil {
		return "", err
	}
	now := time.Now()
	t.SecretKeyHash = hash
	t.SecretRotatedAt = &now
	t.touch()
	return plaintext, nil
}

// VerifySecret 校验明文密钥
func (t *Tenant) VerifySecret(plaintext string) bool {
	return crypto.VerifySecretKey(plaintext, t.SecretKeyHash)
}

// IsTrialExpired 试用是否已到期（仅试用状态有意义）
func (t *Tenant) IsTrialExpired() bool {
	if t.Status != TenantStatusTrial || t.TrialEndsAt == nil {
		return false
	}
	return time.Now().After(*t.TrialEndsAt)
}

// HasFeature 查询功能开关
func (t *Tenant) HasFeature(key string) bool {
	if t.FeatureFlags == nil {
		return false
	}
	enabled, ok := t.FeatureFlags[key].(bool)
	return ok && enabled
}

func (t *Tenant) touch() {
	t.UpdatedAt = time.Now()
}
