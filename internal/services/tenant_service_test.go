package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"wellpulse/internal/models"
	"wellpulse/pkg/errors"
	"wellpulse/pkg/queue"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ========== 测试替身 ==========

// fakeTenantRepo 内存仓储，记录调用顺序供编排顺序断言
type fakeTenantRepo struct {
	tenants   map[string]*models.Tenant
	calls     *[]string
	createErr error
}

func newFakeTenantRepo(calls *[]string) *fakeTenantRepo {
	return &fakeTenantRepo{tenants: make(map[string]*models.Tenant), calls: calls}
}

func (r *fakeTenantRepo) record(name string) {
	if r.calls != nil {
		*r.calls = append(*r.calls, name)
	}
}

func (r *fakeTenantRepo) Create(tenant *models.Tenant) error {
	r.record("Create")
	if r.createErr != nil {
		return r.createErr
	}
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *fakeTenantRepo) Update(tenant *models.Tenant) error {
	r.tenants[tenant.ID] = tenant
	return nil
}

func (r *fakeTenantRepo) FindByID(id string) (*models.Tenant, error) {
	if t, ok := r.tenants[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeTenantRepo) FindBySlug(slug string) (*models.Tenant, error) {
	for _, t := range r.tenants {
		if t.Slug == slug && t.Status != models.TenantStatusDeleted {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeTenantRepo) FindBySubdomain(subdomain string) (*models.Tenant, error) {
	for _, t := range r.tenants {
		if t.Subdomain == subdomain && t.Status != models.TenantStatusDeleted {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeTenantRepo) FindByTenantID(tenantID string) (*models.Tenant, error) {
	for _, t := range r.tenants {
		if t.TenantID == tenantID && t.Status != models.TenantStatusDeleted {
			return t, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeTenantRepo) SlugExists(slug string) (bool, error) {
	r.record("SlugExists")
	for _, t := range r.tenants {
		if t.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTenantRepo) SubdomainExists(subdomain string) (bool, error) {
	r.record("SubdomainExists")
	for _, t := range r.tenants {
		if t.Subdomain == subdomain {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTenantRepo) TenantIDExists(tenantID string) (bool, error) {
	for _, t := range r.tenants {
		if t.TenantID == tenantID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTenantRepo) ListWithPage(status, keyword string, page, pageSize int) ([]*models.Tenant, int64, error) {
	var out []*models.Tenant
	for _, t := range r.tenants {
		if status != "" && t.Status != status {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (r *fakeTenantRepo) FindExpiredTrials(now time.Time) ([]*models.Tenant, error) {
	var out []*models.Tenant
	for _, t := range r.tenants {
		if t.Status == models.TenantStatusTrial && t.TrialEndsAt != nil && t.TrialEndsAt.Before(now) {
			out = append(out, t)
		}
	}
	return out, nil
}

// fakeProvisioner 记录开库调用，可配置失败
type fakeProvisioner struct {
	calls  *[]string
	dbName string
	fail   bool
}

func (p *fakeProvisioner) ProvisionDatabase(ctx context.Context, dbName string) *ProvisioningResult {
	if p.calls != nil {
		*p.calls = append(*p.calls, "Provision")
	}
	p.dbName = dbName
	if p.fail {
		return &ProvisioningResult{
			DatabaseName: dbName,
			Stage:        ProvisionStageCreate,
			Message:      "permission denied to create database",
		}
	}
	return &ProvisioningResult{DatabaseName: dbName, Success: true}
}

// fakeNotifier 收集发布的事件
type fakeNotifier struct {
	messages []*queue.TenantEventMessage
	err      error
}

func (n *fakeNotifier) PublishTenantEvent(msg *queue.TenantEventMessage) error {
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, msg)
	return nil
}

// fakePools 记录被驱逐的租户
type fakePools struct {
	evicted []string
}

func (p *fakePools) CloseTenantConnection(tenantID string) error {
	p.evicted = append(p.evicted, tenantID)
	return nil
}

type fixedUsage struct {
	usage models.TierUsage
}

func (u *fixedUsage) CurrentUsage(tenant *models.Tenant) (models.TierUsage, error) {
	return u.usage, nil
}

// ========== 测试装配 ==========

type serviceFixture struct {
	svc         *TenantService
	repo        *fakeTenantRepo
	provisioner *fakeProvisioner
	notifier    *fakeNotifier
	pools       *fakePools
	calls       []string
}

func newServiceFixture() *serviceFixture {
	f := &serviceFixture{}
	f.repo = newFakeTenantRepo(&f.calls)
	f.provisioner = &fakeProvisioner{calls: &f.calls}
	f.notifier = &fakeNotifier{}
	f.pools = &fakePools{}
	f.svc = NewTenantServiceWith(f.repo, f.provisioner, f.notifier, f.pools, testTenantDBConfig())
	return f
}

func validCreateRequest() *CreateTenantRequest {
	return &CreateTenantRequest{
		Name:         "Acme Oil & Gas",
		Slug:         "acme-oil-gas",
		Subdomain:    "acme",
		Tier:         "STARTER",
		ContactEmail: "ops@acme-oil.com",
		CreatedBy:    1,
	}
}

// ========== 创建流程 ==========

func TestCreateTenant(t *testing.T) {
	f := newServiceFixture()

	tenant, secret, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	// 套餐解析大小写不敏感，starter默认配额
	assert.Equal(t, models.TierStarter, tenant.SubscriptionTier)
	assert.Equal(t, models.TenantStatusActive, tenant.Status)
	assert.Equal(t, 50, tenant.MaxWells)
	assert.Equal(t, 5, tenant.MaxUsers)
	assert.Equal(t, 10, tenant.StorageQuotaGB)

	// 库名由slug派生
	assert.Equal(t, "acme_oil_gas_wellpulse", tenant.Database.DatabaseName)
	assert.Equal(t, "acme_oil_gas_wellpulse", f.provisioner.dbName)
	assert.Contains(t, tenant.Database.DatabaseURL, "dbname=acme_oil_gas_wellpulse")

	// 凭证
	assert.True(t, strings.HasPrefix(tenant.TenantID, "ACMEOILG-"))
	assert.True(t, strings.HasPrefix(secret, "wp_sk_"))
	assert.True(t, tenant.VerifySecret(secret))

	// 已持久化
	stored, err := f.repo.FindBySlug("acme-oil-gas")
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, stored.ID)

	// 创建事件携带一次性密钥
	require.Len(t, f.notifier.messages, 1)
	assert.Equal(t, "tenant.created", f.notifier.messages[0].Event)
	assert.Equal(t, secret, f.notifier.messages[0].SecretKey)
}

func TestCreateTenantCallOrdering(t *testing.T) {
	f := newServiceFixture()

	_, _, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	// 顺序约定：唯一性检查 -> 开库 -> 落库
	assert.Equal(t, []string{"SlugExists", "SubdomainExists", "Provision", "Create"}, f.calls)
}

func TestCreateTenantTrial(t *testing.T) {
	f := newServiceFixture()
	req := validCreateRequest()
	req.TrialDays = 14

	before := time.Now().AddDate(0, 0, 14)
	tenant, _, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, models.TenantStatusTrial, tenant.Status)
	require.NotNil(t, tenant.TrialEndsAt)
	assert.WithinDuration(t, before, *tenant.TrialEndsAt, time.Second)
}

func TestCreateTenantSlugConflict(t *testing.T) {
	f := newServiceFixture()
	_, _, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	f.calls = nil

	req := validCreateRequest()
	req.Subdomain = "acme2"
	_, _, err = f.svc.Create(context.Background(), req)
	assert.True(t, errors.IsConflict(err))

	// 冲突在开库之前拦下
	assert.NotContains(t, f.calls, "Provision")
	assert.NotContains(t, f.calls, "Create")
}

func TestCreateTenantSubdomainConflict(t *testing.T) {
	f := newServiceFixture()
	_, _, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	req := validCreateRequest()
	req.Slug = "acme-two"
	_, _, err = f.svc.Create(context.Background(), req)
	assert.True(t, errors.IsConflict(err))
}

func TestCreateTenantInvalidRequestDoesNotProvision(t *testing.T) {
	f := newServiceFixture()

	req := validCreateRequest()
	req.ContactEmail = "not-an-email"
	_, _, err := f.svc.Create(context.Background(), req)
	assert.True(t, errors.IsValidation(err))

	req = validCreateRequest()
	req.Tier = "platinum"
	_, _, err = f.svc.Create(context.Background(), req)
	assert.True(t, errors.IsValidation(err))

	req = validCreateRequest()
	req.Engine = "mysql"
	_, _, err = f.svc.Create(context.Background(), req)
	assert.True(t, errors.IsValidation(err))

	// 非法请求一次库都不开
	assert.NotContains(t, f.calls, "Provision")
}

func TestCreateTenantProvisionFailureNothingPersisted(t *testing.T) {
	f := newServiceFixture()
	f.provisioner.fail = true

	_, _, err := f.svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)
	assert.True(t, errors.IsProvisioning(err))

	// 开库失败绝不落库，也不发通知
	assert.NotContains(t, f.calls, "Create")
	assert.Empty(t, f.repo.tenants)
	assert.Empty(t, f.notifier.messages)
}

func TestCreateTenantPersistFailure(t *testing.T) {
	f := newServiceFixture()
	f.repo.createErr = fmt.Errorf("connection reset by peer")

	_, _, err := f.svc.Create(context.Background(), validCreateRequest())
	require.Error(t, err)

	// 落库失败时不发创建事件（密钥随失败请求丢弃）
	assert.Empty(t, f.notifier.messages)
}

func TestCreateTenantNotifierFailureDoesNotFailCreate(t *testing.T) {
	f := newServiceFixture()
	f.notifier.err = fmt.Errorf("redis: connection pool timeout")

	tenant, secret, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)
	assert.NotNil(t, tenant)
	assert.NotEmpty(t, secret)
}

// ========== 生命周期 ==========

func createForTest(t *testing.T, f *serviceFixture, req *CreateTenantRequest) *models.Tenant {
	t.Helper()
	tenant, _, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	return tenant
}

func TestSuspendEvictsPool(t *testing.T) {
	f := newServiceFixture()
	tenant := createForTest(t, f, validCreateRequest())

	updated, err := f.svc.Suspend(tenant.ID, "欠费")
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusSuspended, updated.Status)
	assert.Equal(t, []string{tenant.ID}, f.pools.evicted)

	// 停用事件已发布
	last := f.notifier.messages[len(f.notifier.messages)-1]
	assert.Equal(t, "tenant.suspended", last.Event)
	assert.Empty(t, last.SecretKey)
}

func TestDeleteEvictsPool(t *testing.T) {
	f := newServiceFixture()
	tenant := createForTest(t, f, validCreateRequest())

	require.NoError(t, f.svc.Delete(tenant.ID))
	assert.Equal(t, []string{tenant.ID}, f.pools.evicted)

	// 删除后按slug查不到
	_, err := f.svc.GetBySlug(tenant.Slug)
	assert.Equal(t, gorm.ErrRecordNotFound, err)
}

func TestUpgradeAndDowngradeTier(t *testing.T) {
	f := newServiceFixture()
	req := validCreateRequest()
	req.Tier = "professional"
	tenant := createForTest(t, f, req)

	upgraded, err := f.svc.UpgradeTier(tenant.ID, "enterprise")
	require.NoError(t, err)
	assert.Equal(t, models.TierEnterprise, upgraded.SubscriptionTier)
	assert.Equal(t, 1000, upgraded.MaxWells)

	// 用量超过目标套餐上限时降级被拒
	f.svc.SetUsageCounter(&fixedUsage{usage: models.TierUsage{Wells: 150, Users: 10}})
	_, err = f.svc.DowngradeTier(tenant.ID, "starter")
	assert.True(t, errors.IsValidation(err))

	f.svc.SetUsageCounter(&fixedUsage{usage: models.TierUsage{Wells: 30, Users: 3}})
	downgraded, err := f.svc.DowngradeTier(tenant.ID, "starter")
	require.NoError(t, err)
	assert.Equal(t, models.TierStarter, downgraded.SubscriptionTier)
}

func TestRotateSecret(t *testing.T) {
	f := newServiceFixture()
	tenant, oldSecret, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	updated, newSecret, err := f.svc.RotateSecret(tenant.ID)
	require.NoError(t, err)
	assert.NotEqual(t, oldSecret, newSecret)
	assert.True(t, updated.VerifySecret(newSecret))
	assert.False(t, updated.VerifySecret(oldSecret))

	last := f.notifier.messages[len(f.notifier.messages)-1]
	assert.Equal(t, "tenant.secret_rotated", last.Event)
	assert.Equal(t, newSecret, last.SecretKey)
}

// ========== 凭证校验 ==========

func TestVerifyCredentials(t *testing.T) {
	f := newServiceFixture()
	tenant, secret, err := f.svc.Create(context.Background(), validCreateRequest())
	require.NoError(t, err)

	got, err := f.svc.VerifyCredentials(tenant.TenantID, secret)
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, got.ID)

	// 三类失败对外是同一个错误，不泄露具体原因
	_, errWrongSecret := f.svc.VerifyCredentials(tenant.TenantID, "wp_sk_wrong")
	_, errUnknownID := f.svc.VerifyCredentials("NOPE-AAAAAA", secret)
	require.Error(t, errWrongSecret)
	require.Error(t, errUnknownID)
	assert.Equal(t, errWrongSecret.Error(), errUnknownID.Error())

	_, err = f.svc.Suspend(tenant.ID, "欠费")
	require.NoError(t, err)
	_, errSuspended := f.svc.VerifyCredentials(tenant.TenantID, secret)
	require.Error(t, errSuspended)
	assert.Equal(t, errWrongSecret.Error(), errSuspended.Error())
}
