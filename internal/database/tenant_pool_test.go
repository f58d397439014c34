package database

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"wellpulse/internal/models"
	"wellpulse/pkg/config"
	"wellpulse/pkg/errors"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func testPoolConfig() *config.TenantDBConfig {
	return &config.TenantDBConfig{
		Host:           "localhost",
		Port:           5432,
		User:           "postgres",
		SSLMode:        "disable",
		AdminDB:        "postgres",
		NameSuffix:     "wellpulse",
		MaxOpenConns:   10,
		MaxIdleConns:   2,
		ConnectTimeout: 5 * time.Second,
	}
}

// newMockGormDB 基于sqlmock构造gorm实例，测试替身opener用
func newMockGormDB(t *testing.T) *gorm.DB {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	db, err := gorm.Open(postgres.New(postgres.Config{
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	}), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func testTenant(t *testing.T, id, slug string) *models.Tenant {
	t.Helper()
	return &models.Tenant{
		ID:        id,
		Slug:      slug,
		Status:    models.TenantStatusActive,
		Database: models.DatabaseConfig{
			Engine:       models.DBEnginePostgres,
			DatabaseName: "acme_oil_gas_wellpulse",
		},
	}
}

func TestGetConnectionConcurrentSingleConstruction(t *testing.T) {
	var openCalls int64
	shared := newMockGormDB(t)

	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		atomic.AddInt64(&openCalls, 1)
		time.Sleep(10 * time.Millisecond) // 放大竞争窗口
		return shared, nil
	})

	tenant := testTenant(t, "11111111-1111-1111-1111-111111111111", "acme-oil-gas")

	const workers = 50
	results := make([]*gorm.DB, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			db, err := manager.GetConnection(tenant)
			assert.NoError(t, err)
			results[idx] = db
		}(i)
	}
	wg.Wait()

	// 并发首次访问只建一个池，所有调用方拿到同一实例
	assert.Equal(t, int64(1), atomic.LoadInt64(&openCalls))
	for _, db := range results {
		assert.Same(t, shared, db)
	}
	assert.Equal(t, 1, manager.ActiveConnectionCount())
}

func TestGetConnectionReusesCachedPool(t *testing.T) {
	var openCalls int64
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		atomic.AddInt64(&openCalls, 1)
		return newMockGormDB(t), nil
	})

	tenant := testTenant(t, "22222222-2222-2222-2222-222222222222", "permian-ops")

	first, err := manager.GetConnection(tenant)
	require.NoError(t, err)
	second, err := manager.GetConnection(tenant)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), openCalls)
}

func TestGetConnectionIsolatesTenants(t *testing.T) {
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		return newMockGormDB(t), nil
	})

	a := testTenant(t, "33333333-3333-3333-3333-333333333333", "acme-oil-gas")
	b := testTenant(t, "44444444-4444-4444-4444-444444444444", "bakken-energy")
	b.Database.DatabaseName = "bakken_energy_wellpulse"

	dbA, err := manager.GetConnection(a)
	require.NoError(t, err)
	dbB, err := manager.GetConnection(b)
	require.NoError(t, err)

	assert.NotSame(t, dbA, dbB)
	assert.Equal(t, 2, manager.ActiveConnectionCount())

	snapshot := manager.Snapshot()
	ids := make([]string, 0, len(snapshot))
	names := make([]string, 0, len(snapshot))
	for _, status := range snapshot {
		ids = append(ids, status.TenantID)
		names = append(names, status.DatabaseName)
	}
	assert.ElementsMatch(t, []string{a.ID, b.ID}, ids)
	assert.ElementsMatch(t, []string{"acme_oil_gas_wellpulse", "bakken_energy_wellpulse"}, names)
}

func TestGetConnectionUsesStoredURLFirst(t *testing.T) {
	var gotDSN string
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		gotDSN = dsn
		return newMockGormDB(t), nil
	})

	tenant := testTenant(t, "55555555-5555-5555-5555-555555555555", "acme-oil-gas")
	tenant.Database.DatabaseURL = "host=db-override port=5433 dbname=acme_oil_gas_wellpulse"

	_, err := manager.GetConnection(tenant)
	require.NoError(t, err)
	assert.Equal(t, tenant.Database.DatabaseURL, gotDSN)
}

func TestGetConnectionDerivesDSNWhenURLMissing(t *testing.T) {
	var gotDSN string
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		gotDSN = dsn
		return newMockGormDB(t), nil
	})

	tenant := testTenant(t, "66666666-6666-6666-6666-666666666666", "acme-oil-gas")
	_, err := manager.GetConnection(tenant)
	require.NoError(t, err)
	assert.Contains(t, gotDSN, "dbname=acme_oil_gas_wellpulse")
}

func TestGetConnectionRejectsSuspendedAndDeleted(t *testing.T) {
	var openCalls int64
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		atomic.AddInt64(&openCalls, 1)
		return newMockGormDB(t), nil
	})

	suspended := testTenant(t, "77777777-7777-7777-7777-777777777777", "late-payer")
	suspended.Status = models.TenantStatusSuspended
	suspended.SuspendedReason = "欠费"

	_, err := manager.GetConnection(suspended)
	assert.True(t, errors.IsConnection(err))

	deleted := testTenant(t, "88888888-8888-8888-8888-888888888888", "gone-co")
	deleted.Status = models.TenantStatusDeleted
	_, err = manager.GetConnection(deleted)
	assert.True(t, errors.IsConnection(err))

	// 两类租户都不触发建池
	assert.Equal(t, int64(0), openCalls)
	assert.Equal(t, 0, manager.ActiveConnectionCount())
}

func TestGetConnectionRejectsUnboundTenant(t *testing.T) {
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		return newMockGormDB(t), nil
	})

	tenant := testTenant(t, "99999999-9999-9999-9999-999999999999", "unbound")
	tenant.Database.DatabaseName = ""

	_, err := manager.GetConnection(tenant)
	assert.True(t, errors.IsConnection(err))
}

func TestGetConnectionOpenFailureNotCached(t *testing.T) {
	var openCalls int64
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		if atomic.AddInt64(&openCalls, 1) == 1 {
			return nil, fmt.Errorf("connection refused")
		}
		return newMockGormDB(t), nil
	})

	tenant := testTenant(t, "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa", "flaky")

	_, err := manager.GetConnection(tenant)
	require.Error(t, err)
	assert.True(t, errors.IsConnection(err))
	assert.Equal(t, 0, manager.ActiveConnectionCount())

	// 失败不缓存，下一次访问重试建池
	db, err := manager.GetConnection(tenant)
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, int64(2), openCalls)
}

func TestCloseTenantConnection(t *testing.T) {
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		return newMockGormDB(t), nil
	})

	tenant := testTenant(t, "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb", "acme-oil-gas")
	_, err := manager.GetConnection(tenant)
	require.NoError(t, err)
	require.Equal(t, 1, manager.ActiveConnectionCount())

	require.NoError(t, manager.CloseTenantConnection(tenant.ID))
	assert.Equal(t, 0, manager.ActiveConnectionCount())

	// 关闭不存在的池是幂等的
	assert.NoError(t, manager.CloseTenantConnection(tenant.ID))
}

func TestShutdownClosesAllPools(t *testing.T) {
	manager := NewTenantPoolManagerWithOpener(testPoolConfig(), func(dsn string) (*gorm.DB, error) {
		return newMockGormDB(t), nil
	})

	for i := 0; i < 3; i++ {
		tenant := testTenant(t,
			fmt.Sprintf("cccccccc-cccc-cccc-cccc-%012d", i),
			fmt.Sprintf("tenant-%d", i))
		tenant.Database.DatabaseName = fmt.Sprintf("tenant_%d_wellpulse", i)
		_, err := manager.GetConnection(tenant)
		require.NoError(t, err)
	}
	require.Equal(t, 3, manager.ActiveConnectionCount())

	manager.Shutdown()
	assert.Equal(t, 0, manager.ActiveConnectionCount())
	assert.Empty(t, manager.Snapshot())
}
