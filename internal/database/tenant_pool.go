package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"wellpulse/internal/models"
	"wellpulse/pkg/config"
	"wellpulse/pkg/errors"
	"wellpulse/pkg/logger"
	"wellpulse/pkg/metrics"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// OpenFunc 按DSN打开一个gorm连接，测试时可注入替身
type OpenFunc func(dsn string) (*gorm.DB, error)

// TenantPoolEntry 缓存的租户连接池
type TenantPoolEntry struct {
	db           *gorm.DB
	databaseName string
	createdAt    time.Time
}

// PoolStatus 连接池运行状态（运维接口用的只读视图）
type PoolStatus struct {
	TenantID        string    `json:"tenant_id"`
	DatabaseName    string    `json:"database_name"`
	CreatedAt       time.Time `json:"created_at"`
	OpenConnections int       `json:"open_connections"`
}

// TenantPoolManager 租户连接池管理器
// 每个租户的数据库连接池在首次访问时惰性创建，之后复用；
// 并发的首次访问只会建一个池（双重检查锁）
type TenantPoolManager struct {
	mu    sync.RWMutex
	pools map[string]*TenantPoolEntry // key: 租户聚合ID

	cfg  *config.TenantDBConfig
	open OpenFunc
}

// NewTenantPoolManager 创建连接池管理器
func NewTenantPoolManager(cfg *config.TenantDBConfig) *TenantPoolManager {
	m := &TenantPoolManager{
		pools: make(map[string]*TenantPoolEntry),
		cfg:   cfg,
	}
	m.open = m.defaultOpen
	return m
}

// NewTenantPoolManagerWithOpener 使用自定义打开函数创建管理器（测试用）
func NewTenantPoolManagerWithOpener(cfg *config.TenantDBConfig, open OpenFunc) *TenantPoolManager {
	return &TenantPoolManager{
		pools: make(map[string]*TenantPoolEntry),
		cfg:   cfg,
		open:  open,
	}
}

// defaultOpen 打开postgres连接池并应用池参数
func (m *TenantPoolManager) defaultOpen(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(m.cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(m.cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(m.cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(m.cfg.ConnMaxIdleTime)

	// 建池即探活，坏配置在这里暴露而不是留给第一条业务查询
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	return db, nil
}

// GetConnection 获取租户的数据库连接池（不存在则创建）
func (m *TenantPoolManager) GetConnection(tenant *models.Tenant) (*gorm.DB, error) {
	if tenant == nil {
		return nil, errors.NewConnection("", fmt.Errorf("租户不能为空"))
	}

	// 停用/已删除的租户一律拒绝路由，即使池还在缓存里
	if tenant.Status == models.TenantStatusSuspended {
		return nil, errors.NewConnection(tenant.Slug, fmt.Errorf("租户已停用: %s", tenant.SuspendedReason))
	}
	if tenant.Status == models.TenantStatusDeleted {
		return nil, errors.NewConnection(tenant.Slug, fmt.Errorf("租户已删除"))
	}

	// 快路径：读锁命中缓存
	m.mu.RLock()
	if entry, ok := m.pools[tenant.ID]; ok {
		m.mu.RUnlock()
		return entry.db, nil
	}
	m.mu.RUnlock()

	// 慢路径：写锁下二次检查后建池
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.pools[tenant.ID]; ok {
		return entry.db, nil
	}

	dsn := tenant.Database.DatabaseURL
	if dsn == "" {
		if tenant.Database.DatabaseName == "" {
			return nil, errors.NewConnection(tenant.Slug, fmt.Errorf("租户未绑定数据库"))
		}
		dsn = m.cfg.DSNFor(tenant.Database.DatabaseName)
	}

	db, err := m.open(dsn)
	if err != nil {
		metrics.TenantPoolCreations.WithLabelValues("failure").Inc()
		return nil, errors.NewConnection(tenant.Slug, err)
	}

	m.pools[tenant.ID] = &TenantPoolEntry{
		db:           db,
		databaseName: tenant.Database.DatabaseName,
		createdAt:    time.Now(),
	}
	metrics.TenantPoolCreations.WithLabelValues("success").Inc()
	metrics.TenantPoolsActive.Set(float64(len(m.pools)))

	logger.GetLogger().WithField("tenant_slug", tenant.Slug).
		WithField("database", tenant.Database.DatabaseName).
		Info("Tenant connection pool created")
	return db, nil
}

// CloseTenantConnection 关闭并移除某个租户的连接池（停用/删除租户时调用）
func (m *TenantPoolManager) CloseTenantConnection(tenantID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.pools[tenantID]
	if !ok {
		return nil
	}
	delete(m.pools, tenantID)
	metrics.TenantPoolsActive.Set(float64(len(m.pools)))

	sqlDB, err := entry.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Shutdown 关闭全部租户连接池（进程退出时调用）
func (m *TenantPoolManager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	appLogger := logger.GetLogger()
	for tenantID, entry := range m.pools {
		if sqlDB, err := entry.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				appLogger.Warnf("Failed to close tenant pool %s: %v", tenantID, err)
			}
		}
		delete(m.pools, tenantID)
	}
	metrics.TenantPoolsActive.Set(0)
	appLogger.Info("All tenant connection pools closed")
}

// ActiveConnectionCount 当前缓存的连接池数量
func (m *TenantPoolManager) ActiveConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pools)
}

// Snapshot 返回全部连接池的运行状态（运维接口用）
func (m *TenantPoolManager) Snapshot() []PoolStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]PoolStatus, 0, len(m.pools))
	for id, entry := range m.pools {
		status := PoolStatus{
			TenantID:     id,
			DatabaseName: entry.databaseName,
			CreatedAt:    entry.createdAt,
		}
		if sqlDB, err := entry.db.DB(); err == nil {
			status.OpenConnections = sqlDB.Stats().OpenConnections
		}
		statuses = append(statuses, status)
	}
	return statuses
}

// ========== 全局单例 ==========

var (
	poolManagerInstance *TenantPoolManager
	poolManagerOnce     sync.Once
)

// GetTenantPoolManager 获取连接池管理器单例
func GetTenantPoolManager() *TenantPoolManager {
	poolManagerOnce.Do(func() {
		cfg := config.GetConfig()
		poolManagerInstance = NewTenantPoolManager(&cfg.TenantDB)
	})
	return poolManagerInstance
}
