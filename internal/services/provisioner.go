package services

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"wellpulse/pkg/config"
	"wellpulse/pkg/errors"
	"wellpulse/pkg/logger"
	"wellpulse/pkg/metrics"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// 库名白名单：小写字母、数字、下划线
// 库名会被拼进管理SQL，不符合白名单的一律拒绝
var databaseNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// pgDuplicateDatabase CREATE DATABASE撞库时的SQLSTATE
const pgDuplicateDatabase = "42P04"

// 开库失败阶段
const (
	ProvisionStageName   = "name"
	ProvisionStageCreate = "create"
	ProvisionStageMarker = "marker"
	ProvisionStageVerify = "verify"
)

// ProvisioningResult 开库结果
// 开库不抛错：任何失败都落在结果里，由编排方决定后续动作
type ProvisioningResult struct {
	DatabaseName   string        `json:"database_name"`
	Success        bool          `json:"success"`
	AlreadyExisted bool          `json:"already_existed"` // 库已存在（幂等重试场景）
	Stage          string        `json:"stage,omitempty"` // 失败阶段
	Message        string        `json:"message,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Err 失败结果转为领域错误，成功返回nil
func (r *ProvisioningResult) Err() error {
	if r.Success {
		return nil
	}
	return errors.NewProvisioning(r.DatabaseName, r.Stage, r.Message)
}

// DeriveDatabaseName 由slug派生租户库名：连字符转下划线，拼接后缀
// 例：acme-oil-gas + wellpulse -> acme_oil_gas_wellpulse
func DeriveDatabaseName(slug, suffix string) (string, error) {
	name := strings.ReplaceAll(slug, "-", "_")
	if suffix != "" {
		name = name + "_" + suffix
	}
	if !databaseNamePattern.MatchString(name) {
		return "", errors.NewValidation("database_name", "派生的库名含非法字符: %s", name)
	}
	return name, nil
}

// ConnectFunc 按DSN打开一个数据库连接，测试时可注入替身
type ConnectFunc func(dsn string) (*sql.DB, error)

// Provisioner 租户数据库开通接口
type Provisioner interface {
	ProvisionDatabase(ctx context.Context, dbName string) *ProvisioningResult
}

// DatabaseProvisioner 租户数据库开通器
// 用具有CREATEDB权限的管理连接建库，再连进新库写入schema标记并验证可用
type DatabaseProvisioner struct {
	cfg     *config.TenantDBConfig
	connect ConnectFunc
}

func NewDatabaseProvisioner(cfg *config.TenantDBConfig) *DatabaseProvisioner {
	return &DatabaseProvisioner{
		cfg:     cfg,
		connect: defaultConnect,
	}
}

// NewDatabaseProvisionerWithConnect 使用自定义连接函数创建开通器（测试用）
func NewDatabaseProvisionerWithConnect(cfg *config.TenantDBConfig, connect ConnectFunc) *DatabaseProvisioner {
	return &DatabaseProvisioner{cfg: cfg, connect: connect}
}

func defaultConnect(dsn string) (*sql.DB, error) {
	return sql.Open("pgx", dsn)
}

// ProvisionDatabase 开通租户数据库（幂等：库已存在视为成功并标记AlreadyExisted）
func (p *DatabaseProvisioner) ProvisionDatabase(ctx context.Context, dbName string) *ProvisioningResult {
	appLogger := logger.GetLogger()
	start := time.Now()
	result := &ProvisioningResult{DatabaseName: dbName}

	fail := func(stage, format string, args ...interface{}) *ProvisioningResult {
		result.Stage = stage
		result.Message = fmt.Sprintf(format, args...)
		result.Duration = time.Since(start)
		metrics.ProvisioningTotal.WithLabelValues("failure").Inc()
		appLogger.WithField("database", dbName).WithField("stage", stage).
			Errorf("Tenant database provisioning failed: %s", result.Message)
		return result
	}

	// 阶段一：库名白名单校验
	if !databaseNamePattern.MatchString(dbName) {
		return fail(ProvisionStageName, "库名含非法字符: %s", dbName)
	}

	// 阶段二：管理连接建库
	admin, err := p.connect(p.cfg.AdminDSN())
	if err != nil {
		return fail(ProvisionStageCreate, "管理连接失败: %v", err)
	}
	defer admin.Close()

	// 库名已通过白名单校验，可以安全拼接
	// CREATE DATABASE不能在事务里执行，也不支持参数绑定
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	if err != nil {
		if isDuplicateDatabase(err) {
			result.AlreadyExisted = true
			appLogger.WithField("database", dbName).Info("Tenant database already exists, continuing")
		} else {
			return fail(ProvisionStageCreate, "建库失败: %v", err)
		}
	}

	// 阶段三：连进新库写入schema标记
	tenantDB, err := p.connect(p.cfg.DSNFor(dbName))
	if err != nil {
		return fail(ProvisionStageMarker, "连接新库失败: %v", err)
	}
	defer tenantDB.Close()

	_, err = tenantDB.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_info (
			key        VARCHAR(50) PRIMARY KEY,
			value      VARCHAR(200) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fail(ProvisionStageMarker, "创建schema标记表失败: %v", err)
	}

	_, err = tenantDB.ExecContext(ctx, `
		INSERT INTO schema_info (key, value)
		VALUES ('provisioned_by', 'wellpulse'), ('schema_version', '1')
		ON CONFLICT (key) DO NOTHING`)
	if err != nil {
		return fail(ProvisionStageMarker, "写入schema标记失败: %v", err)
	}

	// 阶段四：可用性验证
	var one int
	if err := tenantDB.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fail(ProvisionStageVerify, "新库验证失败: %v", err)
	}

	result.Success = true
	result.Duration = time.Since(start)
	if result.AlreadyExisted {
		metrics.ProvisioningTotal.WithLabelValues("already_exists").Inc()
	} else {
		metrics.ProvisioningTotal.WithLabelValues("success").Inc()
	}

	appLogger.WithField("database", dbName).
		WithField("already_existed", result.AlreadyExisted).
		WithField("duration", result.Duration.String()).
		Info("Tenant database provisioned")
	return result
}

// isDuplicateDatabase 判断是否撞库错误
func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return pgErr.Code == pgDuplicateDatabase
	}
	// 非pgx驱动（或测试替身）走错误文本兜底
	return strings.Contains(err.Error(), "already exists")
}
