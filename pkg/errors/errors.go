package errors

import (
	"errors"
	"fmt"
)

// ========== 错误码常量定义 ==========

// CodeSuccess 成功码
const (
	CodeSuccess = 200
)

// HTTP层错误码 (400-599)
const (
	CodeInvalidParam = 400
	CodeUnauthorized = 401
	CodeForbidden    = 403
	CodeNotFound     = 404
	CodeConflict     = 409
	CodeServerError  = 500
)

// ========== 领域错误类型 ==========
// 四类错误对应不同的处理语义：
//   验证错误/冲突错误 -> 客户端可修正，不重试
//   开库错误/连接错误 -> 服务端故障，可区分后重试

// ValidationError 验证错误，Rule标明被违反的规则
type ValidationError struct {
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidation 创建验证错误
func NewValidation(rule, format string, args ...interface{}) error {
	return &ValidationError{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

// ConflictError 冲突错误（唯一性约束，如slug已被注册）
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflict 创建冲突错误
func NewConflict(field, format string, args ...interface{}) error {
	return &ConflictError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProvisioningError 租户数据库开通失败
type ProvisioningError struct {
	DatabaseName string
	Stage        string // create/marker/verify
	Message      string
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("开通租户数据库 %s 失败（%s阶段）: %s", e.DatabaseName, e.Stage, e.Message)
}

// NewProvisioning 创建开库错误
func NewProvisioning(dbName, stage, message string) error {
	return &ProvisioningError{DatabaseName: dbName, Stage: stage, Message: message}
}

// ConnectionError 租户连接池获取/探活失败
type ConnectionError struct {
	TenantKey string
	Err       error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("租户 %s 数据库连接失败: %v", e.TenantKey, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NewConnection 创建连接错误
func NewConnection(tenantKey string, err error) error {
	return &ConnectionError{TenantKey: tenantKey, Err: err}
}

// ========== 类型判断 ==========

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsProvisioning(err error) bool {
	var e *ProvisioningError
	return errors.As(err, &e)
}

func IsConnection(err error) bool {
	var e *ConnectionError
	return errors.As(err, &e)
}
