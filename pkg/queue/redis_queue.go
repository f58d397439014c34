package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisQueue 租户事件通知队列
// 下游的通知服务（邮件/站内信）从队列消费，一次性密钥只经队列传递、绝不落库
type RedisQueue struct {
	client *redis.Client
	prefix string
}

// TenantEventMessage 租户事件消息
type TenantEventMessage struct {
	Event        string `json:"event"`             // tenant.created / tenant.secret_rotated / tenant.suspended
	TenantUUID   string `json:"tenant_uuid"`       // 聚合ID
	TenantID     string `json:"tenant_id"`         // 凭证标识
	TenantName   string `json:"tenant_name"`       // 租户名称
	Slug         string `json:"slug"`              // 租户slug
	ContactEmail string `json:"contact_email"`     // 通知收件人
	SecretKey    string `json:"secret_key,omitempty"` // 一次性明文密钥，仅创建/轮换事件携带
	Created      int64  `json:"created"`           // 事件时间戳
}

// Config Redis配置
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// NewRedisQueue 创建Redis队列实例
func NewRedisQueue(config *Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
	})

	prefix := config.Prefix
	if prefix == "" {
		prefix = "wellpulse:notify"
	}

	return &RedisQueue{
		client: client,
		prefix: prefix,
	}
}

// Close 关闭Redis连接
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Ping 测试Redis连接
func (q *RedisQueue) Ping() error {
	ctx := context.Background()
	return q.client.Ping(ctx).Err()
}

// PublishTenantEvent 发布租户事件
func (q *RedisQueue) PublishTenantEvent(msg *TenantEventMessage) error {
	ctx := context.Background()

	if msg.Created == 0 {
		msg.Created = time.Now().Unix()
	}

	// 序列化消息
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("序列化租户事件失败: %v", err)
	}

	// 加入队列（左侧入队）
	queueKey := q.prefix + ":events"
	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("租户事件入队失败: %v", err)
	}

	return nil
}
