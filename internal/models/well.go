package models

import (
	"time"

	"gorm.io/datatypes"
)

// Well 油气井记录（存储在各租户自己的数据库中，不在主库）
type Well struct {
	ID        string     `json:"id" gorm:"type:uuid;primaryKey"`
	Name      string     `json:"name" gorm:"not null;size:100"`
	APINumber string     `json:"api_number" gorm:"unique;size:20;index"` // API井号
	Field     string     `json:"field" gorm:"size:100"`                  // 所属油田
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Status    string     `json:"status" gorm:"default:'active';size:20"`
	SpudDate  *time.Time `json:"spud_date"` // 开钻日期

	// 井身/设备扩展属性
	Attributes datatypes.JSONMap `json:"attributes" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName 表名
func (w *Well) TableName() string {
	return "wells"
}

// 井状态常量
const (
	WellStatusActive    = "active"
	WellStatusShutIn    = "shut_in"
	WellStatusAbandoned = "abandoned"
)
