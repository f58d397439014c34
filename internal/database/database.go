package database

import (
	"fmt"
	"time"

	"wellpulse/pkg/config"
	"wellpulse/pkg/logger"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DB 主库（租户注册表）全局实例
var DB *gorm.DB

// Initialize 初始化主库连接
func Initialize(cfg *config.Config) error {
	appLogger := logger.GetLogger()

	gormConfig := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.Server.Mode == "debug" {
		gormConfig.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.MasterDSN()), gormConfig)
	if err != nil {
		return fmt.Errorf("连接主库失败: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("获取主库连接池失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	DB = db
	appLogger.Infof("Master database connected: %s:%s/%s",
		cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName)
	return nil
}

// GetDB 获取主库实例
func GetDB() *gorm.DB {
	return DB
}

// Close 关闭主库连接
func Close() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
