package database

import (
	"wellpulse/internal/models"
	"wellpulse/pkg/logger"
)

// Migrate 执行主库迁移
// 注意：只迁移注册表相关模型，租户业务表在各租户库中按需迁移
func Migrate() error {
	appLogger := logger.GetLogger()
	appLogger.Info("Starting master database migration...")

	err := DB.AutoMigrate(
		&models.Tenant{},
		&models.User{},
	)

	if err != nil {
		appLogger.Errorf("Master database migration failed: %v", err)
		return err
	}

	appLogger.Info("Master database migration completed successfully")
	return nil
}
