package config

import (
	"errors"

	"github.com/maverickdeepak/mahadev-auto/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ConnectDB opens the Postgres connection and migrates the schema.
func ConnectDB(cfg Config) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DB_URL not set")
	}

	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	if cfg.DatabaseDebug {
		gormCfg.Logger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(
		&models.ServiceRecord{},
		&models.NotificationLog{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
