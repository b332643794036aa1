package storage

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"friends-go/internal/config"
	"friends-go/internal/models"
)

// InitDB opens the relationship store described by cfg.
func InitDB(cfg config.DatabaseConfig, log *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch strings.ToLower(cfg.Type) {
	case "postgres":
		dsn := PostgresDSN(cfg)
		log.Debug("opening postgres", zap.String("host", cfg.Host), zap.Int("port", cfg.Port), zap.String("db", cfg.DBName))
		dialector = postgres.Open(dsn)
	case "sqlite":
		log.Debug("opening sqlite", zap.String("path", cfg.SQLitePath))
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gormLogger := logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  gormLogLevel(log),
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return db, nil
}

// PostgresDSN builds a key=value DSN, omitting an empty password.
func PostgresDSN(cfg config.DatabaseConfig) string {
	var dsnParts []string
	dsnParts = append(dsnParts, fmt.Sprintf("host=%s", cfg.Host))
	dsnParts = append(dsnParts, fmt.Sprintf("port=%d", cfg.Port))
	dsnParts = append(dsnParts, fmt.Sprintf("user=%s", cfg.User))
	dsnParts = append(dsnParts, fmt.Sprintf("dbname=%s", cfg.DBName))
	if cfg.Password != "" {
		dsnParts = append(dsnParts, fmt.Sprintf("password=%s", cfg.Password))
	}
	if cfg.SSLMode != "" {
		dsnParts = append(dsnParts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
	}
	return strings.Join(dsnParts, " ")
}

func gormLogLevel(log *zap.Logger) logger.LogLevel {
	switch {
	case log.Core().Enabled(zap.DebugLevel):
		return logger.Info
	case log.Core().Enabled(zap.WarnLevel):
		return logger.Warn
	default:
		return logger.Error
	}
}

// AutoMigrateTables creates or updates the relationship table and its indexes.
func AutoMigrateTables(db *gorm.DB, log *zap.Logger) error {
	log.Info("开始数据库表结构迁移...")
	if err := db.AutoMigrate(&models.Relationship{}); err != nil {
		log.Error("数据库迁移失败", zap.Error(err))
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	log.Info("数据库迁移完成。")
	return nil
}
