package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fyerfyer/sat-parser/internal/models"
)

// DB 全局数据库连接
var DB *gorm.DB

// Config 数据库配置
type Config struct {
	Type         string        // 数据库类型，目前只支持sqlite
	DSN          string        // 数据库文件路径或sqlite DSN
	MaxOpenConns int           // 最大打开连接数
	BusyTimeout  time.Duration // 写锁等待时间，API与队列工作者会同时写进度
	SlowQuery    time.Duration // 慢查询阈值
}

// DefaultConfig 返回默认数据库配置
func DefaultConfig() *Config {
	return &Config{
		Type:         "sqlite",
		DSN:          "data/satparser.db",
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
		SlowQuery:    200 * time.Millisecond,
	}
}

// Setup 打开数据库并设置为全局连接
func Setup(cfg *Config, log *logrus.Logger) error {
	db, err := Open(cfg, log)
	if err != nil {
		return err
	}
	DB = db
	log.WithField("dsn", cfg.DSN).Info("Database ready")
	return nil
}

// MustDB 返回全局连接，未初始化时panic
func MustDB() *gorm.DB {
	if DB == nil {
		panic("database not initialized, call database.Setup first")
	}
	return DB
}

// Open 打开数据库并迁移转换任务相关的表
func Open(cfg *Config, log *logrus.Logger) (*gorm.DB, error) {
	if cfg.Type != "sqlite" {
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}
	defaults := DefaultConfig()
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = defaults.MaxOpenConns
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = defaults.BusyTimeout
	}
	if cfg.SlowQuery <= 0 {
		cfg.SlowQuery = defaults.SlowQuery
	}

	if !inMemory(cfg.DSN) {
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(sqliteDSN(cfg)), &gorm.Config{
		Logger: logger.New(gormWriter{log.WithField("component", "gorm")}, logger.Config{
			SlowThreshold:             cfg.SlowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return db, nil
}

// Close 关闭全局连接
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

// AutoMigrate 迁移转换任务和分块结果表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Conversion{},
		&models.ChunkResult{},
	)
}

// sqliteDSN 为文件数据库补上WAL和busy_timeout参数
func sqliteDSN(cfg *Config) string {
	if inMemory(cfg.DSN) || strings.Contains(cfg.DSN, "_journal_mode") {
		return cfg.DSN
	}
	sep := "?"
	if strings.Contains(cfg.DSN, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_journal_mode=WAL&_busy_timeout=%d", cfg.DSN, sep, cfg.BusyTimeout.Milliseconds())
}

func inMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// gormWriter 将GORM日志转发到logrus
type gormWriter struct {
	entry *logrus.Entry
}

func (w gormWriter) Printf(format string, args ...interface{}) {
	w.entry.Warnf(format, args...)
}
