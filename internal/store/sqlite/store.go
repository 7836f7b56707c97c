package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"alphadesk/internal/config"
	"alphadesk/internal/store"
	"alphadesk/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// 驱动选择：cgo 使用 mattn/go-sqlite3，modernc 为纯 Go 实现。
const (
	DriverCGO     = "cgo"
	DriverModernc = "modernc"
)

type SqliteStore struct {
	db *gorm.DB
}

var _ store.Store = (*SqliteStore)(nil)

// Open 按配置打开数据库。
func Open(cfg config.StoreConfig) (*SqliteStore, error) {
	return NewSqliteStore(cfg.Path, cfg.Driver)
}

func NewSqliteStore(path, driver string) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(dialector(driver, dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return NewSqliteStoreFromDB(db)
}

func dialector(driver, dsn string) gorm.Dialector {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverCGO:
		return sqlite.Open(dsn)
	default:
		return sqlite.Dialector{DriverName: "sqlite", DSN: dsn}
	}
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db must not be nil")
	}
	models := []interface{}{
		&model.RiskDayModel{},
		&model.EngineConfigModel{},
		&model.TradeModel{},
		&model.EventModel{},
		&model.NewsEventModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
