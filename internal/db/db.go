package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"github.com/misaka-danmu/danmu-server/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

// Open 打开 SQLite 数据库并执行自动迁移
func Open(storagePath string, verbose bool) (*gorm.DB, error) {
	if storagePath != ":memory:" {
		// 确保存储目录存在
		dir := filepath.Dir(storagePath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}
	if verbose {
		cfg.Logger = logger.Default.LogMode(logger.Info)
	}

	// busy_timeout 避免维护任务与合并事务并发时直接报 locked
	dsn := storagePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := gorm.Open(sqlite.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, err
	}
	// SQLite 只有一个写者，单连接让事务天然串行
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(conn); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return conn, nil
}

func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(&model.Anime{}, &model.Source{}, &model.Episode{}, &model.TaskRecord{})
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func InitDB(storagePath string, verbose bool) {
	var err error
	DB, err = Open(storagePath, verbose)
	if err != nil {
		log.Fatalf("failed to init database: %v", err)
	}
}

func CloseDB() error {
	if DB == nil {
		return nil
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	DB = nil
	return sqlDB.Close()
}
