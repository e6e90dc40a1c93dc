package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"airsense-acquisition/common/config"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect 决定占位符风格（lib/pq 只认 $n，sqlite 统一用 ?）
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// DialectFor 根据驱动名返回方言
func DialectFor(driver string) Dialect {
	if driver == config.DriverSQLite {
		return DialectSQLite
	}
	return DialectPostgres
}

// Placeholder 返回第 n 个（从1开始）绑定参数的占位符
func (d Dialect) Placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// Placeholders 返回 n 个逗号分隔的占位符
func (d Dialect) Placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(i + 1)
	}
	return strings.Join(parts, ", ")
}

// NewDB 创建数据库连接（postgres 或 sqlite）
func NewDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.DriverPostgres
	}
	if driver != config.DriverPostgres && driver != config.DriverSQLite {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	db, err := sql.Open(driver, cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if driver == config.DriverSQLite {
		// sqlite 单写者
		db.SetMaxOpenConns(1)
	} else if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	// 测试连接
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
