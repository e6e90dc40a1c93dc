package database

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
)

// schemaSQL 测量表结构，postgres 与 sqlite 通用
//
//go:embed schema.sql
var schemaSQL string

// EnsureTables 创建测量表（已存在时不做任何事）
func EnsureTables(ctx context.Context, db *sql.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create measurement tables: %w", err)
		}
	}
	return nil
}
