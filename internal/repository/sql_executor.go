package repository

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// SQLExecutor はマイグレーション本文をそのままデータベースで実行する。
type SQLExecutor struct {
	db *gorm.DB
}

// NewSQLExecutor は新しいSQLExecutorを生成する。
func NewSQLExecutor(db *gorm.DB) *SQLExecutor {
	return &SQLExecutor{db: db}
}

// Execute はSQLをトランザクション内で実行する。
// DDLで暗黙コミットが発生するデータベースではロールバックされない点に注意。
func (e *SQLExecutor) Execute(ctx context.Context, sqlText string) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sqlText).Error; err != nil {
			slog.ErrorContext(ctx, "failed to execute migration SQL",
				"operation", "execute_sql",
				"error", err,
			)
			return fmt.Errorf("failed to execute migration SQL: %w", err)
		}
		return nil
	})
}
