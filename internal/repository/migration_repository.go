// Package repository はデータアクセス層の実装を提供する。
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"schema-migration-service/internal/domain"
)

// DefaultLedgerTable は適用履歴テーブルの既定名。
const DefaultLedgerTable = "schema_migrations"

// SchemaMigrationModel は適用履歴テーブルのモデル。
type SchemaMigrationModel struct {
	Version   string    `gorm:"column:version;primaryKey;type:varchar(191)"`
	Checksum  string    `gorm:"column:checksum;type:char(64);not null"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

// TableName はテーブル名を指定。
func (SchemaMigrationModel) TableName() string {
	return DefaultLedgerTable
}

func (m *SchemaMigrationModel) toDomain() domain.AppliedMigration {
	return domain.AppliedMigration{
		Version:   domain.Version(m.Version),
		Checksum:  m.Checksum,
		AppliedAt: m.AppliedAt,
	}
}

// MigrationRepository は適用履歴（台帳）を管理するリポジトリ。
type MigrationRepository struct {
	db    *gorm.DB
	table string
}

// NewMigrationRepository は新しいMigrationRepositoryを生成する。
// table が空の場合は DefaultLedgerTable を使用する。
func NewMigrationRepository(db *gorm.DB, table string) *MigrationRepository {
	if table == "" {
		table = DefaultLedgerTable
	}
	return &MigrationRepository{db: db, table: table}
}

func (r *MigrationRepository) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

// EnsureTable は適用履歴テーブルが存在しない場合に作成する。
func (r *MigrationRepository) EnsureTable(ctx context.Context) error {
	if err := r.scoped(ctx).AutoMigrate(&SchemaMigrationModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to ensure ledger table",
			"operation", "ensure_ledger_table",
			"table", r.table,
			"error", err,
		)
		return err
	}
	return nil
}

// ListApplied は適用済みマイグレーション一覧をバージョン昇順で取得する。
func (r *MigrationRepository) ListApplied(ctx context.Context) ([]domain.AppliedMigration, error) {
	var models []SchemaMigrationModel
	if err := r.scoped(ctx).Order("version ASC").Find(&models).Error; err != nil {
		slog.ErrorContext(ctx, "failed to list applied migrations",
			"operation", "list_applied",
			"error", err,
		)
		return nil, err
	}

	applied := make([]domain.AppliedMigration, len(models))
	for i := range models {
		applied[i] = models[i].toDomain()
	}
	return applied, nil
}

func toModel(record domain.AppliedMigration) *SchemaMigrationModel {
	return &SchemaMigrationModel{
		Version:   string(record.Version),
		Checksum:  record.Checksum,
		AppliedAt: record.AppliedAt.UTC(),
	}
}

// RecordApplied はマイグレーション適用履歴を記録する。
func (r *MigrationRepository) RecordApplied(ctx context.Context, record domain.AppliedMigration) error {
	if err := r.scoped(ctx).Create(toModel(record)).Error; err != nil {
		slog.ErrorContext(ctx, "failed to record migration",
			"operation", "record_applied",
			"version", record.Version,
			"error", err,
		)
		return err
	}
	return nil
}

// RemoveApplied はマイグレーション適用履歴を削除する。
func (r *MigrationRepository) RemoveApplied(ctx context.Context, version domain.Version) error {
	err := r.scoped(ctx).
		Where("version = ?", string(version)).
		Delete(&SchemaMigrationModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to remove migration record",
			"operation", "remove_applied",
			"version", version,
			"error", err,
		)
		return err
	}
	return nil
}

// ApplyAndRecord はマイグレーション本文の実行と適用履歴の記録を同一トランザクションで行う。
// DDLで暗黙コミットが発生するデータベース（MySQL）では本文の実行は巻き戻らない。
func (r *MigrationRepository) ApplyAndRecord(ctx context.Context, sqlText string, record domain.AppliedMigration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sqlText).Error; err != nil {
			slog.ErrorContext(ctx, "failed to execute migration SQL",
				"operation", "apply_and_record",
				"version", record.Version,
				"error", err,
			)
			return fmt.Errorf("%w: %w", domain.ErrExecutionFailure, err)
		}
		if err := tx.Table(r.table).Create(toModel(record)).Error; err != nil {
			slog.ErrorContext(ctx, "failed to record migration",
				"operation", "apply_and_record",
				"version", record.Version,
				"error", err,
			)
			return err
		}
		return nil
	})
}

// RollbackAndRemove はロールバック本文の実行と適用履歴の削除を同一トランザクションで行う。
func (r *MigrationRepository) RollbackAndRemove(ctx context.Context, sqlText string, version domain.Version) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(sqlText).Error; err != nil {
			slog.ErrorContext(ctx, "failed to execute rollback SQL",
				"operation", "rollback_and_remove",
				"version", version,
				"error", err,
			)
			return fmt.Errorf("%w: %w", domain.ErrExecutionFailure, err)
		}
		err := tx.Table(r.table).
			Where("version = ?", string(version)).
			Delete(&SchemaMigrationModel{}).Error
		if err != nil {
			slog.ErrorContext(ctx, "failed to remove migration record",
				"operation", "rollback_and_remove",
				"version", version,
				"error", err,
			)
			return err
		}
		return nil
	})
}
