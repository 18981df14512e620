package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"schema-migration-service/internal/domain"
)

// DefaultLockTable はロックテーブルの既定名。
const DefaultLockTable = "schema_migrations_lock"

const lockRowID = 1

// MigrationLockModel はロックテーブルのモデル。行は常に1件以下。
type MigrationLockModel struct {
	ID         int       `gorm:"column:id;primaryKey;autoIncrement:false"`
	Owner      string    `gorm:"column:owner;type:char(36);not null"`
	AcquiredAt time.Time `gorm:"column:acquired_at;not null"`
}

// TableName はテーブル名を返す。
func (MigrationLockModel) TableName() string {
	return DefaultLockTable
}

// BeforeCreate はオーナーが未設定の場合にUUIDを生成する。
func (m *MigrationLockModel) BeforeCreate(tx *gorm.DB) error {
	if m.Owner == "" {
		m.Owner = uuid.New().String()
	}
	return nil
}

// LockHolder は現在のロック保持者。
type LockHolder struct {
	Owner      string
	AcquiredAt time.Time
}

// LockRepository はマイグレーション実行の排他ロックを提供する。
type LockRepository struct {
	db    *gorm.DB
	table string
	now   func() time.Time
}

// NewLockRepository は新しいLockRepositoryを生成する。
func NewLockRepository(db *gorm.DB, table string) *LockRepository {
	if table == "" {
		table = DefaultLockTable
	}
	return &LockRepository{db: db, table: table, now: time.Now}
}

func (r *LockRepository) scoped(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

// EnsureTable はロックテーブルが存在しない場合に作成する。
func (r *LockRepository) EnsureTable(ctx context.Context) error {
	if err := r.scoped(ctx).AutoMigrate(&MigrationLockModel{}); err != nil {
		slog.ErrorContext(ctx, "failed to ensure lock table",
			"operation", "ensure_lock_table",
			"table", r.table,
			"error", err,
		)
		return err
	}
	return nil
}

// Acquire はロックを取得する。既に保持されている場合は domain.ErrLockHeld を返す。
func (r *LockRepository) Acquire(ctx context.Context, owner string) error {
	model := &MigrationLockModel{
		ID:         lockRowID,
		Owner:      owner,
		AcquiredAt: r.now().UTC(),
	}
	result := r.scoped(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model)
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to acquire migration lock",
			"operation", "acquire_lock",
			"owner", owner,
			"error", result.Error,
		)
		return fmt.Errorf("failed to acquire migration lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.ErrLockHeld
	}
	return nil
}

// Release は自身が保持しているロックを解放する。
func (r *LockRepository) Release(ctx context.Context, owner string) error {
	err := r.scoped(ctx).
		Where("id = ? AND owner = ?", lockRowID, owner).
		Delete(&MigrationLockModel{}).Error
	if err != nil {
		slog.ErrorContext(ctx, "failed to release migration lock",
			"operation", "release_lock",
			"owner", owner,
			"error", err,
		)
		return fmt.Errorf("failed to release migration lock: %w", err)
	}
	return nil
}

// ForceRelease は保持者に関係なくロックを解放する。解放した場合は true を返す。
func (r *LockRepository) ForceRelease(ctx context.Context) (bool, error) {
	result := r.scoped(ctx).Where("id = ?", lockRowID).Delete(&MigrationLockModel{})
	if result.Error != nil {
		slog.ErrorContext(ctx, "failed to force release migration lock",
			"operation", "force_release_lock",
			"error", result.Error,
		)
		return false, fmt.Errorf("failed to force release migration lock: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Holder は現在のロック保持者を返す。ロックされていない場合は nil を返す。
func (r *LockRepository) Holder(ctx context.Context) (*LockHolder, error) {
	var model MigrationLockModel
	err := r.scoped(ctx).Where("id = ?", lockRowID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		slog.ErrorContext(ctx, "failed to find lock holder",
			"operation", "lock_holder",
			"error", err,
		)
		return nil, err
	}
	return &LockHolder{Owner: model.Owner, AcquiredAt: model.AcquiredAt}, nil
}
