package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"schema-migration-service/internal/checksum"
	"schema-migration-service/internal/domain"
)

const tracerName = "schema-migration-service/usecase"

// DatabaseExecutor はマイグレーション本文を実行するインターフェース。
type DatabaseExecutor interface {
	Execute(ctx context.Context, sqlText string) error
}

// LedgerWriter は台帳への記録・削除のインターフェース。
type LedgerWriter interface {
	RecordApplied(ctx context.Context, record domain.AppliedMigration) error
	RemoveApplied(ctx context.Context, version domain.Version) error
}

// TransactionalLedger は本文の実行と台帳の更新を同一トランザクションで行う。
// 本文の実行に失敗した場合は domain.ErrExecutionFailure でラップしたエラーを返す。
type TransactionalLedger interface {
	ApplyAndRecord(ctx context.Context, sqlText string, record domain.AppliedMigration) error
	RollbackAndRemove(ctx context.Context, sqlText string, version domain.Version) error
}

// Executor は単一のマイグレーションを適用・ロールバックする。
type Executor struct {
	db     DatabaseExecutor
	ledger LedgerWriter
	tx     TransactionalLedger
	tracer trace.Tracer
	now    func() time.Time
}

// ExecutorOption はExecutorの設定を変更する。
type ExecutorOption func(*Executor)

// WithTransactionalLedger は本文の実行と台帳の更新を tx 経由で1トランザクションにまとめる。
func WithTransactionalLedger(tx TransactionalLedger) ExecutorOption {
	return func(e *Executor) {
		e.tx = tx
	}
}

// NewExecutor は新しいExecutorを生成する。
func NewExecutor(db DatabaseExecutor, ledger LedgerWriter, opts ...ExecutorOption) *Executor {
	e := &Executor{
		db:     db,
		ledger: ledger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply はマイグレーションを適用し、遷移後のMigrationを返す。
// dryRun の場合はUPセクションが空でないことだけを検証し、データベースにも台帳にも触れない。
func (e *Executor) Apply(ctx context.Context, m domain.Migration, dryRun bool) (domain.Migration, error) {
	ctx, span := e.tracer.Start(ctx, "migration.apply", trace.WithAttributes(
		attribute.String("migration.version", string(m.Version)),
		attribute.Bool("migration.dry_run", dryRun),
	))
	defer span.End()

	if m.UpBody == "" {
		span.SetStatus(codes.Error, "empty up body")
		return m, fmt.Errorf("%w: version %s", domain.ErrEmptyMigration, m.Version)
	}

	if dryRun {
		slog.InfoContext(ctx, "dry run: migration would be applied",
			"operation", "apply_migration",
			"version", m.Version,
			"name", m.Name,
		)
		return m, nil
	}

	if !checksum.Match(m.Checksum, m.UpBody) {
		span.SetStatus(codes.Error, "checksum mismatch")
		slog.ErrorContext(ctx, "migration body does not match its checksum",
			"operation", "apply_migration",
			"version", m.Version,
			"checksum", m.Checksum,
		)
		return m.Transition(domain.MigrationStatusFailed, e.now()),
			fmt.Errorf("%w: version %s", domain.ErrChecksumMismatch, m.Version)
	}

	running := m.Transition(domain.MigrationStatusRunning, e.now())
	appliedAt := e.now()
	record := domain.AppliedMigration{
		Version:   m.Version,
		Checksum:  m.Checksum,
		AppliedAt: appliedAt,
	}
	if err := e.applyAndRecord(ctx, running.UpBody, record); err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrExecutionFailure) {
			span.SetStatus(codes.Error, "execution failed")
			slog.ErrorContext(ctx, "failed to apply migration",
				"operation", "apply_migration",
				"version", m.Version,
				"error", err,
			)
			return running.Transition(domain.MigrationStatusFailed, e.now()),
				fmt.Errorf("version %s: %w", m.Version, err)
		}
		span.SetStatus(codes.Error, "ledger update failed")
		return running.Transition(domain.MigrationStatusFailed, appliedAt),
			fmt.Errorf("failed to record migration %s: %w", m.Version, err)
	}

	slog.InfoContext(ctx, "migration applied",
		"operation", "apply_migration",
		"version", m.Version,
		"name", m.Name,
	)
	return running.Transition(domain.MigrationStatusCompleted, appliedAt), nil
}

// Rollback はマイグレーションをロールバックし、遷移後のMigrationを返す。
// DOWNセクションが空の場合はデータベースに触れる前に domain.ErrNoRollbackDefined を返す。
func (e *Executor) Rollback(ctx context.Context, m domain.Migration, dryRun bool) (domain.Migration, error) {
	ctx, span := e.tracer.Start(ctx, "migration.rollback", trace.WithAttributes(
		attribute.String("migration.version", string(m.Version)),
		attribute.Bool("migration.dry_run", dryRun),
	))
	defer span.End()

	if !m.HasRollback() {
		span.SetStatus(codes.Error, "no rollback defined")
		return m, fmt.Errorf("%w: version %s", domain.ErrNoRollbackDefined, m.Version)
	}

	if dryRun {
		slog.InfoContext(ctx, "dry run: migration would be rolled back",
			"operation", "rollback_migration",
			"version", m.Version,
			"name", m.Name,
		)
		return m, nil
	}

	running := m.Transition(domain.MigrationStatusRunning, e.now())
	if err := e.rollbackAndRemove(ctx, running.DownBody, m.Version); err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrExecutionFailure) {
			span.SetStatus(codes.Error, "execution failed")
			slog.ErrorContext(ctx, "failed to roll back migration",
				"operation", "rollback_migration",
				"version", m.Version,
				"error", err,
			)
			return running.Transition(domain.MigrationStatusFailed, e.now()),
				fmt.Errorf("version %s: %w", m.Version, err)
		}
		span.SetStatus(codes.Error, "ledger update failed")
		return running.Transition(domain.MigrationStatusFailed, e.now()),
			fmt.Errorf("failed to remove migration record %s: %w", m.Version, err)
	}

	slog.InfoContext(ctx, "migration rolled back",
		"operation", "rollback_migration",
		"version", m.Version,
		"name", m.Name,
	)
	return running.Transition(domain.MigrationStatusRolledBack, e.now()), nil
}

// applyAndRecord は本文を実行して台帳に記録する。
// TransactionalLedger がない場合、実行と記録は別々にコミットされる。
func (e *Executor) applyAndRecord(ctx context.Context, sqlText string, record domain.AppliedMigration) error {
	if e.tx != nil {
		return e.tx.ApplyAndRecord(ctx, sqlText, record)
	}
	if err := e.db.Execute(ctx, sqlText); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExecutionFailure, err)
	}
	return e.ledger.RecordApplied(ctx, record)
}

func (e *Executor) rollbackAndRemove(ctx context.Context, sqlText string, version domain.Version) error {
	if e.tx != nil {
		return e.tx.RollbackAndRemove(ctx, sqlText, version)
	}
	if err := e.db.Execute(ctx, sqlText); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExecutionFailure, err)
	}
	return e.ledger.RemoveApplied(ctx, version)
}
