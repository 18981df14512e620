package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// Locker はマイグレーション実行の排他制御のインターフェース。
type Locker interface {
	Acquire(ctx context.Context, owner string) error
	Release(ctx context.Context, owner string) error
}

// RunExclusive はロックを取得して fn を実行し、終了後にロックを解放する。
// ロックが保持されている場合は domain.ErrLockHeld を返す。
func RunExclusive(ctx context.Context, locker Locker, fn func(ctx context.Context) error) error {
	owner := uuid.NewString()
	if err := locker.Acquire(ctx, owner); err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	slog.DebugContext(ctx, "migration lock acquired", "owner", owner)

	defer func() {
		// キャンセル済みのコンテキストでも解放する
		if err := locker.Release(context.WithoutCancel(ctx), owner); err != nil {
			slog.ErrorContext(ctx, "failed to release migration lock",
				"operation", "release_lock",
				"owner", owner,
				"error", err,
			)
		}
	}()

	return fn(ctx)
}
