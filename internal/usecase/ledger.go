// Package usecase はアプリケーションのユースケースを実装する。
package usecase

import (
	"context"
	"fmt"
	"sync"

	"schema-migration-service/internal/domain"
)

// LedgerRepository は適用履歴を管理するリポジトリのインターフェース。
type LedgerRepository interface {
	ListApplied(ctx context.Context) ([]domain.AppliedMigration, error)
	RecordApplied(ctx context.Context, record domain.AppliedMigration) error
	RemoveApplied(ctx context.Context, version domain.Version) error
}

// CachedLedger は台帳の読み込み結果をキャッシュする。
// 記録・削除のたびにキャッシュは破棄され、次の読み込みで台帳から取り直す。
type CachedLedger struct {
	repo LedgerRepository

	mu      sync.Mutex
	applied map[domain.Version]domain.AppliedMigration
}

// NewCachedLedger は新しいCachedLedgerを生成する。
func NewCachedLedger(repo LedgerRepository) *CachedLedger {
	return &CachedLedger{repo: repo}
}

// Applied は適用済みマイグレーションをバージョンをキーとするマップで返す。
// 返すマップは呼び出し元が変更してよいコピー。
func (l *CachedLedger) Applied(ctx context.Context) (map[domain.Version]domain.AppliedMigration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.applied == nil {
		records, err := l.repo.ListApplied(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch applied migrations: %w", err)
		}
		l.applied = make(map[domain.Version]domain.AppliedMigration, len(records))
		for _, r := range records {
			l.applied[r.Version] = r
		}
	}

	out := make(map[domain.Version]domain.AppliedMigration, len(l.applied))
	for v, r := range l.applied {
		out[v] = r
	}
	return out, nil
}

// RecordApplied は台帳に記録し、キャッシュを破棄する。
func (l *CachedLedger) RecordApplied(ctx context.Context, record domain.AppliedMigration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applied = nil
	return l.repo.RecordApplied(ctx, record)
}

// RemoveApplied は台帳から削除し、キャッシュを破棄する。
func (l *CachedLedger) RemoveApplied(ctx context.Context, version domain.Version) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applied = nil
	return l.repo.RemoveApplied(ctx, version)
}

// Invalidate はキャッシュを破棄する。
func (l *CachedLedger) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.applied = nil
}

// Transactional はリポジトリが TransactionalLedger を実装していれば、
// 更新のたびにキャッシュを破棄するラッパーを返す。
func (l *CachedLedger) Transactional() (TransactionalLedger, bool) {
	tx, ok := l.repo.(TransactionalLedger)
	if !ok {
		return nil, false
	}
	return &cachedTransactionalLedger{ledger: l, tx: tx}, true
}

type cachedTransactionalLedger struct {
	ledger *CachedLedger
	tx     TransactionalLedger
}

func (c *cachedTransactionalLedger) ApplyAndRecord(ctx context.Context, sqlText string, record domain.AppliedMigration) error {
	c.ledger.mu.Lock()
	defer c.ledger.mu.Unlock()

	c.ledger.applied = nil
	return c.tx.ApplyAndRecord(ctx, sqlText, record)
}

func (c *cachedTransactionalLedger) RollbackAndRemove(ctx context.Context, sqlText string, version domain.Version) error {
	c.ledger.mu.Lock()
	defer c.ledger.mu.Unlock()

	c.ledger.applied = nil
	return c.tx.RollbackAndRemove(ctx, sqlText, version)
}
