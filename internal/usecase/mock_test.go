package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"schema-migration-service/internal/checksum"
	"schema-migration-service/internal/domain"
)

// mockLedgerRepository はテスト用のモック。
type mockLedgerRepository struct {
	applied   map[domain.Version]domain.AppliedMigration
	listCalls int
	listErr   error
	recordErr error
}

func newMockLedgerRepository() *mockLedgerRepository {
	return &mockLedgerRepository{
		applied: make(map[domain.Version]domain.AppliedMigration),
	}
}

func (m *mockLedgerRepository) ListApplied(ctx context.Context) ([]domain.AppliedMigration, error) {
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	var result []domain.AppliedMigration
	for _, r := range m.applied {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

func (m *mockLedgerRepository) RecordApplied(ctx context.Context, record domain.AppliedMigration) error {
	if m.recordErr != nil {
		return m.recordErr
	}
	m.applied[record.Version] = record
	return nil
}

func (m *mockLedgerRepository) RemoveApplied(ctx context.Context, version domain.Version) error {
	delete(m.applied, version)
	return nil
}

// markApplied は定義の内容に一致するチェックサムで適用済みにする。
func (m *mockLedgerRepository) markApplied(version domain.Version, upBody string) {
	m.applied[version] = domain.AppliedMigration{
		Version:  version,
		Checksum: checksum.Of(upBody),
	}
}

// mockTransactionalRepository は実行と記録をまとめて確定するモック。
// どちらかが失敗した場合は何も確定しない。
type mockTransactionalRepository struct {
	*mockLedgerRepository
	db        *mockDatabaseExecutor
	committed []string
}

func (m *mockTransactionalRepository) ApplyAndRecord(ctx context.Context, sqlText string, record domain.AppliedMigration) error {
	if err := m.db.Execute(ctx, sqlText); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExecutionFailure, err)
	}
	if err := m.RecordApplied(ctx, record); err != nil {
		return err
	}
	m.committed = append(m.committed, sqlText)
	return nil
}

func (m *mockTransactionalRepository) RollbackAndRemove(ctx context.Context, sqlText string, version domain.Version) error {
	if err := m.db.Execute(ctx, sqlText); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrExecutionFailure, err)
	}
	if err := m.RemoveApplied(ctx, version); err != nil {
		return err
	}
	m.committed = append(m.committed, sqlText)
	return nil
}

// mockSource はテスト用のマイグレーションソース。
type mockSource struct {
	raws        []domain.RawMigration
	listErr     error
	provisioned bool
}

func (m *mockSource) List(ctx context.Context) ([]domain.RawMigration, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.raws, nil
}

func (m *mockSource) Provision(ctx context.Context) error {
	m.provisioned = true
	m.listErr = nil
	return nil
}

func (m *mockSource) add(identifier, content string) {
	m.raws = append(m.raws, domain.RawMigration{Identifier: identifier, Content: content})
}

// mockDatabaseExecutor は実行されたSQLを記録するモック。
type mockDatabaseExecutor struct {
	executed []string
	failOn   string
}

var errMockExecution = errors.New("syntax error")

func (m *mockDatabaseExecutor) Execute(ctx context.Context, sqlText string) error {
	m.executed = append(m.executed, sqlText)
	if m.failOn != "" && strings.Contains(sqlText, m.failOn) {
		return errMockExecution
	}
	return nil
}

// mockLocker はテスト用の排他ロック。
type mockLocker struct {
	holder     string
	acquireErr error
	released   []string
}

func (m *mockLocker) Acquire(ctx context.Context, owner string) error {
	if m.acquireErr != nil {
		return m.acquireErr
	}
	if m.holder != "" {
		return domain.ErrLockHeld
	}
	m.holder = owner
	return nil
}

func (m *mockLocker) Release(ctx context.Context, owner string) error {
	m.released = append(m.released, owner)
	if m.holder == owner {
		m.holder = ""
	}
	return nil
}

// testEnv はテスト用に組み立てたユースケース一式。
type testEnv struct {
	source   *mockSource
	repo     *mockLedgerRepository
	db       *mockDatabaseExecutor
	ledger   *CachedLedger
	registry *Registry
	executor *Executor
	planner  *Planner
}

func newTestEnv() *testEnv {
	env := &testEnv{
		source: &mockSource{},
		repo:   newMockLedgerRepository(),
		db:     &mockDatabaseExecutor{},
	}
	env.ledger = NewCachedLedger(env.repo)
	env.registry = NewRegistry(env.source, env.ledger, "")
	env.executor = NewExecutor(env.db, env.ledger)
	env.planner = NewPlanner(env.registry, env.executor)
	return env
}

// addMigration は "-- UP/-- DOWN" 形式の定義を追加する。
func (e *testEnv) addMigration(version, name, up, down string) {
	content := "-- UP\n" + up + "\n"
	if down != "" {
		content += "-- DOWN\n" + down + "\n"
	}
	e.source.add(version+"__"+name+".sql", content)
}
