package domain

import "errors"

var (
	// ErrSourceUnavailable はマイグレーションソースを列挙できない場合のエラー。
	ErrSourceUnavailable = errors.New("migration source unavailable")

	// ErrChecksumMismatch はマイグレーション本文のチェックサムが記録値と一致しない場合のエラー。
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrExecutionFailure はマイグレーションSQLの実行に失敗した場合のエラー。
	ErrExecutionFailure = errors.New("migration execution failed")

	// ErrNoRollbackDefined はDOWNセクションが空のマイグレーションをロールバックしようとした場合のエラー。
	ErrNoRollbackDefined = errors.New("no rollback defined")

	// ErrEmptyMigration はUPセクションが空のマイグレーションを適用しようとした場合のエラー。
	ErrEmptyMigration = errors.New("empty migration")

	// ErrDuplicateVersion は同じバージョンのマイグレーションが複数存在する場合のエラー。
	ErrDuplicateVersion = errors.New("duplicate migration version")

	// ErrMigrationNotFound は適用済みバージョンに対応する定義が見つからない場合のエラー。
	ErrMigrationNotFound = errors.New("migration not found")

	// ErrInvalidSteps はロールバック件数が不正な場合のエラー。
	ErrInvalidSteps = errors.New("invalid steps")

	// ErrLockHeld は他のプロセスがマイグレーションロックを保持している場合のエラー。
	ErrLockHeld = errors.New("migration lock is held by another process")
)
