// Package domain はドメインモデルとビジネスルールを定義する。
package domain

import (
	"fmt"
	"time"
)

// Version はマイグレーションのバージョン識別子。
// 順序は文字列の辞書順で決まる。"V1" と "V10" のように桁数が揃っていない場合は数値順にならない。
type Version string

// Compare はバージョンを辞書順で比較する。
func (v Version) Compare(other Version) int {
	switch {
	case v < other:
		return -1
	case v > other:
		return 1
	default:
		return 0
	}
}

// IsZero はバージョンが未指定かどうかを返す。
func (v Version) IsZero() bool {
	return v == ""
}

// MigrationStatus はマイグレーションの状態を表す。
type MigrationStatus string

const (
	MigrationStatusPending    MigrationStatus = "pending"
	MigrationStatusRunning    MigrationStatus = "running"
	MigrationStatusCompleted  MigrationStatus = "completed"
	MigrationStatusFailed     MigrationStatus = "failed"
	MigrationStatusRolledBack MigrationStatus = "rolled_back"
)

// Migration はデータベースマイグレーションを表すドメインモデル。
// 値として扱い、状態の変更は Transition で新しい値を得る。
type Migration struct {
	Version     Version
	Name        string
	Description string
	UpBody      string
	DownBody    string
	Checksum    string     // UpBody の SHA-256（16進数）
	AppliedAt   *time.Time // 適用日時（未適用の場合はnil）
	Status      MigrationStatus
}

// Describe はマイグレーションの説明文を生成する。
func Describe(version Version, name string) string {
	return fmt.Sprintf("Migration %s: %s", version, name)
}

// Transition は状態を遷移させた新しいMigrationを返す。
// Completed は適用日時を設定し、RolledBack は適用日時を消去する。
func (m Migration) Transition(status MigrationStatus, at time.Time) Migration {
	next := m
	next.Status = status
	switch status {
	case MigrationStatusCompleted:
		applied := at
		next.AppliedAt = &applied
	case MigrationStatusRolledBack:
		next.AppliedAt = nil
	}
	return next
}

// HasRollback はDOWNセクションが定義されているかを返す。
func (m Migration) HasRollback() bool {
	return m.DownBody != ""
}

// RawMigration はマイグレーションソースが返す未解析のエントリ。
type RawMigration struct {
	Identifier string // 例: "V001__create_users.sql"
	Content    string
}

// AppliedMigration は台帳（schema_migrations）に記録された適用履歴。
type AppliedMigration struct {
	Version   Version
	Checksum  string
	AppliedAt time.Time
}

// DriftKind は台帳と定義の不整合の種類。
type DriftKind string

const (
	DriftChecksumMismatch  DriftKind = "checksum_mismatch"
	DriftMissingDefinition DriftKind = "missing_definition"
)

// Drift は適用済みマイグレーションと現在の定義との不整合を表す。
type Drift struct {
	Version          Version
	Kind             DriftKind
	RecordedChecksum string
	CurrentChecksum  string
}

// StatusReport はマイグレーション状況の集計。空のVersionは「なし」を表す。
type StatusReport struct {
	Total           int
	AppliedCount    int
	PendingCount    int
	CurrentVersion  Version
	LatestVersion   Version
	PendingVersions []Version
}
