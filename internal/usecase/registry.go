package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"schema-migration-service/internal/checksum"
	"schema-migration-service/internal/domain"
)

const (
	// DefaultExtension はマイグレーションファイルの既定の拡張子。
	DefaultExtension = ".sql"

	identifierSeparator = "__"
	upMarker            = "-- UP"
	downMarker          = "-- DOWN"
)

// MigrationSource はマイグレーションスクリプトの取得元のインターフェース。
type MigrationSource interface {
	List(ctx context.Context) ([]domain.RawMigration, error)
	Provision(ctx context.Context) error
}

// Registry はマイグレーション定義の読み込みと適用状況の照会を提供する。
type Registry struct {
	source MigrationSource
	ledger *CachedLedger
	ext    string
}

// NewRegistry は新しいRegistryを生成する。ext が空の場合は DefaultExtension を使用する。
func NewRegistry(source MigrationSource, ledger *CachedLedger, ext string) *Registry {
	if ext == "" {
		ext = DefaultExtension
	}
	return &Registry{source: source, ledger: ledger, ext: ext}
}

// Load はソースからマイグレーション定義を読み込み、バージョン昇順で返す。
// 命名規則に合わないエントリは読み飛ばす。ソースが存在しない場合は作成して空の列を返す。
func (r *Registry) Load(ctx context.Context) ([]domain.Migration, error) {
	raws, err := r.source.List(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			return nil, err
		}
		slog.WarnContext(ctx, "migration source unavailable, provisioning",
			"operation", "load_migrations",
			"error", err,
		)
		if perr := r.source.Provision(ctx); perr != nil {
			return nil, fmt.Errorf("failed to provision migration source: %w", perr)
		}
		return []domain.Migration{}, nil
	}

	migrations := make([]domain.Migration, 0, len(raws))
	seen := make(map[domain.Version]string, len(raws))
	for _, raw := range raws {
		m, ok := parseMigration(raw, r.ext)
		if !ok {
			slog.DebugContext(ctx, "skipping entry that does not match naming convention",
				"operation", "load_migrations",
				"identifier", raw.Identifier,
			)
			continue
		}
		if prev, dup := seen[m.Version]; dup {
			return nil, fmt.Errorf("%w: %s (%s, %s)", domain.ErrDuplicateVersion, m.Version, prev, raw.Identifier)
		}
		seen[m.Version] = raw.Identifier
		migrations = append(migrations, m)
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	warnMixedWidths(ctx, migrations)
	return migrations, nil
}

// AppliedMigrations は適用済みマイグレーションをバージョンをキーとするマップで返す。
// 照会系の操作（Status、List、Verify）と一括実行は開始時に台帳を読み直す。
func (r *Registry) AppliedMigrations(ctx context.Context) (map[domain.Version]domain.AppliedMigration, error) {
	return r.ledger.Applied(ctx)
}

// Status は定義と適用履歴からマイグレーション状況を集計する。
func (r *Registry) Status(ctx context.Context) (domain.StatusReport, error) {
	r.ledger.Invalidate()
	all, err := r.Load(ctx)
	if err != nil {
		return domain.StatusReport{}, err
	}
	applied, err := r.AppliedMigrations(ctx)
	if err != nil {
		return domain.StatusReport{}, err
	}

	report := domain.StatusReport{
		Total:           len(all),
		AppliedCount:    len(applied),
		PendingVersions: []domain.Version{},
	}
	for _, m := range all {
		if _, ok := applied[m.Version]; !ok {
			report.PendingVersions = append(report.PendingVersions, m.Version)
		}
	}
	report.PendingCount = len(report.PendingVersions)

	for v := range applied {
		if v > report.CurrentVersion {
			report.CurrentVersion = v
		}
	}
	if len(all) > 0 {
		report.LatestVersion = all[len(all)-1].Version
	}
	return report, nil
}

// List は定義に適用状況を反映した一覧を返す。
func (r *Registry) List(ctx context.Context) ([]domain.Migration, error) {
	r.ledger.Invalidate()
	all, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := r.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	for i, m := range all {
		if rec, ok := applied[m.Version]; ok {
			all[i] = m.Transition(domain.MigrationStatusCompleted, rec.AppliedAt)
		}
	}
	return all, nil
}

// Verify は適用履歴と現在の定義を照合し、不整合をバージョン昇順で返す。
// 不整合は報告のみで修正はしない。
func (r *Registry) Verify(ctx context.Context) ([]domain.Drift, error) {
	r.ledger.Invalidate()
	all, err := r.Load(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := r.AppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}
	return detectDrift(all, applied), nil
}

func detectDrift(all []domain.Migration, applied map[domain.Version]domain.AppliedMigration) []domain.Drift {
	defs := indexByVersion(all)
	drift := []domain.Drift{}
	for v, rec := range applied {
		def, ok := defs[v]
		switch {
		case !ok:
			drift = append(drift, domain.Drift{
				Version:          v,
				Kind:             domain.DriftMissingDefinition,
				RecordedChecksum: rec.Checksum,
			})
		case def.Checksum != rec.Checksum:
			drift = append(drift, domain.Drift{
				Version:          v,
				Kind:             domain.DriftChecksumMismatch,
				RecordedChecksum: rec.Checksum,
				CurrentChecksum:  def.Checksum,
			})
		}
	}
	sort.Slice(drift, func(i, j int) bool {
		return drift[i].Version < drift[j].Version
	})
	return drift
}

// parseMigration は "<version>__<name><ext>" 形式のエントリを解析する。
func parseMigration(raw domain.RawMigration, ext string) (domain.Migration, bool) {
	version, name, ok := parseIdentifier(raw.Identifier, ext)
	if !ok {
		return domain.Migration{}, false
	}

	up, down := splitSections(raw.Content)
	return domain.Migration{
		Version:     version,
		Name:        name,
		Description: domain.Describe(version, name),
		UpBody:      up,
		DownBody:    down,
		Checksum:    checksum.Of(up),
		Status:      domain.MigrationStatusPending,
	}, true
}

func parseIdentifier(identifier, ext string) (domain.Version, string, bool) {
	if !strings.HasSuffix(identifier, ext) {
		return "", "", false
	}
	parts := strings.Split(strings.TrimSuffix(identifier, ext), identifierSeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return domain.Version(parts[0]), parts[1], true
}

// splitSections は最初の "-- DOWN" で本文を分割する。
// マーカーがない場合は全体がUPセクションになる。
func splitSections(content string) (up, down string) {
	sections := strings.SplitN(content, downMarker, 2)
	up = strings.TrimSpace(strings.ReplaceAll(sections[0], upMarker, ""))
	if len(sections) == 2 {
		down = strings.TrimSpace(sections[1])
	}
	return up, down
}

func warnMixedWidths(ctx context.Context, migrations []domain.Migration) {
	if len(migrations) < 2 {
		return
	}
	width := len(migrations[0].Version)
	for _, m := range migrations[1:] {
		if len(m.Version) != width {
			slog.WarnContext(ctx, "migration versions have different widths, ordering is lexicographic",
				"operation", "load_migrations",
				"first", migrations[0].Version,
				"version", m.Version,
			)
			return
		}
	}
}
