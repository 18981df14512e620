// Package source はマイグレーションスクリプトの取得元を提供する。
package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"

	"schema-migration-service/internal/domain"
)

// DirSource はローカルディレクトリからマイグレーションを読み込む。
// 列挙は os.DirFS 上の FSSource に委譲し、存在しないディレクトリの作成だけを担う。
type DirSource struct {
	*FSSource
	dir string
}

// NewDirSource は新しいDirSourceを生成する。
func NewDirSource(dir string) *DirSource {
	return &DirSource{FSSource: NewFSSource(os.DirFS(dir), "."), dir: dir}
}

// Provision はディレクトリが存在しない場合に作成する。
func (s *DirSource) Provision(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		slog.ErrorContext(ctx, "failed to create migrations directory",
			"operation", "provision_source",
			"dir", s.dir,
			"error", err,
		)
		return fmt.Errorf("failed to create migrations directory: %w", err)
	}
	slog.InfoContext(ctx, "migrations directory created", "dir", s.dir)
	return nil
}

// FSSource は fs.FS（embed.FS など）からマイグレーションを読み込む。
type FSSource struct {
	fsys fs.FS
	dir  string
}

// NewFSSource は新しいFSSourceを生成する。dir は fsys 内のディレクトリ。
func NewFSSource(fsys fs.FS, dir string) *FSSource {
	if dir == "" {
		dir = "."
	}
	return &FSSource{fsys: fsys, dir: dir}
}

// List は dir 直下の通常ファイルを列挙する。
// dir が存在しない場合のみ domain.ErrSourceUnavailable を返し、権限エラーなどはそのまま返す。
func (s *FSSource) List(ctx context.Context) ([]domain.RawMigration, error) {
	return readAll(ctx, s.fsys, s.dir)
}

// Provision は読み取り専用のため何もしない。
func (s *FSSource) Provision(ctx context.Context) error {
	return nil
}

func readAll(ctx context.Context, fsys fs.FS, dir string) ([]domain.RawMigration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
		}
		slog.ErrorContext(ctx, "failed to read migrations directory",
			"operation", "list_migrations",
			"dir", dir,
			"error", err,
		)
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	raws := make([]domain.RawMigration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		content, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			slog.ErrorContext(ctx, "failed to read migration file",
				"operation", "list_migrations",
				"file", entry.Name(),
				"error", err,
			)
			return nil, fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}
		raws = append(raws, domain.RawMigration{
			Identifier: entry.Name(),
			Content:    string(content),
		})
	}
	return raws, nil
}
