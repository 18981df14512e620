package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"schema-migration-service/config"
	"schema-migration-service/internal/infra"
	"schema-migration-service/internal/repository"
	"schema-migration-service/internal/source"
	"schema-migration-service/internal/usecase"
)

// app はコマンド間で共有する設定と依存関係を保持する。
type app struct {
	configPath    string
	output        string
	timeout       time.Duration
	migrationsDir string
	databaseURL   string

	cfg      *config.Config
	db       *gorm.DB
	registry *usecase.Registry
	planner  *usecase.Planner
	locks    *repository.LockRepository
	shutdown infra.ShutdownFunc
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:          "migctl",
		Short:        "Schema migration CLI",
		Long:         "Discover, apply and roll back versioned database schema migrations.",
		SilenceUsage: true,
	}

	// グローバルフラグ
	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("MIGCTL_CONFIG"), "Path to migctl.toml (or set MIGCTL_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&a.output, "output", "text", "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "Overall timeout (overrides MIGRATION_TIMEOUT)")
	rootCmd.PersistentFlags().StringVar(&a.migrationsDir, "dir", "", "Migrations directory (overrides MIGRATIONS_DIR)")
	rootCmd.PersistentFlags().StringVar(&a.databaseURL, "database-url", "", "Database DSN (overrides DATABASE_URL)")

	// サブコマンド登録
	rootCmd.AddCommand(statusCmd(a))
	rootCmd.AddCommand(listCmd(a))
	rootCmd.AddCommand(verifyCmd(a))
	rootCmd.AddCommand(planCmd(a))
	rootCmd.AddCommand(upCmd(a))
	rootCmd.AddCommand(downCmd(a))
	rootCmd.AddCommand(unlockCmd(a))
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// bootstrap は設定を読み込み、データベースとユースケースを初期化する。
func (a *app) bootstrap(ctx context.Context) error {
	if a.output != "text" && a.output != "json" {
		return fmt.Errorf("unsupported output format %q (text, json)", a.output)
	}

	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return err
	}
	if a.migrationsDir != "" {
		cfg.MigrationsDir = a.migrationsDir
	}
	if a.databaseURL != "" {
		cfg.DatabaseURL = a.databaseURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	infra.SetupLogger(cfg, os.Stderr, infra.LogFormatText)

	shutdown, err := infra.InitTracer(ctx, cfg, getVersion())
	if err != nil {
		return fmt.Errorf("failed to init tracer: %w", err)
	}
	a.shutdown = shutdown

	db, err := infra.NewDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	a.db = db

	ledgerRepo := repository.NewMigrationRepository(db, cfg.LedgerTable)
	if err := ledgerRepo.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to prepare ledger table: %w", err)
	}
	a.locks = repository.NewLockRepository(db, cfg.LockTable)
	if err := a.locks.EnsureTable(ctx); err != nil {
		return fmt.Errorf("failed to prepare lock table: %w", err)
	}

	ledger := usecase.NewCachedLedger(ledgerRepo)
	var opts []usecase.ExecutorOption
	if tx, ok := ledger.Transactional(); ok && cfg.AtomicLedger {
		opts = append(opts, usecase.WithTransactionalLedger(tx))
	}
	a.registry = usecase.NewRegistry(source.NewDirSource(cfg.MigrationsDir), ledger, cfg.MigrationsExt)
	a.planner = usecase.NewPlanner(a.registry, usecase.NewExecutor(repository.NewSQLExecutor(db), ledger, opts...))
	return nil
}

// run は初期化とタイムアウトの設定を行ってから fn を実行し、終了時に接続を閉じる。
func (a *app) run(cmd *cobra.Command, fn func(ctx context.Context) error) error {
	ctx := cmd.Context()
	defer func() {
		if err := a.close(ctx); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
		}
	}()

	if err := a.bootstrap(ctx); err != nil {
		return err
	}
	runCtx, cancel, err := a.runContext(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	return fn(runCtx)
}

// runContext はタイムアウトを適用したコンテキストを返す。
func (a *app) runContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	timeout := a.timeout
	if timeout == 0 {
		d, err := a.cfg.MigrationTimeout()
		if err != nil {
			return nil, nil, err
		}
		timeout = d
	}
	if timeout <= 0 {
		ctx, cancel := context.WithCancel(ctx)
		return ctx, cancel, nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, cancel, nil
}

func (a *app) close(ctx context.Context) error {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
		a.db = nil
	}
	if a.shutdown != nil {
		shutdown := a.shutdown
		a.shutdown = nil
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("failed to shutdown tracer: %w", err)
		}
	}
	return nil
}
