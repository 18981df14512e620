// Package main はマイグレーションAPIサーバーのエントリポイント。
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"schema-migration-service/config"
	"schema-migration-service/internal/handler"
	"schema-migration-service/internal/infra"
	"schema-migration-service/internal/repository"
	"schema-migration-service/internal/source"
	"schema-migration-service/internal/usecase"
)

// version はビルド時に -ldflags "-X main.version=..." で上書きされる。
var version = "dev"

func main() {
	ctx := context.Background()

	// .envファイルを読み込む（存在しない場合は無視）
	// 既存の環境変数は上書きしない
	_ = godotenv.Load()

	// 設定読み込み
	cfg, err := config.LoadFile(os.Getenv("MIGCTL_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// トレーサー初期化（ロガー設定の前に実行）
	shutdownTracer, err := infra.InitTracer(ctx, cfg, version)
	if err != nil {
		slog.Error("failed to init tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracer(ctx); err != nil {
			slog.Error("failed to shutdown tracer", "error", err)
		}
	}()

	// トレース情報付きロガーを設定
	infra.SetupLogger(cfg, os.Stdout, infra.LogFormatJSON)

	// DB初期化
	db, err := infra.NewDB(cfg)
	if err != nil {
		slog.Error("failed to init database", "error", err)
		os.Exit(1)
	}

	ledgerRepo := repository.NewMigrationRepository(db, cfg.LedgerTable)
	if err := ledgerRepo.EnsureTable(ctx); err != nil {
		slog.Error("failed to prepare ledger table", "error", err)
		os.Exit(1)
	}
	lockRepo := repository.NewLockRepository(db, cfg.LockTable)
	if err := lockRepo.EnsureTable(ctx); err != nil {
		slog.Error("failed to prepare lock table", "error", err)
		os.Exit(1)
	}

	runTimeout, err := cfg.MigrationTimeout()
	if err != nil {
		slog.Error("invalid migration timeout", "error", err)
		os.Exit(1)
	}

	// DI
	ledger := usecase.NewCachedLedger(ledgerRepo)
	var opts []usecase.ExecutorOption
	if tx, ok := ledger.Transactional(); ok && cfg.AtomicLedger {
		opts = append(opts, usecase.WithTransactionalLedger(tx))
	}
	registry := usecase.NewRegistry(source.NewDirSource(cfg.MigrationsDir), ledger, cfg.MigrationsExt)
	executor := usecase.NewExecutor(repository.NewSQLExecutor(db), ledger, opts...)
	planner := usecase.NewPlanner(registry, executor)
	h := handler.NewMigrationHandler(registry, planner, lockRepo, runTimeout)
	router := handler.NewRouter(h, cfg.OtelServiceName)

	// サーバー起動
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		<-sigCh

		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("starting server",
		"port", cfg.Port,
		"migrations_dir", cfg.MigrationsDir,
		"driver", cfg.DatabaseDriver,
	)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
