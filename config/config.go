// Package config はアプリケーション設定の読み込みを提供する。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// FileName は設定ファイルの既定名。
const FileName = "migctl.toml"

// Config はアプリケーション設定を表す。
// 優先順位は 環境変数 > 設定ファイル > 既定値。
type Config struct {
	Port               string  `toml:"port"`
	DatabaseDriver     string  `toml:"database_driver"`
	DatabaseURL        string  `toml:"database_url"`
	MigrationsDir      string  `toml:"migrations_dir"`
	MigrationsExt      string  `toml:"migrations_ext"`
	LedgerTable        string  `toml:"ledger_table"`
	LockTable          string  `toml:"lock_table"`
	Timeout            string  `toml:"timeout"`
	AtomicLedger       bool    `toml:"atomic_ledger"`
	LogLevel           string  `toml:"log_level"`
	OtelEnabled        bool    `toml:"otel_enabled"`
	OtelEndpoint       string  `toml:"otel_endpoint"`
	OtelServiceName    string  `toml:"otel_service_name"`
	OtelSamplingRate   float64 `toml:"otel_sampling_rate"`
	GoogleCloudProject string  `toml:"google_cloud_project"`

	ConfigFilePath string `toml:"-"`
}

func defaults() *Config {
	return &Config{
		Port:             "8080",
		DatabaseDriver:   "sqlite",
		MigrationsDir:    "./migrations",
		MigrationsExt:    ".sql",
		LedgerTable:      "schema_migrations",
		LockTable:        "schema_migrations_lock",
		Timeout:          "5m",
		AtomicLedger:     true,
		LogLevel:         "INFO",
		OtelServiceName:  "schema-migration-service",
		OtelSamplingRate: 1.0,
	}
}

// LoadFile は設定ファイルと環境変数から設定を読み込む。
// path が空の場合はカレントディレクトリから上位に向かって migctl.toml を探し、見つからなければ環境変数のみを使う。
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path == "" {
		found, err := FindConfigFile()
		if err != nil {
			return nil, err
		}
		path = found
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.ConfigFilePath = path
	}

	cfg.applyEnv()
	return cfg, nil
}

// FindConfigFile はカレントディレクトリから上位に向かって設定ファイルを探す。
// プロジェクトルート（.git または go.mod がある場所）で探索を打ち切る。
func FindConfigFile() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, FileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		if isProjectRoot(dir) {
			return "", nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

func isProjectRoot(dir string) bool {
	for _, marker := range []string{".git", "go.mod"} {
		if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
			return true
		}
	}
	return false
}

func (c *Config) applyEnv() {
	setString(&c.Port, "PORT")
	setString(&c.DatabaseDriver, "DATABASE_DRIVER")
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.MigrationsDir, "MIGRATIONS_DIR")
	setString(&c.MigrationsExt, "MIGRATIONS_EXT")
	setString(&c.LedgerTable, "MIGRATION_TABLE")
	setString(&c.LockTable, "MIGRATION_LOCK_TABLE")
	setString(&c.Timeout, "MIGRATION_TIMEOUT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.OtelEndpoint, "OTEL_ENDPOINT")
	setString(&c.OtelServiceName, "OTEL_SERVICE_NAME")
	setString(&c.GoogleCloudProject, "GOOGLE_CLOUD_PROJECT")

	setBool(&c.AtomicLedger, "MIGRATION_ATOMIC_LEDGER")
	setBool(&c.OtelEnabled, "OTEL_ENABLED")
	if v := os.Getenv("OTEL_SAMPLING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.OtelSamplingRate = f
		}
	}
}

func setString(dst *string, key string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// MigrationTimeout はマイグレーション実行のタイムアウトを返す。0 はタイムアウトなし。
func (c *Config) MigrationTimeout() (time.Duration, error) {
	if c.Timeout == "" || c.Timeout == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q (mysql, postgres, sqlite)", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is not set"))
	}
	if c.MigrationsDir == "" {
		errs = append(errs, errors.New("migrations directory is not set"))
	}
	if c.OtelSamplingRate < 0 || c.OtelSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("sampling rate must be between 0 and 1, got %v", c.OtelSamplingRate))
	}
	if _, err := c.MigrationTimeout(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
