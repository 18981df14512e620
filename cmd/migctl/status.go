package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/handler"
)

var errDriftDetected = errors.New("drift detected between ledger and migration files")

// statusCmd はマイグレーション状況の集計を表示する。
func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show migration status summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				report, err := a.registry.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				out := cmd.OutOrStdout()
				if a.output == "json" {
					return writeJSON(out, handler.ToStatusResponse(report))
				}

				fmt.Fprintf(out, "Total:    %d\n", report.Total)
				fmt.Fprintf(out, "Applied:  %d\n", report.AppliedCount)
				fmt.Fprintf(out, "Pending:  %d\n", report.PendingCount)
				fmt.Fprintf(out, "Current:  %s\n", versionOrNone(report.CurrentVersion))
				fmt.Fprintf(out, "Latest:   %s\n", versionOrNone(report.LatestVersion))
				for _, v := range report.PendingVersions {
					color.New(color.FgYellow).Fprintf(out, "  pending  %s\n", v)
				}

				holder, err := a.locks.Holder(ctx)
				if err != nil {
					return fmt.Errorf("failed to read lock: %w", err)
				}
				if holder != nil {
					color.New(color.FgRed).Fprintf(out, "Locked by %s since %s\n", holder.Owner, holder.AcquiredAt.Format(timeLayout))
				}
				return nil
			})
		},
	}
}

// listCmd は全マイグレーションと適用状況を一覧表示する。
func listCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all migrations with their state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				migrations, err := a.registry.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list migrations: %w", err)
				}

				out := cmd.OutOrStdout()
				if a.output == "json" {
					return writeJSON(out, handler.ToMigrationListResponse(migrations))
				}

				// テーブル形式で出力
				w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
				fmt.Fprintln(w, "-------\t----\t------\t----------")
				for _, m := range migrations {
					appliedAt := "-"
					if m.AppliedAt != nil {
						appliedAt = m.AppliedAt.Format(timeLayout)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Version, m.Name, m.Status, appliedAt)
				}
				if err := w.Flush(); err != nil {
					return fmt.Errorf("failed to flush output: %w", err)
				}
				return nil
			})
		},
	}
}

// verifyCmd は適用履歴と定義のチェックサムを照合する。不整合があれば終了コード1。
func verifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify applied migrations against their definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				drift, err := a.registry.Verify(ctx)
				if err != nil {
					return fmt.Errorf("failed to verify migrations: %w", err)
				}

				out := cmd.OutOrStdout()
				if a.output == "json" {
					if err := writeJSON(out, handler.ToVerifyResponse(drift)); err != nil {
						return err
					}
				} else if len(drift) == 0 {
					color.New(color.FgGreen).Fprintln(out, "✓ All applied migrations match their definitions")
				} else {
					for _, d := range drift {
						printDrift(out, d)
					}
				}

				if len(drift) > 0 {
					return errDriftDetected
				}
				return nil
			})
		},
	}
}

func versionOrNone(v domain.Version) string {
	if v.IsZero() {
		return "none"
	}
	return string(v)
}
