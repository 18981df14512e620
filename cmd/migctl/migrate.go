package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/handler"
	"schema-migration-service/internal/usecase"
)

// upCmd は未適用マイグレーションを適用する。
func upCmd(a *app) *cobra.Command {
	var (
		target string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Long:  "Apply pending migrations in version order, up to and including --target. Stops at the first failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				var (
					report *domain.RunReport
					runErr error
				)
				err := a.exclusive(ctx, dryRun, func(ctx context.Context) error {
					report, runErr = a.planner.MigrateUp(ctx, domain.Version(target), dryRun)
					return nil
				})
				if err != nil {
					return err
				}
				return a.printRun(cmd, report, runErr)
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Apply up to this version (inclusive)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without touching the database")
	return cmd
}

// downCmd は適用済みマイグレーションを新しい順にロールバックする。
func downCmd(a *app) *cobra.Command {
	var (
		steps  int
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back applied migrations",
		Long:  "Roll back the most recently applied migrations, newest first. Stops at the first failure.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps < 0 {
				return fmt.Errorf("--steps must be a non-negative integer")
			}
			return a.run(cmd, func(ctx context.Context) error {
				var (
					report *domain.RunReport
					runErr error
				)
				err := a.exclusive(ctx, dryRun, func(ctx context.Context) error {
					report, runErr = a.planner.MigrateDown(ctx, steps, dryRun)
					return nil
				})
				if err != nil {
					return err
				}
				return a.printRun(cmd, report, runErr)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Validate without touching the database")
	return cmd
}

// planCmd は実行せずに計画を表示する。
func planCmd(a *app) *cobra.Command {
	var (
		target string
		steps  int
		down   bool
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show what up or down would do without executing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, func(ctx context.Context) error {
				var (
					plan domain.Plan
					err  error
				)
				if down {
					plan, err = a.planner.PlanDown(ctx, steps)
				} else {
					plan, err = a.planner.PlanUp(ctx, domain.Version(target))
				}
				if err != nil {
					return fmt.Errorf("failed to build plan: %w", err)
				}

				out := cmd.OutOrStdout()
				if a.output == "json" {
					return writeJSON(out, handler.ToPlanResponse(plan))
				}
				if len(plan.Steps) == 0 {
					fmt.Fprintln(out, "Nothing to do.")
					return nil
				}
				for i, s := range plan.Steps {
					fmt.Fprintf(out, "%d. %-8s %s %s\n", i+1, s.Operation, s.Version, s.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "target", "", "Plan up to this version (inclusive)")
	cmd.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back (with --down)")
	cmd.Flags().BoolVar(&down, "down", false, "Plan a rollback instead of an upgrade")
	return cmd
}

// exclusive はドライランでなければロックを取得して fn を実行する。
func (a *app) exclusive(ctx context.Context, dryRun bool, fn func(ctx context.Context) error) error {
	if dryRun {
		return fn(ctx)
	}
	return usecase.RunExclusive(ctx, a.locks, fn)
}

func (a *app) printRun(cmd *cobra.Command, report *domain.RunReport, runErr error) error {
	out := cmd.OutOrStdout()
	if a.output == "json" {
		if err := writeJSON(out, handler.ToRunReportResponse(report, runErr)); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if runErr != nil {
		return fmt.Errorf("migration failed: %w", runErr)
	}
	return nil
}

func printReport(out io.Writer, report *domain.RunReport) {
	for _, d := range report.Drift {
		printDrift(out, d)
	}

	prefix := ""
	if report.DryRun {
		prefix = "[dry-run] "
	}
	for _, s := range report.Steps {
		if s.Error != "" {
			color.New(color.FgRed).Fprintf(out, "%s✗ %s %s: %s\n", prefix, s.Operation, s.Version, s.Error)
			continue
		}
		color.New(color.FgGreen).Fprintf(out, "%s✓ %s %s %s (%s)\n", prefix, s.Operation, s.Version, s.Name, s.Duration.Round(time.Millisecond))
	}

	switch {
	case report.FailCount > 0:
		fmt.Fprintf(out, "%d succeeded, %d failed (halted at %s)\n", report.SuccessCount, report.FailCount, report.FailedVersion)
	case report.SuccessCount == 0:
		fmt.Fprintln(out, "No migrations to run.")
	case report.Direction == domain.DirectionDown:
		fmt.Fprintf(out, "%sRolled back %d migration(s) successfully.\n", prefix, report.SuccessCount)
	default:
		fmt.Fprintf(out, "%sApplied %d migration(s) successfully.\n", prefix, report.SuccessCount)
	}
}
