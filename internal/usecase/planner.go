package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"schema-migration-service/internal/domain"
)

// Planner は一括適用・一括ロールバックの計画を立て、Executorで順に実行する。
// 最初の失敗で実行を打ち切る。
type Planner struct {
	registry *Registry
	executor *Executor
	tracer   trace.Tracer
	now      func() time.Time
	newRunID func() string
}

// NewPlanner は新しいPlannerを生成する。
func NewPlanner(registry *Registry, executor *Executor) *Planner {
	return &Planner{
		registry: registry,
		executor: executor,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
}

// PlanUp は target までの未適用マイグレーションを実行せずに列挙する。
// target が空の場合はすべての未適用マイグレーションが対象。
func (p *Planner) PlanUp(ctx context.Context, target domain.Version) (domain.Plan, error) {
	all, applied, err := p.snapshot(ctx)
	if err != nil {
		return domain.Plan{}, err
	}
	return buildUpPlan(all, applied, target), nil
}

// PlanDown は直近に適用された steps 件のロールバック対象を実行せずに列挙する。
func (p *Planner) PlanDown(ctx context.Context, steps int) (domain.Plan, error) {
	if steps < 0 {
		return domain.Plan{}, fmt.Errorf("%w: %d", domain.ErrInvalidSteps, steps)
	}
	all, applied, err := p.snapshot(ctx)
	if err != nil {
		return domain.Plan{}, err
	}
	return buildDownPlan(all, applied, steps), nil
}

// MigrateUp は target（含む）までの未適用マイグレーションを昇順に適用する。
// ステップが失敗した場合はその時点で停止し、集計済みのレポートとエラーを返す。
func (p *Planner) MigrateUp(ctx context.Context, target domain.Version, dryRun bool) (*domain.RunReport, error) {
	report := p.newReport(domain.DirectionUp, dryRun)
	ctx, span := p.startRun(ctx, "migration.migrate_up", report)
	defer span.End()

	all, applied, err := p.snapshot(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load failed")
		return report, err
	}
	report.Drift = p.checkDrift(ctx, report.RunID, all, applied)

	defs := indexByVersion(all)
	plan := buildUpPlan(all, applied, target)
	slog.InfoContext(ctx, "starting migrate up",
		"operation", "migrate_up",
		"run_id", report.RunID,
		"target", target,
		"dry_run", dryRun,
		"steps", len(plan.Steps),
	)

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}
		if err := p.runStep(ctx, report, defs[step.Version], step.Operation); err != nil {
			span.SetStatus(codes.Error, "step failed")
			return report, err
		}
	}

	p.logSummary(ctx, report)
	return report, nil
}

// MigrateDown は適用済みマイグレーションを新しい順に steps 件ロールバックする。
// 適用履歴に対応する定義がない場合、そのステップは domain.ErrMigrationNotFound で失敗する。
func (p *Planner) MigrateDown(ctx context.Context, steps int, dryRun bool) (*domain.RunReport, error) {
	report := p.newReport(domain.DirectionDown, dryRun)
	if steps < 0 {
		return report, fmt.Errorf("%w: %d", domain.ErrInvalidSteps, steps)
	}

	ctx, span := p.startRun(ctx, "migration.migrate_down", report)
	defer span.End()

	all, applied, err := p.snapshot(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "load failed")
		return report, err
	}
	report.Drift = p.checkDrift(ctx, report.RunID, all, applied)

	defs := indexByVersion(all)
	plan := buildDownPlan(all, applied, steps)
	slog.InfoContext(ctx, "starting migrate down",
		"operation", "migrate_down",
		"run_id", report.RunID,
		"steps", len(plan.Steps),
		"dry_run", dryRun,
	)

	for _, step := range plan.Steps {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return report, err
		}

		m, ok := defs[step.Version]
		if !ok {
			err := fmt.Errorf("%w: version %s", domain.ErrMigrationNotFound, step.Version)
			report.Steps = append(report.Steps, domain.StepResult{
				Version:   step.Version,
				Operation: step.Operation,
				DryRun:    dryRun,
				Status:    domain.MigrationStatusFailed,
				Error:     err.Error(),
			})
			p.fail(ctx, report, step.Version, err)
			span.SetStatus(codes.Error, "definition missing")
			return report, err
		}
		if err := p.runStep(ctx, report, m, step.Operation); err != nil {
			span.SetStatus(codes.Error, "step failed")
			return report, err
		}
	}

	p.logSummary(ctx, report)
	return report, nil
}

func (p *Planner) runStep(ctx context.Context, report *domain.RunReport, m domain.Migration, op domain.Operation) error {
	start := p.now()

	var (
		result domain.Migration
		err    error
	)
	if op == domain.OperationRollback {
		result, err = p.executor.Rollback(ctx, m, report.DryRun)
	} else {
		result, err = p.executor.Apply(ctx, m, report.DryRun)
	}

	step := domain.StepResult{
		Version:   m.Version,
		Name:      m.Name,
		Operation: op,
		DryRun:    report.DryRun,
		Status:    result.Status,
		Duration:  p.now().Sub(start),
	}
	if err != nil {
		step.Status = domain.MigrationStatusFailed
		step.Error = err.Error()
		report.Steps = append(report.Steps, step)
		p.fail(ctx, report, m.Version, err)
		return err
	}

	if report.DryRun {
		step.Status = domain.StepStatusValidated
	}
	report.Steps = append(report.Steps, step)
	report.SuccessCount++
	return nil
}

func (p *Planner) fail(ctx context.Context, report *domain.RunReport, version domain.Version, err error) {
	report.FailCount++
	report.FailedVersion = version
	slog.ErrorContext(ctx, "migration run halted",
		"operation", "migrate_"+string(report.Direction),
		"run_id", report.RunID,
		"version", version,
		"succeeded", report.SuccessCount,
		"error", err,
	)
}

func (p *Planner) logSummary(ctx context.Context, report *domain.RunReport) {
	slog.InfoContext(ctx, "migration run completed",
		"operation", "migrate_"+string(report.Direction),
		"run_id", report.RunID,
		"dry_run", report.DryRun,
		"succeeded", report.SuccessCount,
	)
}

func (p *Planner) checkDrift(ctx context.Context, runID string, all []domain.Migration, applied map[domain.Version]domain.AppliedMigration) []domain.Drift {
	drift := detectDrift(all, applied)
	for _, d := range drift {
		slog.WarnContext(ctx, "applied migration drifted from its definition",
			"operation", "verify_migrations",
			"run_id", runID,
			"version", d.Version,
			"kind", d.Kind,
			"recorded_checksum", d.RecordedChecksum,
			"current_checksum", d.CurrentChecksum,
		)
	}
	return drift
}

func (p *Planner) snapshot(ctx context.Context) ([]domain.Migration, map[domain.Version]domain.AppliedMigration, error) {
	p.registry.ledger.Invalidate()
	all, err := p.registry.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	applied, err := p.registry.AppliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	return all, applied, nil
}

func (p *Planner) newReport(direction domain.Direction, dryRun bool) *domain.RunReport {
	return &domain.RunReport{
		RunID:     p.newRunID(),
		Direction: direction,
		DryRun:    dryRun,
		Steps:     []domain.StepResult{},
		Drift:     []domain.Drift{},
	}
}

func (p *Planner) startRun(ctx context.Context, name string, report *domain.RunReport) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("migration.run_id", report.RunID),
		attribute.Bool("migration.dry_run", report.DryRun),
	))
}

func buildUpPlan(all []domain.Migration, applied map[domain.Version]domain.AppliedMigration, target domain.Version) domain.Plan {
	plan := domain.Plan{Direction: domain.DirectionUp, Target: target, Steps: []domain.PlanStep{}}
	for _, m := range all {
		if _, ok := applied[m.Version]; ok {
			continue
		}
		if !target.IsZero() && m.Version.Compare(target) > 0 {
			break
		}
		plan.Steps = append(plan.Steps, domain.PlanStep{
			Version:   m.Version,
			Name:      m.Name,
			Operation: domain.OperationApply,
		})
	}
	return plan
}

func buildDownPlan(all []domain.Migration, applied map[domain.Version]domain.AppliedMigration, steps int) domain.Plan {
	plan := domain.Plan{Direction: domain.DirectionDown, Steps: []domain.PlanStep{}}

	versions := make([]domain.Version, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i] > versions[j]
	})
	if steps < len(versions) {
		versions = versions[:steps]
	}

	defs := indexByVersion(all)
	for _, v := range versions {
		plan.Steps = append(plan.Steps, domain.PlanStep{
			Version:   v,
			Name:      defs[v].Name,
			Operation: domain.OperationRollback,
		})
	}
	if len(versions) > 0 {
		plan.Target = versions[len(versions)-1]
	}
	return plan
}

func indexByVersion(all []domain.Migration) map[domain.Version]domain.Migration {
	defs := make(map[domain.Version]domain.Migration, len(all))
	for _, m := range all {
		defs[m.Version] = m
	}
	return defs
}
