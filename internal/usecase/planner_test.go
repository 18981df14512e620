package usecase

import (
	"context"
	"errors"
	"testing"

	"schema-migration-service/internal/domain"
)

func newThreeStepEnv() *testEnv {
	env := newTestEnv()
	env.addMigration("V001", "a", "CREATE TABLE a (id INT);", "DROP TABLE a;")
	env.addMigration("V002", "b", "CREATE TABLE b (id INT);", "DROP TABLE b;")
	env.addMigration("V003", "c", "CREATE TABLE c (id INT);", "DROP TABLE c;")
	return env
}

func TestPlanner_MigrateUp(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()

	report, err := env.planner.MigrateUp(ctx, "", false)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if report.SuccessCount != 3 || report.FailCount != 0 {
		t.Errorf("expected (3, 0), got (%d, %d)", report.SuccessCount, report.FailCount)
	}
	if report.RunID == "" {
		t.Error("expected run id")
	}
	if len(env.repo.applied) != 3 {
		t.Errorf("expected 3 ledger records, got %d", len(env.repo.applied))
	}
	for i, step := range report.Steps {
		if step.Status != domain.MigrationStatusCompleted {
			t.Errorf("steps[%d]: expected completed, got %s", i, step.Status)
		}
	}
}

func TestPlanner_MigrateUp_SkipsApplied(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")
	env.repo.markApplied("V002", "CREATE TABLE b (id INT);")

	report, err := env.planner.MigrateUp(ctx, "", false)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if report.SuccessCount != 1 {
		t.Errorf("expected 1 applied, got %d", report.SuccessCount)
	}
	if len(env.db.executed) != 1 || env.db.executed[0] != "CREATE TABLE c (id INT);" {
		t.Errorf("expected only V003 to be executed, got %v", env.db.executed)
	}
}

func TestPlanner_MigrateUp_Target(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()

	report, err := env.planner.MigrateUp(ctx, "V002", false)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	// target 自身は含まれる
	if report.SuccessCount != 2 {
		t.Errorf("expected 2 applied, got %d", report.SuccessCount)
	}
	if _, ok := env.repo.applied["V003"]; ok {
		t.Error("expected V003 not to be applied")
	}
}

func TestPlanner_MigrateUp_HaltsOnFirstFailure(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addMigration("V001", "a", "CREATE TABLE a (id INT);", "")
	env.addMigration("V002", "b", "INVALID SQL;", "")
	env.addMigration("V003", "c", "CREATE TABLE c (id INT);", "")
	env.db.failOn = "INVALID"

	report, err := env.planner.MigrateUp(ctx, "", false)
	if !errors.Is(err, domain.ErrExecutionFailure) {
		t.Fatalf("expected ErrExecutionFailure, got %v", err)
	}
	if report.SuccessCount != 1 || report.FailCount != 1 {
		t.Errorf("expected (1, 1), got (%d, %d)", report.SuccessCount, report.FailCount)
	}
	if report.FailedVersion != "V002" {
		t.Errorf("expected failed version V002, got %s", report.FailedVersion)
	}

	// V003 は試行されない
	if len(env.db.executed) != 2 {
		t.Errorf("expected 2 executions, got %v", env.db.executed)
	}
	if _, ok := env.repo.applied["V003"]; ok {
		t.Error("expected V003 not to be attempted")
	}
	if len(report.Steps) != 2 || report.Steps[1].Status != domain.MigrationStatusFailed {
		t.Errorf("unexpected steps: %+v", report.Steps)
	}
}

func TestPlanner_MigrateUp_DryRun(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()

	report, err := env.planner.MigrateUp(ctx, "", true)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if report.SuccessCount != 3 {
		t.Errorf("expected 3 dry-run successes, got %d", report.SuccessCount)
	}
	if !report.DryRun {
		t.Error("expected report to be marked dry run")
	}
	if len(env.db.executed) != 0 || len(env.repo.applied) != 0 {
		t.Errorf("expected no side effects, executed=%v applied=%v", env.db.executed, env.repo.applied)
	}
	for i, step := range report.Steps {
		if step.Status != domain.StepStatusValidated {
			t.Errorf("steps[%d]: expected status validated, got %s", i, step.Status)
		}
	}
}

func TestPlanner_MigrateUp_ReportsDrift(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id BIGINT);")

	report, err := env.planner.MigrateUp(ctx, "", false)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}
	if len(report.Drift) != 1 || report.Drift[0].Version != "V001" {
		t.Errorf("expected drift for V001, got %+v", report.Drift)
	}

	// ドリフトは警告のみで実行は継続する
	if report.SuccessCount != 2 {
		t.Errorf("expected 2 applied, got %d", report.SuccessCount)
	}
}

func TestPlanner_MigrateUp_Cancelled(t *testing.T) {
	env := newThreeStepEnv()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := env.planner.MigrateUp(ctx, "", false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if report.SuccessCount != 0 {
		t.Errorf("expected no steps, got %d", report.SuccessCount)
	}
}

func TestPlanner_MigrateDown(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")
	env.repo.markApplied("V002", "CREATE TABLE b (id INT);")

	report, err := env.planner.MigrateDown(ctx, 1, false)
	if err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if report.SuccessCount != 1 || report.FailCount != 0 {
		t.Errorf("expected (1, 0), got (%d, %d)", report.SuccessCount, report.FailCount)
	}
	if _, ok := env.repo.applied["V002"]; ok {
		t.Error("expected V002 to be rolled back")
	}
	if _, ok := env.repo.applied["V001"]; !ok {
		t.Error("expected V001 to remain applied")
	}
	if len(env.db.executed) != 1 || env.db.executed[0] != "DROP TABLE b;" {
		t.Errorf("expected only V002 down body, got %v", env.db.executed)
	}
	if report.Steps[0].Status != domain.MigrationStatusRolledBack {
		t.Errorf("expected rolled_back, got %s", report.Steps[0].Status)
	}
}

func TestPlanner_MigrateDown_Descending(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")
	env.repo.markApplied("V002", "CREATE TABLE b (id INT);")
	env.repo.markApplied("V003", "CREATE TABLE c (id INT);")

	report, err := env.planner.MigrateDown(ctx, 10, false)
	if err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if report.SuccessCount != 3 {
		t.Errorf("expected 3 rolled back, got %d", report.SuccessCount)
	}
	want := []string{"DROP TABLE c;", "DROP TABLE b;", "DROP TABLE a;"}
	for i, sql := range want {
		if env.db.executed[i] != sql {
			t.Errorf("executed[%d]: expected %q, got %q", i, sql, env.db.executed[i])
		}
	}
}

func TestPlanner_MigrateDown_HaltsOnMissingRollback(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	env.addMigration("V001", "a", "CREATE TABLE a (id INT);", "DROP TABLE a;")
	env.addMigration("V002", "b", "CREATE TABLE b (id INT);", "")
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")
	env.repo.markApplied("V002", "CREATE TABLE b (id INT);")

	report, err := env.planner.MigrateDown(ctx, 2, false)
	if !errors.Is(err, domain.ErrNoRollbackDefined) {
		t.Fatalf("expected ErrNoRollbackDefined, got %v", err)
	}
	if report.SuccessCount != 0 || report.FailCount != 1 {
		t.Errorf("expected (0, 1), got (%d, %d)", report.SuccessCount, report.FailCount)
	}
	if len(env.db.executed) != 0 {
		t.Errorf("expected no database calls, got %v", env.db.executed)
	}
}

func TestPlanner_MigrateDown_MissingDefinition(t *testing.T) {
	env := newThreeStepEnv()
	env.repo.markApplied("V009", "SELECT 9;")

	report, err := env.planner.MigrateDown(context.Background(), 1, false)
	if !errors.Is(err, domain.ErrMigrationNotFound) {
		t.Fatalf("expected ErrMigrationNotFound, got %v", err)
	}
	if report.FailedVersion != "V009" {
		t.Errorf("expected failed version V009, got %s", report.FailedVersion)
	}
}

func TestPlanner_MigrateDown_Steps(t *testing.T) {
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")

	report, err := env.planner.MigrateDown(context.Background(), 0, false)
	if err != nil {
		t.Fatalf("MigrateDown(0) failed: %v", err)
	}
	if report.SuccessCount != 0 || len(report.Steps) != 0 {
		t.Errorf("expected empty run, got %+v", report)
	}

	if _, err := env.planner.MigrateDown(context.Background(), -1, false); !errors.Is(err, domain.ErrInvalidSteps) {
		t.Errorf("expected ErrInvalidSteps, got %v", err)
	}
}

func TestPlanner_MigrateDown_DryRun(t *testing.T) {
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")

	report, err := env.planner.MigrateDown(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}
	if report.SuccessCount != 1 {
		t.Errorf("expected 1 dry-run success, got %d", report.SuccessCount)
	}
	if len(report.Steps) != 1 || report.Steps[0].Status != domain.StepStatusValidated {
		t.Errorf("expected validated step, got %+v", report.Steps)
	}
	if _, ok := env.repo.applied["V001"]; !ok {
		t.Error("expected ledger untouched")
	}
}

func TestPlanner_PlanUpAndDown(t *testing.T) {
	ctx := context.Background()
	env := newThreeStepEnv()
	env.repo.markApplied("V001", "CREATE TABLE a (id INT);")

	up, err := env.planner.PlanUp(ctx, "V002")
	if err != nil {
		t.Fatalf("PlanUp failed: %v", err)
	}
	if len(up.Steps) != 1 || up.Steps[0].Version != "V002" || up.Steps[0].Operation != domain.OperationApply {
		t.Errorf("unexpected up plan: %+v", up)
	}

	down, err := env.planner.PlanDown(ctx, 5)
	if err != nil {
		t.Fatalf("PlanDown failed: %v", err)
	}
	if len(down.Steps) != 1 || down.Steps[0].Version != "V001" || down.Steps[0].Name != "a" {
		t.Errorf("unexpected down plan: %+v", down)
	}
	if down.Target != "V001" {
		t.Errorf("expected down target V001, got %s", down.Target)
	}

	// 計画だけでは副作用はない
	if len(env.db.executed) != 0 {
		t.Errorf("expected no execution, got %v", env.db.executed)
	}
}

func TestRunExclusive(t *testing.T) {
	ctx := context.Background()
	locker := &mockLocker{}

	called := false
	err := RunExclusive(ctx, locker, func(ctx context.Context) error {
		called = true
		if locker.holder == "" {
			t.Error("expected lock to be held during fn")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunExclusive failed: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
	if locker.holder != "" {
		t.Error("expected lock to be released")
	}
}

func TestRunExclusive_LockHeld(t *testing.T) {
	locker := &mockLocker{holder: "other"}

	err := RunExclusive(context.Background(), locker, func(ctx context.Context) error {
		t.Error("fn must not be called while lock is held")
		return nil
	})
	if !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}
	if len(locker.released) != 0 {
		t.Error("expected no release when acquire failed")
	}
}

func TestRunExclusive_ReleasesOnError(t *testing.T) {
	locker := &mockLocker{}
	fnErr := errors.New("boom")

	err := RunExclusive(context.Background(), locker, func(ctx context.Context) error {
		return fnErr
	})
	if !errors.Is(err, fnErr) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if locker.holder != "" {
		t.Error("expected lock to be released after error")
	}
}
