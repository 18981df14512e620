// Package handler はHTTPハンドラを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"schema-migration-service/internal/domain"
	"schema-migration-service/internal/middleware"
	"schema-migration-service/internal/usecase"
	"schema-migration-service/pkg/httputil"
)

// MigrateUpRequest は一括適用のリクエスト形式。
type MigrateUpRequest struct {
	Target string `json:"target"`
	DryRun bool   `json:"dry_run"`
}

// MigrateDownRequest は一括ロールバックのリクエスト形式。steps 省略時は1。
type MigrateDownRequest struct {
	Steps  *int `json:"steps"`
	DryRun bool `json:"dry_run"`
}

// MigrationHandler はマイグレーション操作のHTTPハンドラを提供する。
type MigrationHandler struct {
	registry *usecase.Registry
	planner  *usecase.Planner
	locker   usecase.Locker
	timeout  time.Duration
}

// NewMigrationHandler は新しいMigrationHandlerを生成する。
// timeout は一括実行1回あたりの上限で、0 以下なら上限なし。
func NewMigrationHandler(registry *usecase.Registry, planner *usecase.Planner, locker usecase.Locker, timeout time.Duration) *MigrationHandler {
	return &MigrationHandler{
		registry: registry,
		planner:  planner,
		locker:   locker,
		timeout:  timeout,
	}
}

// ListMigrations はマイグレーション一覧を返す。
func (h *MigrationHandler) ListMigrations(w http.ResponseWriter, r *http.Request) {
	migrations, err := h.registry.List(r.Context())
	if err != nil {
		h.internalError(w, r, "list_migrations", err)
		return
	}
	httputil.JSON(w, http.StatusOK, ToMigrationListResponse(migrations))
}

// GetStatus はマイグレーション状況を返す。
func (h *MigrationHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.registry.Status(r.Context())
	if err != nil {
		h.internalError(w, r, "get_status", err)
		return
	}
	httputil.JSON(w, http.StatusOK, ToStatusResponse(report))
}

// Verify は適用履歴と定義の不整合を返す。
func (h *MigrationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	drift, err := h.registry.Verify(r.Context())
	if err != nil {
		h.internalError(w, r, "verify", err)
		return
	}
	httputil.JSON(w, http.StatusOK, ToVerifyResponse(drift))
}

// GetPlan は実行せずに計画を返す。
// direction=up の場合は target、direction=down の場合は steps（省略時1）を使う。
func (h *MigrationHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		plan domain.Plan
		err  error
	)
	switch q.Get("direction") {
	case "", string(domain.DirectionUp):
		plan, err = h.planner.PlanUp(r.Context(), domain.Version(q.Get("target")))
	case string(domain.DirectionDown):
		steps, perr := parseSteps(q.Get("steps"))
		if perr != nil {
			httputil.Error(w, http.StatusBadRequest, "INVALID_STEPS", "steps must be a non-negative integer")
			return
		}
		plan, err = h.planner.PlanDown(r.Context(), steps)
	default:
		httputil.Error(w, http.StatusBadRequest, "INVALID_DIRECTION", "direction must be up or down")
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSteps) {
			httputil.Error(w, http.StatusBadRequest, "INVALID_STEPS", "steps must be a non-negative integer")
			return
		}
		h.internalError(w, r, "get_plan", err)
		return
	}
	httputil.JSON(w, http.StatusOK, ToPlanResponse(plan))
}

// MigrateUp は未適用マイグレーションを適用する。
func (h *MigrationHandler) MigrateUp(w http.ResponseWriter, r *http.Request) {
	var req MigrateUpRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}

	var (
		report *domain.RunReport
		runErr error
	)
	err := h.exclusive(r.Context(), req.DryRun, func(ctx context.Context) error {
		report, runErr = h.planner.MigrateUp(ctx, domain.Version(req.Target), req.DryRun)
		return nil
	})
	h.writeRun(w, r, "MIGRATE_UP", req.DryRun, report, runErr, err)
}

// MigrateDown は適用済みマイグレーションをロールバックする。
func (h *MigrationHandler) MigrateDown(w http.ResponseWriter, r *http.Request) {
	var req MigrateDownRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid request body")
		return
	}
	steps := 1
	if req.Steps != nil {
		steps = *req.Steps
	}
	if steps < 0 {
		httputil.Error(w, http.StatusBadRequest, "INVALID_STEPS", "steps must be a non-negative integer")
		return
	}

	var (
		report *domain.RunReport
		runErr error
	)
	err := h.exclusive(r.Context(), req.DryRun, func(ctx context.Context) error {
		report, runErr = h.planner.MigrateDown(ctx, steps, req.DryRun)
		return nil
	})
	h.writeRun(w, r, "MIGRATE_DOWN", req.DryRun, report, runErr, err)
}

// Healthz はヘルスチェック。
func (h *MigrationHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// exclusive はタイムアウトを設定し、ドライランでなければロックを取得して fn を実行する。
func (h *MigrationHandler) exclusive(ctx context.Context, dryRun bool, fn func(ctx context.Context) error) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	if dryRun || h.locker == nil {
		return fn(ctx)
	}
	return usecase.RunExclusive(ctx, h.locker, fn)
}

func (h *MigrationHandler) writeRun(w http.ResponseWriter, r *http.Request, operation string, dryRun bool, report *domain.RunReport, runErr, lockErr error) {
	ctx := r.Context()

	if lockErr != nil {
		middleware.WriteAuditLog(ctx, middleware.AuditEntry{Operation: operation, DryRun: dryRun, Result: "REJECTED"})
		if errors.Is(lockErr, domain.ErrLockHeld) {
			httputil.Error(w, http.StatusConflict, "LOCK_HELD", "another migration is in progress")
			return
		}
		h.internalError(w, r, operation, lockErr)
		return
	}

	entry := middleware.AuditEntry{
		Operation:     operation,
		RunID:         report.RunID,
		DryRun:        dryRun,
		SuccessCount:  report.SuccessCount,
		FailCount:     report.FailCount,
		FailedVersion: string(report.FailedVersion),
		Result:        "SUCCESS",
	}
	if runErr != nil {
		entry.Result = "FAILED"
	}
	middleware.WriteAuditLog(ctx, entry)

	status := http.StatusOK
	switch {
	case runErr == nil:
	case errors.Is(runErr, domain.ErrInvalidSteps):
		status = http.StatusBadRequest
	case report.FailCount > 0:
		status = http.StatusUnprocessableEntity
	default:
		status = http.StatusInternalServerError
	}
	httputil.JSON(w, status, ToRunReportResponse(report, runErr))
}

func (h *MigrationHandler) internalError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	slog.ErrorContext(r.Context(), "request failed",
		"operation", operation,
		"error", err,
	)
	httputil.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

func parseSteps(s string) (int, error) {
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, domain.ErrInvalidSteps
	}
	return n, nil
}
