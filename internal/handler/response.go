package handler

import (
	"time"

	"schema-migration-service/internal/domain"
)

// MigrationResponse はマイグレーション1件のレスポンス形式。
type MigrationResponse struct {
	Version     string  `json:"version"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Checksum    string  `json:"checksum"`
	Status      string  `json:"status"`
	HasRollback bool    `json:"has_rollback"`
	AppliedAt   *string `json:"applied_at"`
}

// MigrationListResponse はマイグレーション一覧のレスポンス形式。
type MigrationListResponse struct {
	Migrations []MigrationResponse `json:"migrations"`
}

// StatusResponse はマイグレーション状況のレスポンス形式。
type StatusResponse struct {
	TotalMigrations   int      `json:"total_migrations"`
	AppliedCount      int      `json:"applied_count"`
	PendingCount      int      `json:"pending_count"`
	CurrentVersion    *string  `json:"current_version"`
	LatestVersion     *string  `json:"latest_version"`
	PendingMigrations []string `json:"pending_migrations"`
}

// DriftResponse は不整合1件のレスポンス形式。
type DriftResponse struct {
	Version          string `json:"version"`
	Kind             string `json:"kind"`
	RecordedChecksum string `json:"recorded_checksum"`
	CurrentChecksum  string `json:"current_checksum,omitempty"`
}

// VerifyResponse は照合結果のレスポンス形式。
type VerifyResponse struct {
	Clean bool            `json:"clean"`
	Drift []DriftResponse `json:"drift"`
}

// PlanStepResponse は計画ステップのレスポンス形式。
type PlanStepResponse struct {
	Version   string `json:"version"`
	Name      string `json:"name"`
	Operation string `json:"operation"`
}

// PlanResponse は計画のレスポンス形式。
type PlanResponse struct {
	Direction string             `json:"direction"`
	Target    string             `json:"target,omitempty"`
	Steps     []PlanStepResponse `json:"steps"`
}

// StepResultResponse はステップ実行結果のレスポンス形式。
type StepResultResponse struct {
	Version    string `json:"version"`
	Name       string `json:"name"`
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// RunReportResponse は一括実行結果のレスポンス形式。
type RunReportResponse struct {
	RunID         string               `json:"run_id"`
	Direction     string               `json:"direction"`
	DryRun        bool                 `json:"dry_run"`
	SuccessCount  int                  `json:"success_count"`
	FailCount     int                  `json:"fail_count"`
	FailedVersion string               `json:"failed_version,omitempty"`
	Error         string               `json:"error,omitempty"`
	Steps         []StepResultResponse `json:"steps"`
	Drift         []DriftResponse      `json:"drift"`
}

func optionalVersion(v domain.Version) *string {
	if v.IsZero() {
		return nil
	}
	s := string(v)
	return &s
}

// ToMigrationListResponse はマイグレーション一覧をレスポンス形式に変換する。
func ToMigrationListResponse(ms []domain.Migration) MigrationListResponse {
	out := MigrationListResponse{Migrations: make([]MigrationResponse, len(ms))}
	for i, m := range ms {
		out.Migrations[i] = toMigrationResponse(m)
	}
	return out
}

func toMigrationResponse(m domain.Migration) MigrationResponse {
	resp := MigrationResponse{
		Version:     string(m.Version),
		Name:        m.Name,
		Description: m.Description,
		Checksum:    m.Checksum,
		Status:      string(m.Status),
		HasRollback: m.HasRollback(),
	}
	if m.AppliedAt != nil {
		at := m.AppliedAt.Format(time.RFC3339)
		resp.AppliedAt = &at
	}
	return resp
}

// ToStatusResponse はStatusReportをレスポンス形式に変換する。
func ToStatusResponse(r domain.StatusReport) StatusResponse {
	pending := make([]string, len(r.PendingVersions))
	for i, v := range r.PendingVersions {
		pending[i] = string(v)
	}
	return StatusResponse{
		TotalMigrations:   r.Total,
		AppliedCount:      r.AppliedCount,
		PendingCount:      r.PendingCount,
		CurrentVersion:    optionalVersion(r.CurrentVersion),
		LatestVersion:     optionalVersion(r.LatestVersion),
		PendingMigrations: pending,
	}
}

// ToVerifyResponse は照合結果をレスポンス形式に変換する。
func ToVerifyResponse(drift []domain.Drift) VerifyResponse {
	return VerifyResponse{
		Clean: len(drift) == 0,
		Drift: toDriftResponses(drift),
	}
}

func toDriftResponses(drift []domain.Drift) []DriftResponse {
	out := make([]DriftResponse, len(drift))
	for i, d := range drift {
		out[i] = DriftResponse{
			Version:          string(d.Version),
			Kind:             string(d.Kind),
			RecordedChecksum: d.RecordedChecksum,
			CurrentChecksum:  d.CurrentChecksum,
		}
	}
	return out
}

// ToPlanResponse はPlanをレスポンス形式に変換する。
func ToPlanResponse(p domain.Plan) PlanResponse {
	steps := make([]PlanStepResponse, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = PlanStepResponse{
			Version:   string(s.Version),
			Name:      s.Name,
			Operation: string(s.Operation),
		}
	}
	return PlanResponse{
		Direction: string(p.Direction),
		Target:    string(p.Target),
		Steps:     steps,
	}
}

// ToRunReportResponse はRunReportをレスポンス形式に変換する。
func ToRunReportResponse(r *domain.RunReport, runErr error) RunReportResponse {
	steps := make([]StepResultResponse, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = StepResultResponse{
			Version:    string(s.Version),
			Name:       s.Name,
			Operation:  string(s.Operation),
			Status:     string(s.Status),
			DurationMS: s.Duration.Milliseconds(),
			Error:      s.Error,
		}
	}
	resp := RunReportResponse{
		RunID:         r.RunID,
		Direction:     string(r.Direction),
		DryRun:        r.DryRun,
		SuccessCount:  r.SuccessCount,
		FailCount:     r.FailCount,
		FailedVersion: string(r.FailedVersion),
		Steps:         steps,
		Drift:         toDriftResponses(r.Drift),
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	return resp
}
