package domain

import "time"

// Direction は計画の方向を表す。
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Operation は単一ステップの操作種別。
type Operation string

const (
	OperationApply    Operation = "apply"
	OperationRollback Operation = "rollback"
)

// PlanStep は計画内の1ステップ。
type PlanStep struct {
	Version   Version
	Name      string
	Operation Operation
}

// Plan は実行前に算出される順序付きのステップ列。永続化しない。
type Plan struct {
	Direction Direction
	Target    Version
	Steps     []PlanStep
}

// StepStatusValidated はドライランで検証のみ行い、成功したステップの状態。
// マイグレーション自体の状態は変わらない。
const StepStatusValidated MigrationStatus = "validated"

// StepResult は1ステップの実行結果。
type StepResult struct {
	Version   Version
	Name      string
	Operation Operation
	DryRun    bool
	Status    MigrationStatus
	Duration  time.Duration
	Error     string
}

// RunReport は一括実行の結果。
type RunReport struct {
	RunID         string
	Direction     Direction
	DryRun        bool
	SuccessCount  int
	FailCount     int
	FailedVersion Version
	Steps         []StepResult
	Drift         []Drift
}
