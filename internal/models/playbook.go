package models

import "time"

// StepType enumerates remediation actions a playbook step can perform.
type StepType string

const (
	StepRestart        StepType = "restart"
	StepScale          StepType = "scale"
	StepRollback       StepType = "rollback"
	StepCacheClear     StepType = "cache_clear"
	StepDatabaseRepair StepType = "database_repair"
	StepNetworkFix     StepType = "network_fix"
	StepCustom         StepType = "custom"
)

// FailureAction decides what happens when a step exhausts its retries.
type FailureAction string

const (
	FailureContinue FailureAction = "continue"
	FailureStop     FailureAction = "stop"
	FailureRollback FailureAction = "rollback"
)

// Condition compares a freshly polled metric against a threshold. It doubles
// as a playbook trigger and as a per-step success check.
type Condition struct {
	Metric    string   `json:"metric"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
}

// Met evaluates the condition against an observed value.
func (c Condition) Met(value float64) bool {
	return c.Operator.Compare(value, c.Threshold)
}

// Safety bounds automated playbook execution.
type Safety struct {
	MaxExecutions         int  `json:"maxExecutions"`
	CooldownPeriodSeconds int  `json:"cooldownPeriodSeconds"`
	RollbackEnabled       bool `json:"rollbackEnabled"`
	ApprovalRequired      bool `json:"approvalRequired"`
}

// Cooldown returns the cooldown window as a duration.
func (s Safety) Cooldown() time.Duration {
	return time.Duration(s.CooldownPeriodSeconds) * time.Second
}

// Step is one ordered remediation action. Order values form a strict total
// order; duplicates are rejected at validation time.
type Step struct {
	Order            int           `json:"order"`
	Type             StepType      `json:"type"`
	TimeoutSeconds   int           `json:"timeoutSeconds"`
	RetryCount       int           `json:"retryCount"`
	SuccessCondition Condition     `json:"successCondition"`
	FailureAction    FailureAction `json:"failureAction"`
}

// Timeout returns the per-attempt deadline for the step.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Playbook is operator-authored remediation configuration. Its success
// metrics are always derived from Execution records.
type Playbook struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Service   string    `json:"service"`
	Trigger   Condition `json:"triggerCondition"`
	Steps     []Step    `json:"steps"`
	Safety    Safety    `json:"safety"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ExecutionOutcome is the terminal (or gating) state of a playbook run.
type ExecutionOutcome string

const (
	ExecutionPendingApproval ExecutionOutcome = "pending_approval"
	ExecutionRunning         ExecutionOutcome = "running"
	ExecutionSuccess         ExecutionOutcome = "success"
	ExecutionFailed          ExecutionOutcome = "failed"
	ExecutionRolledBack      ExecutionOutcome = "rolled_back"
)

// Finished reports whether the outcome is terminal.
func (o ExecutionOutcome) Finished() bool {
	return o == ExecutionSuccess || o == ExecutionFailed || o == ExecutionRolledBack
}

// StepOutcome records how a single step attempt series ended.
type StepOutcome string

const (
	StepSucceeded  StepOutcome = "succeeded"
	StepFailed     StepOutcome = "failed"
	StepRolledBack StepOutcome = "rolled_back"
)

// StepResult is the per-step record inside an Execution.
type StepResult struct {
	StepOrder int           `json:"stepOrder"`
	Outcome   StepOutcome   `json:"outcome"`
	Attempts  int           `json:"attempts"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Execution is one playbook run. Immutable once finished; it holds only a
// weak reference (the id) back to the triggering incident.
type Execution struct {
	ID                string           `json:"id"`
	PlaybookID        string           `json:"playbookId"`
	TriggerIncidentID string           `json:"triggerIncidentId,omitempty"`
	StartedAt         time.Time        `json:"startedAt"`
	FinishedAt        *time.Time       `json:"finishedAt,omitempty"`
	StepResults       []StepResult     `json:"stepResults"`
	Outcome           ExecutionOutcome `json:"outcome"`
	Reason            string           `json:"reason,omitempty"`
}
