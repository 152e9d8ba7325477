package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

type fakeRunner struct {
	mu    sync.Mutex
	runs  []int
	undos []int
	fail  map[int]bool
}

func (f *fakeRunner) Run(_ context.Context, _ models.Incident, step models.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, step.Order)
	if f.fail[step.Order] {
		return fmt.Errorf("step %d refused", step.Order)
	}
	return nil
}

func (f *fakeRunner) Undo(_ context.Context, _ models.Incident, step models.Step) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.undos = append(f.undos, step.Order)
	return nil
}

type fakePoller struct {
	values map[string]float64
}

func (f *fakePoller) Latest(service, metric string) (float64, bool) {
	v, ok := f.values[service+"|"+metric]
	return v, ok
}

func newTestExecutor(t *testing.T) (*Executor, *store.Stores, *fakeRunner, *time.Time) {
	t.Helper()
	stores := store.NewMemoryStores()
	runner := &fakeRunner{fail: make(map[int]bool)}
	executor := NewExecutor(nil, stores.Playbooks, stores.Executions, stores.Incidents,
		nil, runner, &fakePoller{values: map[string]float64{}})
	clock := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	executor.SetClock(func() time.Time { return clock })
	return executor, stores, runner, &clock
}

func seedPlaybook(t *testing.T, stores *store.Stores, playbook models.Playbook) models.Playbook {
	t.Helper()
	if playbook.ID == "" {
		playbook.ID = uuid.NewString()
	}
	if playbook.Name == "" {
		playbook.Name = "restart-checkout"
	}
	if playbook.Service == "" {
		playbook.Service = "checkout"
	}
	if len(playbook.Steps) == 0 {
		playbook.Steps = []models.Step{
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop},
		}
	}
	playbook.Enabled = true
	if err := stores.Playbooks.Create(context.Background(), &playbook); err != nil {
		t.Fatalf("create playbook: %v", err)
	}
	return playbook
}

func TestExecuteRunsStepsInOrder(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{Order: 2, Type: models.StepScale, FailureAction: models.FailureStop},
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop},
			{Order: 3, Type: models.StepCacheClear, FailureAction: models.FailureStop},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionSuccess {
		t.Fatalf("outcome = %s (%s)", execution.Outcome, execution.Reason)
	}
	if len(runner.runs) != 3 || runner.runs[0] != 1 || runner.runs[1] != 2 || runner.runs[2] != 3 {
		t.Fatalf("run order = %v", runner.runs)
	}
	if execution.FinishedAt == nil {
		t.Fatal("finished execution missing FinishedAt")
	}
}

func TestCooldownRefusesWithoutRecord(t *testing.T) {
	executor, stores, _, clock := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Safety: models.Safety{CooldownPeriodSeconds: 600},
	})

	prior := models.Execution{
		ID: uuid.NewString(), PlaybookID: playbook.ID,
		StartedAt: clock.Add(-100 * time.Second), Outcome: models.ExecutionSuccess,
	}
	if err := stores.Executions.Create(context.Background(), &prior); err != nil {
		t.Fatalf("seed execution: %v", err)
	}

	_, err := executor.Execute(context.Background(), playbook.ID, "")
	var cooldown *models.CooldownViolationError
	if !errors.As(err, &cooldown) {
		t.Fatalf("expected CooldownViolationError, got %v", err)
	}
	if cooldown.Remaining != 500*time.Second {
		t.Fatalf("remaining = %v", cooldown.Remaining)
	}

	executions, _ := stores.Executions.List(context.Background(), models.ExecutionFilter{PlaybookID: playbook.ID})
	if len(executions) != 1 {
		t.Fatalf("refusal left a record: %d executions", len(executions))
	}
}

func TestMaxExecutionsRefusesWithoutRecord(t *testing.T) {
	executor, stores, _, clock := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Safety: models.Safety{CooldownPeriodSeconds: 600, MaxExecutions: 1},
	})

	prior := models.Execution{
		ID: uuid.NewString(), PlaybookID: playbook.ID,
		StartedAt: clock.Add(-600 * time.Second), Outcome: models.ExecutionSuccess,
	}
	if err := stores.Executions.Create(context.Background(), &prior); err != nil {
		t.Fatalf("seed execution: %v", err)
	}

	_, err := executor.Execute(context.Background(), playbook.ID, "")
	var capped *models.MaxExecutionsExceededError
	if !errors.As(err, &capped) {
		t.Fatalf("expected MaxExecutionsExceededError, got %v", err)
	}

	executions, _ := stores.Executions.List(context.Background(), models.ExecutionFilter{PlaybookID: playbook.ID})
	if len(executions) != 1 {
		t.Fatalf("refusal left a record: %d executions", len(executions))
	}
}

func TestRetryCountBoundsAttempts(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	runner.fail[1] = true
	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{Order: 1, Type: models.StepRestart, RetryCount: 2, FailureAction: models.FailureStop},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionFailed {
		t.Fatalf("outcome = %s", execution.Outcome)
	}
	if len(execution.StepResults) != 1 || execution.StepResults[0].Attempts != 3 {
		t.Fatalf("step results = %+v", execution.StepResults)
	}
	if len(runner.runs) != 3 {
		t.Fatalf("runner invoked %d times, want 3", len(runner.runs))
	}
}

func TestStopHaltsRemainingSteps(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	runner.fail[2] = true
	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop},
			{Order: 2, Type: models.StepScale, FailureAction: models.FailureStop},
			{Order: 3, Type: models.StepCacheClear, FailureAction: models.FailureStop},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionFailed {
		t.Fatalf("outcome = %s", execution.Outcome)
	}
	if len(execution.StepResults) != 2 {
		t.Fatalf("expected 2 step results, got %+v", execution.StepResults)
	}
}

func TestContinueRunsRemainingSteps(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	runner.fail[1] = true
	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureContinue},
			{Order: 2, Type: models.StepScale, FailureAction: models.FailureStop},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionSuccess {
		t.Fatalf("outcome = %s", execution.Outcome)
	}
	if len(execution.StepResults) != 2 {
		t.Fatalf("step results = %+v", execution.StepResults)
	}
	if execution.StepResults[0].Outcome != models.StepFailed {
		t.Fatalf("step 1 outcome = %s", execution.StepResults[0].Outcome)
	}
}

func TestRollbackUndoesCompletedStepsInReverse(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	runner.fail[3] = true
	playbook := seedPlaybook(t, stores, models.Playbook{
		Safety: models.Safety{RollbackEnabled: true},
		Steps: []models.Step{
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop},
			{Order: 2, Type: models.StepScale, FailureAction: models.FailureStop},
			{Order: 3, Type: models.StepCacheClear, FailureAction: models.FailureRollback},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionRolledBack {
		t.Fatalf("outcome = %s", execution.Outcome)
	}
	if len(runner.undos) != 2 || runner.undos[0] != 2 || runner.undos[1] != 1 {
		t.Fatalf("undo order = %v, want [2 1]", runner.undos)
	}
	if execution.StepResults[0].Outcome != models.StepRolledBack || execution.StepResults[1].Outcome != models.StepRolledBack {
		t.Fatalf("step results = %+v", execution.StepResults)
	}
}

// With rollback disabled the failure action degrades to stop.
func TestRollbackDisabledDegradesToStop(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	runner.fail[2] = true
	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop},
			{Order: 2, Type: models.StepScale, FailureAction: models.FailureRollback},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionFailed {
		t.Fatalf("outcome = %s", execution.Outcome)
	}
	if len(runner.undos) != 0 {
		t.Fatalf("undo invoked with rollback disabled: %v", runner.undos)
	}
}

func TestApprovalGate(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Safety: models.Safety{ApprovalRequired: true},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionPendingApproval {
		t.Fatalf("outcome = %s", execution.Outcome)
	}
	if len(runner.runs) != 0 {
		t.Fatalf("steps ran before approval: %v", runner.runs)
	}

	approved, err := executor.Approve(context.Background(), execution.ID, "alice")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Outcome != models.ExecutionSuccess {
		t.Fatalf("outcome after approval = %s", approved.Outcome)
	}
	if len(runner.runs) != 1 {
		t.Fatalf("runner runs = %v", runner.runs)
	}

	// A finished execution cannot be approved again.
	if _, err := executor.Approve(context.Background(), execution.ID, "alice"); err == nil {
		t.Fatal("double approval should fail")
	}
}

// Racing approvals must not run the remediation steps twice: exactly one
// caller claims the pending record, the rest get a validation error.
func TestConcurrentApprovalsRunOnce(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Safety: models.Safety{ApprovalRequired: true},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := executor.Approve(context.Background(), execution.ID, "alice"); err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if approved != 1 {
		t.Fatalf("approvals won = %d, want 1", approved)
	}
	if len(runner.runs) != 1 {
		t.Fatalf("steps ran %d times: %v", len(runner.runs), runner.runs)
	}
	final, err := stores.Executions.Get(context.Background(), execution.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if final.Outcome != models.ExecutionSuccess {
		t.Fatalf("outcome = %s", final.Outcome)
	}
}

func TestRejectDeniesExecution(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Safety: models.Safety{ApprovalRequired: true},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	rejected, err := executor.Reject(context.Background(), execution.ID, "alice")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Outcome != models.ExecutionFailed || rejected.Reason != "approval_denied" {
		t.Fatalf("rejected = %+v", rejected)
	}
	if len(runner.runs) != 0 {
		t.Fatalf("steps ran after rejection: %v", runner.runs)
	}
}

func TestSuccessConditionRePolled(t *testing.T) {
	stores := store.NewMemoryStores()
	runner := &fakeRunner{fail: make(map[int]bool)}
	poller := &fakePoller{values: map[string]float64{"checkout|latency_ms": 900}}
	executor := NewExecutor(nil, stores.Playbooks, stores.Executions, stores.Incidents,
		nil, runner, poller)

	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{
				Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop,
				SuccessCondition: models.Condition{Metric: "latency_ms", Operator: models.OpLess, Threshold: 500},
			},
		},
	})

	execution, err := executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionFailed {
		t.Fatalf("outcome = %s, metric never recovered", execution.Outcome)
	}

	poller.values["checkout|latency_ms"] = 300
	execution, err = executor.Execute(context.Background(), playbook.ID, "")
	if err != nil {
		t.Fatalf("execute after recovery: %v", err)
	}
	if execution.Outcome != models.ExecutionSuccess {
		t.Fatalf("outcome = %s (%s)", execution.Outcome, execution.Reason)
	}
}

func TestCancelledIncidentStopsExecution(t *testing.T) {
	executor, stores, runner, _ := newTestExecutor(t)
	playbook := seedPlaybook(t, stores, models.Playbook{
		Steps: []models.Step{
			{Order: 1, Type: models.StepRestart, FailureAction: models.FailureStop},
			{Order: 2, Type: models.StepScale, FailureAction: models.FailureStop},
		},
	})

	incident := models.Incident{
		ID: uuid.NewString(), Service: "checkout", Status: models.IncidentCancelled,
		OpenedAt: time.Now(),
	}
	if err := stores.Incidents.Create(context.Background(), &incident); err != nil {
		t.Fatalf("seed incident: %v", err)
	}

	execution, err := executor.Execute(context.Background(), playbook.ID, incident.ID)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if execution.Outcome != models.ExecutionFailed || execution.Reason != "incident_cancelled" {
		t.Fatalf("execution = %+v", execution)
	}
	if len(runner.runs) != 0 {
		t.Fatalf("steps ran against cancelled incident: %v", runner.runs)
	}
}

func TestValidateSteps(t *testing.T) {
	err := ValidateSteps([]models.Step{
		{Order: 1, FailureAction: models.FailureStop},
		{Order: 1, FailureAction: models.FailureStop},
	})
	var validation *models.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for duplicate order, got %v", err)
	}

	if err := ValidateSteps(nil); err == nil {
		t.Fatal("empty step list should be rejected")
	}
	if err := ValidateSteps([]models.Step{{Order: 1, FailureAction: "explode"}}); err == nil {
		t.Fatal("unknown failure action should be rejected")
	}
	if err := ValidateSteps([]models.Step{
		{Order: 1, FailureAction: models.FailureStop},
		{Order: 2, FailureAction: models.FailureContinue},
	}); err != nil {
		t.Fatalf("valid steps rejected: %v", err)
	}
}

func TestValidateSafety(t *testing.T) {
	// A cap with no cooldown has no window to count executions in.
	if err := ValidateSafety(models.Safety{MaxExecutions: 3}); err == nil {
		t.Fatal("cap without cooldown should be rejected")
	}
	if err := ValidateSafety(models.Safety{MaxExecutions: -1, CooldownPeriodSeconds: 60}); err == nil {
		t.Fatal("negative cap should be rejected")
	}
	if err := ValidateSafety(models.Safety{MaxExecutions: 3, CooldownPeriodSeconds: 600}); err != nil {
		t.Fatalf("valid safety rejected: %v", err)
	}
	if err := ValidateSafety(models.Safety{}); err != nil {
		t.Fatalf("zero safety rejected: %v", err)
	}
}
