package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/sink"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ActionRunner performs and undoes remediation actions for playbook steps.
type ActionRunner interface {
	Run(ctx context.Context, incident models.Incident, step models.Step) error
	Undo(ctx context.Context, incident models.Incident, step models.Step) error
}

// MetricPoller reads the freshest value for a metric. Step success conditions
// are always evaluated against a re-polled value, never a cached one.
type MetricPoller interface {
	Latest(service, metric string) (float64, bool)
}

// Executor runs playbooks against incidents under the configured safety
// bounds. Executions of the same playbook are serialised, so two callers can
// never both pass the cooldown and cap checks.
type Executor struct {
	playbooks  store.Playbooks
	executions store.Executions
	incidents  store.Incidents
	sink       *sink.Sink
	runner     ActionRunner
	poller     MetricPoller
	logger     *slog.Logger
	now        func() time.Time
	locks      *keyedLocks
	latencies  *utils.LatencyTracker
}

// NewExecutor constructs a playbook Executor.
func NewExecutor(
	logger *slog.Logger,
	playbooks store.Playbooks,
	executions store.Executions,
	incidents store.Incidents,
	auditSink *sink.Sink,
	runner ActionRunner,
	poller MetricPoller,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		playbooks:  playbooks,
		executions: executions,
		incidents:  incidents,
		sink:       auditSink,
		runner:     runner,
		poller:     poller,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		locks:      newKeyedLocks(),
		latencies:  utils.NewLatencyTracker(1024),
	}
}

// SetClock overrides the time source; used by tests.
func (e *Executor) SetClock(now func() time.Time) {
	e.now = now
}

// ValidateSteps rejects step lists whose order values do not form a strict
// total order.
func ValidateSteps(steps []models.Step) error {
	if len(steps) == 0 {
		return models.NewValidationError("steps", "at least one step is required")
	}
	seen := make(map[int]bool, len(steps))
	for _, step := range steps {
		if seen[step.Order] {
			return models.NewValidationError("steps", fmt.Sprintf("duplicate step order %d", step.Order))
		}
		seen[step.Order] = true
		if step.RetryCount < 0 {
			return models.NewValidationError("steps", "retryCount must not be negative")
		}
		switch step.FailureAction {
		case models.FailureContinue, models.FailureStop, models.FailureRollback:
		default:
			return models.NewValidationError("steps", fmt.Sprintf("unknown failure action %q", step.FailureAction))
		}
	}
	return nil
}

// ValidateSafety rejects safety bounds that cannot be enforced. The execution
// cap is counted over the cooldown window, so a cap without a cooldown has no
// window to count in.
func ValidateSafety(safety models.Safety) error {
	if safety.MaxExecutions < 0 || safety.CooldownPeriodSeconds < 0 {
		return models.NewValidationError("safety", "bounds must not be negative")
	}
	if safety.MaxExecutions > 0 && safety.CooldownPeriodSeconds == 0 {
		return models.NewValidationError("safety", "maxExecutions requires a cooldown window")
	}
	return nil
}

// Execute runs the playbook for the given incident id (which may be empty for
// operator-initiated runs). Safety precondition failures are typed errors and
// leave no Execution record behind.
func (e *Executor) Execute(ctx context.Context, playbookID, incidentID string) (models.Execution, error) {
	unlock := e.locks.lock(playbookID)
	defer unlock()

	playbook, err := e.playbooks.Get(ctx, playbookID)
	if err != nil {
		return models.Execution{}, err
	}
	if !playbook.Enabled {
		return models.Execution{}, models.NewValidationError("playbook", "playbook is disabled")
	}
	if err := ValidateSteps(playbook.Steps); err != nil {
		return models.Execution{}, err
	}

	now := e.now()
	cooldown := playbook.Safety.Cooldown()

	if cooldown > 0 {
		last, err := e.executions.LastStarted(ctx, playbook.ID)
		if err != nil && err != store.ErrNotFound {
			return models.Execution{}, err
		}
		if err == nil {
			if elapsed := now.Sub(last); elapsed < cooldown {
				return models.Execution{}, &models.CooldownViolationError{
					PlaybookID: playbook.ID,
					Remaining:  cooldown - elapsed,
				}
			}
		}
		if playbook.Safety.MaxExecutions > 0 {
			count, err := e.executions.CountStartedSince(ctx, playbook.ID, now.Add(-cooldown))
			if err != nil {
				return models.Execution{}, err
			}
			if count >= playbook.Safety.MaxExecutions {
				return models.Execution{}, &models.MaxExecutionsExceededError{
					PlaybookID: playbook.ID,
					Max:        playbook.Safety.MaxExecutions,
				}
			}
		}
	}

	var incident models.Incident
	if incidentID != "" {
		incident, err = e.incidents.Get(ctx, incidentID)
		if err != nil {
			return models.Execution{}, fmt.Errorf("trigger incident: %w", err)
		}
	}

	execution := models.Execution{
		ID:                uuid.NewString(),
		PlaybookID:        playbook.ID,
		TriggerIncidentID: incidentID,
		StartedAt:         now,
		Outcome:           models.ExecutionRunning,
	}
	if playbook.Safety.ApprovalRequired {
		execution.Outcome = models.ExecutionPendingApproval
	}
	if err := e.executions.Create(ctx, &execution); err != nil {
		return models.Execution{}, fmt.Errorf("create execution: %w", err)
	}

	if e.sink != nil {
		e.sink.Record(ctx, models.AuditEvent{
			EntityKind: "execution",
			EntityID:   execution.ID,
			Type:       models.EventExecutionStarted,
			Timestamp:  now,
			Message:    fmt.Sprintf("playbook %s triggered", playbook.Name),
			Details:    map[string]string{"playbook_id": playbook.ID, "incident_id": incidentID},
		})
	}

	if execution.Outcome == models.ExecutionPendingApproval {
		e.logger.Info("execution awaiting approval",
			slog.String("execution_id", execution.ID),
			slog.String("playbook", playbook.Name))
		return execution, nil
	}

	e.run(ctx, &execution, playbook, incident)
	return execution, nil
}

// Approve releases a pending-approval execution and runs it. The pending
// record is claimed atomically, so racing approvals run the steps at most
// once, and the run happens under the same per-playbook lock Execute uses.
func (e *Executor) Approve(ctx context.Context, executionID, operator string) (models.Execution, error) {
	execution, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return models.Execution{}, err
	}

	unlock := e.locks.lock(execution.PlaybookID)
	defer unlock()

	playbook, err := e.playbooks.Get(ctx, execution.PlaybookID)
	if err != nil {
		return models.Execution{}, err
	}
	var incident models.Incident
	if execution.TriggerIncidentID != "" {
		incident, err = e.incidents.Get(ctx, execution.TriggerIncidentID)
		if err != nil {
			return models.Execution{}, err
		}
	}

	claimed, err := e.executions.ClaimPending(ctx, executionID, models.ExecutionRunning)
	if err != nil {
		return models.Execution{}, err
	}
	if !claimed {
		return models.Execution{}, models.NewValidationError("execution", "not awaiting approval")
	}
	execution.Outcome = models.ExecutionRunning
	e.logger.Info("execution approved",
		slog.String("execution_id", execution.ID),
		slog.String("operator", operator))

	e.run(ctx, &execution, playbook, incident)
	return execution, nil
}

// Reject denies a pending-approval execution.
func (e *Executor) Reject(ctx context.Context, executionID, operator string) (models.Execution, error) {
	execution, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return models.Execution{}, err
	}

	unlock := e.locks.lock(execution.PlaybookID)
	defer unlock()

	claimed, err := e.executions.ClaimPending(ctx, executionID, models.ExecutionFailed)
	if err != nil {
		return models.Execution{}, err
	}
	if !claimed {
		return models.Execution{}, models.NewValidationError("execution", "not awaiting approval")
	}

	now := e.now()
	execution.Outcome = models.ExecutionFailed
	execution.Reason = "approval_denied"
	execution.FinishedAt = &now
	if err := e.executions.Update(ctx, &execution); err != nil {
		return models.Execution{}, err
	}
	metrics.ObserveExecution(now.Sub(execution.StartedAt), string(models.ExecutionFailed))

	e.finishEvent(ctx, execution, operator)
	return execution, nil
}

// run executes the ordered step loop and finalises the record.
func (e *Executor) run(ctx context.Context, execution *models.Execution, playbook models.Playbook, incident models.Incident) {
	steps := append([]models.Step(nil), playbook.Steps...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Order < steps[j].Order })

	outcome := models.ExecutionSuccess
	reason := ""

stepLoop:
	for _, step := range steps {
		// A cancelled incident lets the current step finish but starts no
		// further step.
		if incident.ID != "" {
			fresh, err := e.incidents.Get(ctx, incident.ID)
			if err == nil && fresh.Status == models.IncidentCancelled {
				outcome = models.ExecutionFailed
				reason = "incident_cancelled"
				break stepLoop
			}
		}

		result := e.runStep(ctx, incident, playbook, step)
		execution.StepResults = append(execution.StepResults, result)

		if result.Outcome == models.StepSucceeded {
			continue
		}

		switch step.FailureAction {
		case models.FailureContinue:
			continue
		case models.FailureRollback:
			if playbook.Safety.RollbackEnabled {
				e.rollback(ctx, execution, incident, steps)
				outcome = models.ExecutionRolledBack
				reason = fmt.Sprintf("step %d failed, rolled back", step.Order)
				break stepLoop
			}
			fallthrough
		default: // Stop
			outcome = models.ExecutionFailed
			reason = fmt.Sprintf("step %d failed", step.Order)
			break stepLoop
		}
	}

	now := e.now()
	execution.Outcome = outcome
	execution.Reason = reason
	execution.FinishedAt = &now
	if err := e.executions.Update(ctx, execution); err != nil {
		e.logger.Error("execution update failed", slog.String("execution_id", execution.ID), slog.Any("error", err))
	}

	duration := now.Sub(execution.StartedAt)
	metrics.ObserveExecution(duration, string(outcome))
	e.latencies.Observe(duration)
	if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
		e.logger.Info("execution latency", slog.Duration("p95", e.latencies.Percentile(95)), slog.Int("samples", count))
	}

	e.logger.Info("execution finished",
		slog.String("execution_id", execution.ID),
		slog.String("playbook", playbook.Name),
		slog.String("outcome", string(outcome)))
	e.finishEvent(ctx, *execution, "")
}

// runStep attempts one step up to retryCount+1 times. A timed-out attempt
// counts as an attempt even when no work completed.
func (e *Executor) runStep(ctx context.Context, incident models.Incident, playbook models.Playbook, step models.Step) models.StepResult {
	result := models.StepResult{StepOrder: step.Order}
	started := e.now()

	maxAttempts := step.RetryCount + 1
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if timeout := step.Timeout(); timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := e.runner.Run(attemptCtx, incident, step)
		cancel()

		if err != nil {
			lastErr = err
			continue
		}

		if step.SuccessCondition.Metric == "" {
			result.Outcome = models.StepSucceeded
			break
		}
		service := incident.Service
		if service == "" {
			service = playbook.Service
		}
		value, ok := e.poller.Latest(service, step.SuccessCondition.Metric)
		if ok && step.SuccessCondition.Met(value) {
			result.Outcome = models.StepSucceeded
			break
		}
		lastErr = fmt.Errorf("success condition %s %s %g not met", step.SuccessCondition.Metric,
			step.SuccessCondition.Operator, step.SuccessCondition.Threshold)
	}

	if result.Outcome != models.StepSucceeded {
		result.Outcome = models.StepFailed
		if lastErr != nil {
			result.Error = lastErr.Error()
		}
	}
	result.Duration = e.now().Sub(started)
	return result
}

// rollback undoes the completed steps in reverse order, best effort.
func (e *Executor) rollback(ctx context.Context, execution *models.Execution, incident models.Incident, steps []models.Step) {
	byOrder := make(map[int]models.Step, len(steps))
	for _, step := range steps {
		byOrder[step.Order] = step
	}

	for i := len(execution.StepResults) - 1; i >= 0; i-- {
		result := &execution.StepResults[i]
		if result.Outcome != models.StepSucceeded {
			continue
		}
		step := byOrder[result.StepOrder]
		if err := e.runner.Undo(ctx, incident, step); err != nil {
			e.logger.Warn("rollback step failed",
				slog.String("execution_id", execution.ID),
				slog.Int("step", result.StepOrder),
				slog.Any("error", err))
			continue
		}
		result.Outcome = models.StepRolledBack
	}
}

func (e *Executor) finishEvent(ctx context.Context, execution models.Execution, operator string) {
	if e.sink == nil {
		return
	}
	at := e.now()
	if execution.FinishedAt != nil {
		at = *execution.FinishedAt
	}
	e.sink.Record(ctx, models.AuditEvent{
		EntityKind: "execution",
		EntityID:   execution.ID,
		Type:       models.EventExecutionFinished,
		Timestamp:  at,
		Message:    fmt.Sprintf("outcome %s %s", execution.Outcome, execution.Reason),
		Owner:      operator,
		Notify:     execution.Outcome != models.ExecutionSuccess,
		Details:    map[string]string{"playbook_id": execution.PlaybookID},
	})
}

// LatencyP95 returns the current p95 execution latency.
func (e *Executor) LatencyP95() time.Duration {
	if e.latencies == nil {
		return 0
	}
	return e.latencies.Percentile(95)
}
