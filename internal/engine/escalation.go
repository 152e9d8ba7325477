package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/sink"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

// Manager owns the incident lifecycle: Pending -> InProgress -> Escalated ->
// {Resolved, Cancelled}. All writes to an incident are serialised per id, so
// a sweep tick and an operator action cannot double-apply a transition.
type Manager struct {
	incidents   store.Incidents
	sink        *sink.Sink
	logger      *slog.Logger
	now         func() time.Time
	locks       *keyedLocks
	defaultPath []models.EscalationStep
}

// NewManager constructs an escalation Manager. defaultPath is applied to
// incidents whose source carries no path of its own.
func NewManager(logger *slog.Logger, incidents store.Incidents, auditSink *sink.Sink, defaultPath []models.EscalationStep) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		incidents:   incidents,
		sink:        auditSink,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		locks:       newKeyedLocks(),
		defaultPath: defaultPath,
	}
}

// SetClock overrides the time source; used by tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// OpenParams describes a new incident.
type OpenParams struct {
	SourceRuleID string
	SLAID        string
	Service      string
	Metric       string
	Summary      string
	Severity     models.Severity
	Path         []models.EscalationStep
	OpenedAt     time.Time
}

// Open creates an incident at level 1 of its escalation path.
func (m *Manager) Open(ctx context.Context, params OpenParams) (models.Incident, error) {
	path := params.Path
	if len(path) == 0 {
		path = m.defaultPath
	}
	if len(path) == 0 {
		return models.Incident{}, models.NewValidationError("escalationPath", "no escalation path configured")
	}

	openedAt := params.OpenedAt
	if openedAt.IsZero() {
		openedAt = m.now()
	}

	first, ok := models.EscalationState{Path: path}.StepForLevel(1)
	if !ok {
		return models.Incident{}, models.NewValidationError("escalationPath", "path has no level 1")
	}

	incident := models.Incident{
		ID:           uuid.NewString(),
		SourceRuleID: params.SourceRuleID,
		SLAID:        params.SLAID,
		Service:      params.Service,
		Metric:       params.Metric,
		Summary:      params.Summary,
		Severity:     params.Severity,
		Status:       models.IncidentPending,
		OpenedAt:     openedAt,
		Escalation: models.EscalationState{
			Level:          1,
			CurrentOwner:   first.Owner,
			Path:           path,
			EnteredLevelAt: openedAt,
			History: []models.EscalationEntry{
				{At: openedAt, Level: 1, Owner: first.Owner, Reason: "opened"},
			},
		},
	}

	if err := m.incidents.Create(ctx, &incident); err != nil {
		return models.Incident{}, fmt.Errorf("create incident: %w", err)
	}
	metrics.ObserveIncidentOpened(string(incident.Severity))

	m.logger.Info("incident opened",
		slog.String("incident_id", incident.ID),
		slog.String("service", incident.Service),
		slog.String("severity", string(incident.Severity)),
		slog.String("owner", first.Owner))

	if m.sink != nil {
		m.sink.Record(ctx, models.AuditEvent{
			EntityKind: "incident",
			EntityID:   incident.ID,
			Type:       models.EventIncidentOpened,
			Timestamp:  openedAt,
			Message:    incident.Summary,
			Owner:      first.Owner,
			Notify:     true,
			Details: map[string]string{
				"service":  incident.Service,
				"severity": string(incident.Severity),
			},
		})
	}
	return incident, nil
}

// OpenForSLA opens an incident for a breached SLA, deriving severity from how
// far the observed value overshoots the target.
func (m *Manager) OpenForSLA(ctx context.Context, sla models.SLA, value float64, change models.SLAStatusChange) (models.Incident, error) {
	return m.Open(ctx, OpenParams{
		SLAID:    sla.ID,
		Service:  sla.Service,
		Metric:   sla.Metric,
		Summary:  fmt.Sprintf("SLA breach: %s %s %s %g (observed %g)", sla.Service, sla.Metric, sla.Operator, sla.Target, value),
		Severity: severityFromExceedance(value, sla.Target),
		Path:     sla.EscalationPath,
		OpenedAt: change.At,
	})
}

// severityFromExceedance maps target overshoot to an incident severity.
func severityFromExceedance(value, target float64) models.Severity {
	scale := math.Abs(target)
	if scale < 1 {
		scale = 1
	}
	ratio := math.Abs(value-target) / scale
	switch {
	case ratio >= 4:
		return models.SeverityEmergency
	case ratio >= 2:
		return models.SeverityCritical
	case ratio >= 1:
		return models.SeverityHigh
	case ratio >= 0.5:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// HasOpenForRule reports whether an unresolved incident exists for the rule.
// Used to suppress duplicate rule firings while one is already open.
func (m *Manager) HasOpenForRule(ctx context.Context, ruleID string) (bool, error) {
	open, err := m.incidents.ListOpen(ctx)
	if err != nil {
		return false, err
	}
	for _, incident := range open {
		if incident.SourceRuleID == ruleID {
			return true, nil
		}
	}
	return false, nil
}

// Acknowledge records an owner acknowledgement. The first ack moves a pending
// incident to in-progress; any ack stops the timeout clock for the current
// level.
func (m *Manager) Acknowledge(ctx context.Context, id, operator string) (models.Incident, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	incident, err := m.incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if incident.Status.Terminal() {
		return models.Incident{}, models.NewValidationError("status", "incident already closed")
	}

	now := m.now()
	incident.LastAckAt = &now
	if incident.Status == models.IncidentPending {
		incident.Status = models.IncidentInProgress
	}

	if err := m.incidents.Update(ctx, &incident); err != nil {
		return models.Incident{}, err
	}

	if m.sink != nil {
		m.sink.Record(ctx, models.AuditEvent{
			EntityKind: "incident",
			EntityID:   incident.ID,
			Type:       models.EventIncidentAcked,
			Timestamp:  now,
			Message:    fmt.Sprintf("acknowledged by %s at level %d", operator, incident.Escalation.Level),
			Owner:      operator,
		})
	}
	return incident, nil
}

// Resolve closes an incident. It fails with BlockedResolutionError while any
// blocking dependency is not completed; a recovered SLA never resolves an
// incident on its own.
func (m *Manager) Resolve(ctx context.Context, id, operator, note string) (models.Incident, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	incident, err := m.incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if incident.Status.Terminal() {
		return models.Incident{}, models.NewValidationError("status", "incident already closed")
	}
	if blocker, blocked := incident.OpenBlocker(); blocked {
		return models.Incident{}, &models.BlockedResolutionError{IncidentID: id, DependencyID: blocker.ID}
	}

	now := m.now()
	incident.Status = models.IncidentResolved
	incident.ClosedAt = &now
	incident.Escalation.History = append(incident.Escalation.History, models.EscalationEntry{
		At:     now,
		Level:  incident.Escalation.Level,
		Owner:  operator,
		Reason: "resolved",
	})

	if err := m.incidents.Update(ctx, &incident); err != nil {
		return models.Incident{}, err
	}

	if m.sink != nil {
		m.sink.Record(ctx, models.AuditEvent{
			EntityKind: "incident",
			EntityID:   incident.ID,
			Type:       models.EventIncidentResolved,
			Timestamp:  now,
			Message:    note,
			Owner:      operator,
			Notify:     true,
		})
	}
	return incident, nil
}

// Cancel closes an incident from any non-terminal state. A playbook running
// for this incident finishes its current step and then stops.
func (m *Manager) Cancel(ctx context.Context, id, operator, note string) (models.Incident, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	incident, err := m.incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if incident.Status.Terminal() {
		return models.Incident{}, models.NewValidationError("status", "incident already closed")
	}

	now := m.now()
	incident.Status = models.IncidentCancelled
	incident.ClosedAt = &now
	incident.Escalation.History = append(incident.Escalation.History, models.EscalationEntry{
		At:     now,
		Level:  incident.Escalation.Level,
		Owner:  operator,
		Reason: "cancelled",
	})

	if err := m.incidents.Update(ctx, &incident); err != nil {
		return models.Incident{}, err
	}

	if m.sink != nil {
		m.sink.Record(ctx, models.AuditEvent{
			EntityKind: "incident",
			EntityID:   incident.ID,
			Type:       models.EventIncidentCancelled,
			Timestamp:  now,
			Message:    note,
			Owner:      operator,
			Notify:     true,
		})
	}
	return incident, nil
}

// Sweep advances escalation for open incidents whose current level has timed
// out without acknowledgement. Each sweep moves an incident up by at most one
// level; level entry times advance by exact timeout boundaries, so sweep
// cadence never skews the arithmetic. Returns the number of escalations
// applied.
func (m *Manager) Sweep(ctx context.Context) (int, error) {
	open, err := m.incidents.ListOpen(ctx)
	if err != nil {
		return 0, fmt.Errorf("list open incidents: %w", err)
	}

	escalated := 0
	for _, candidate := range open {
		if m.sweepOne(ctx, candidate.ID) {
			escalated++
		}
	}
	return escalated, nil
}

// sweepOne re-reads the incident under its lock and applies at most one
// escalation step. Errors are logged and isolated so one bad incident never
// stalls the sweep.
func (m *Manager) sweepOne(ctx context.Context, id string) bool {
	unlock := m.locks.lock(id)
	defer unlock()

	incident, err := m.incidents.Get(ctx, id)
	if err != nil {
		m.logger.Error("sweep fetch failed", slog.String("incident_id", id), slog.Any("error", err))
		return false
	}
	if incident.Status.Terminal() {
		return false
	}
	// Acknowledged since entering this level: the clock is stopped.
	if incident.LastAckAt != nil && !incident.LastAckAt.Before(incident.Escalation.EnteredLevelAt) {
		return false
	}

	step, ok := incident.Escalation.StepForLevel(incident.Escalation.Level)
	if !ok || step.TimeoutMinutes <= 0 {
		return false
	}
	deadline := incident.Escalation.EnteredLevelAt.Add(time.Duration(step.TimeoutMinutes) * time.Minute)
	now := m.now()
	if now.Before(deadline) {
		return false
	}

	maxLevel := incident.Escalation.MaxLevel()
	if incident.Escalation.Level >= maxLevel {
		// Hold at the top of the path but keep notifying its owner.
		incident.Escalation.EnteredLevelAt = deadline
		if err := m.incidents.Update(ctx, &incident); err != nil {
			m.logger.Error("sweep update failed", slog.String("incident_id", id), slog.Any("error", err))
			return false
		}
		if m.sink != nil {
			m.sink.Record(ctx, models.AuditEvent{
				EntityKind: "incident",
				EntityID:   incident.ID,
				Type:       models.EventEscalationReminder,
				Timestamp:  deadline,
				Message:    fmt.Sprintf("still unacknowledged at max level %d", incident.Escalation.Level),
				Owner:      incident.Escalation.CurrentOwner,
				Notify:     true,
			})
		}
		return false
	}

	nextLevel := incident.Escalation.Level + 1
	next, ok := incident.Escalation.StepForLevel(nextLevel)
	if !ok {
		m.logger.Warn("escalation path missing level",
			slog.String("incident_id", id), slog.Int("level", nextLevel))
		return false
	}

	incident.Status = models.IncidentEscalated
	incident.Escalation.Level = nextLevel
	incident.Escalation.CurrentOwner = next.Owner
	// Enter the new level at the old level's deadline, not at sweep time.
	incident.Escalation.EnteredLevelAt = deadline
	incident.Escalation.History = append(incident.Escalation.History, models.EscalationEntry{
		At:     deadline,
		Level:  nextLevel,
		Owner:  next.Owner,
		Reason: "timeout",
	})

	if err := m.incidents.Update(ctx, &incident); err != nil {
		m.logger.Error("sweep update failed", slog.String("incident_id", id), slog.Any("error", err))
		return false
	}
	metrics.ObserveEscalation()

	m.logger.Info("incident escalated",
		slog.String("incident_id", incident.ID),
		slog.Int("level", nextLevel),
		slog.String("owner", next.Owner))

	if m.sink != nil {
		m.sink.Record(ctx, models.AuditEvent{
			EntityKind: "incident",
			EntityID:   incident.ID,
			Type:       models.EventIncidentEscalated,
			Timestamp:  deadline,
			Message:    fmt.Sprintf("escalated to level %d after timeout", nextLevel),
			Owner:      next.Owner,
			Notify:     true,
		})
	}
	return true
}

// AddDependency attaches work the incident depends on. New dependencies start
// pending; a blocker prevents resolution until completed.
func (m *Manager) AddDependency(ctx context.Context, id string, dep models.DependencyRef) (models.Incident, error) {
	unlock := m.locks.lock(id)
	defer unlock()

	incident, err := m.incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}
	if incident.Status.Terminal() {
		return models.Incident{}, models.NewValidationError("status", "incident already closed")
	}
	if dep.Description == "" {
		return models.Incident{}, models.NewValidationError("description", "must not be empty")
	}
	if dep.ID == "" {
		dep.ID = uuid.NewString()
	}
	if dep.Status == "" {
		dep.Status = models.DependencyPending
	}

	incident.Dependencies = append(incident.Dependencies, dep)
	if err := m.incidents.Update(ctx, &incident); err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}

// UpdateDependency moves a dependency through its own lifecycle.
func (m *Manager) UpdateDependency(ctx context.Context, id, depID string, status models.DependencyStatus) (models.Incident, error) {
	switch status {
	case models.DependencyPending, models.DependencyInProgress, models.DependencyCompleted:
	default:
		return models.Incident{}, models.NewValidationError("status", "unknown dependency status")
	}

	unlock := m.locks.lock(id)
	defer unlock()

	incident, err := m.incidents.Get(ctx, id)
	if err != nil {
		return models.Incident{}, err
	}

	found := false
	for i := range incident.Dependencies {
		if incident.Dependencies[i].ID == depID {
			incident.Dependencies[i].Status = status
			found = true
			break
		}
	}
	if !found {
		return models.Incident{}, store.ErrNotFound
	}

	if err := m.incidents.Update(ctx, &incident); err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}
