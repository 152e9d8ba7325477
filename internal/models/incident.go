package models

import "time"

// IncidentStatus enumerates the incident lifecycle states.
type IncidentStatus string

const (
	IncidentPending    IncidentStatus = "pending"
	IncidentInProgress IncidentStatus = "in_progress"
	IncidentEscalated  IncidentStatus = "escalated"
	IncidentResolved   IncidentStatus = "resolved"
	IncidentCancelled  IncidentStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s IncidentStatus) Terminal() bool {
	return s == IncidentResolved || s == IncidentCancelled
}

// Severity captures incident impact levels.
type Severity string

const (
	SeverityLow       Severity = "low"
	SeverityMedium    Severity = "medium"
	SeverityHigh      Severity = "high"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// DependencyStatus tracks progress of a dependency attached to an incident.
type DependencyStatus string

const (
	DependencyPending    DependencyStatus = "pending"
	DependencyInProgress DependencyStatus = "in_progress"
	DependencyCompleted  DependencyStatus = "completed"
)

// DependencyRef links an incident to work it depends on. A blocker that is not
// completed prevents resolution.
type DependencyRef struct {
	ID          string           `json:"id"`
	Description string           `json:"description"`
	Blocker     bool             `json:"blocker"`
	Status      DependencyStatus `json:"status"`
}

// EscalationStep is one rung of an escalation path.
type EscalationStep struct {
	Level          int    `json:"level" yaml:"level"`
	Owner          string `json:"owner" yaml:"owner"`
	TimeoutMinutes int    `json:"escalationTimeoutMinutes" yaml:"timeoutMinutes"`
}

// EscalationEntry is one append-only history record of an escalation change.
type EscalationEntry struct {
	At     time.Time `json:"at"`
	Level  int       `json:"level"`
	Owner  string    `json:"owner"`
	Reason string    `json:"reason"`
}

// EscalationState tracks where an incident sits on its escalation path.
// Level never decreases while the incident is open.
type EscalationState struct {
	Level          int               `json:"level"`
	CurrentOwner   string            `json:"currentOwner"`
	Path           []EscalationStep  `json:"escalationPath"`
	EnteredLevelAt time.Time         `json:"enteredLevelAt"`
	History        []EscalationEntry `json:"history"`
}

// MaxLevel returns the highest level on the path.
func (e EscalationState) MaxLevel() int {
	max := 0
	for _, step := range e.Path {
		if step.Level > max {
			max = step.Level
		}
	}
	return max
}

// StepForLevel returns the path entry for the given level.
func (e EscalationState) StepForLevel(level int) (EscalationStep, bool) {
	for _, step := range e.Path {
		if step.Level == level {
			return step, true
		}
	}
	return EscalationStep{}, false
}

// Incident is an open escalation case. Resolved and cancelled incidents are
// retained for audit, never deleted.
type Incident struct {
	ID           string          `json:"id"`
	SourceRuleID string          `json:"sourceRuleId,omitempty"`
	SLAID        string          `json:"slaId,omitempty"`
	Service      string          `json:"service"`
	Metric       string          `json:"metric"`
	Summary      string          `json:"summary"`
	Severity     Severity        `json:"severity"`
	Status       IncidentStatus  `json:"status"`
	OpenedAt     time.Time       `json:"openedAt"`
	LastAckAt    *time.Time      `json:"lastAckAt,omitempty"`
	ClosedAt     *time.Time      `json:"closedAt,omitempty"`
	Escalation   EscalationState `json:"escalation"`
	Dependencies []DependencyRef `json:"dependencies,omitempty"`
	Version      int64           `json:"version"`
}

// OpenBlocker returns the first blocking dependency that is not completed.
func (i Incident) OpenBlocker() (DependencyRef, bool) {
	for _, dep := range i.Dependencies {
		if dep.Blocker && dep.Status != DependencyCompleted {
			return dep, true
		}
	}
	return DependencyRef{}, false
}
