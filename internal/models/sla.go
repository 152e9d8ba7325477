package models

import "time"

// SLAStatus is the derived compliance state of an SLA. It is only ever written
// by the threshold evaluator.
type SLAStatus string

const (
	StatusUnknown SLAStatus = "unknown"
	StatusMeeting SLAStatus = "meeting"
	StatusAtRisk  SLAStatus = "at_risk"
	StatusBreach  SLAStatus = "breach"
)

// Rank orders statuses by severity: meeting < at_risk < breach. Unknown ranks
// below everything so the first evaluated sample always applies directly.
func (s SLAStatus) Rank() int {
	switch s {
	case StatusMeeting:
		return 1
	case StatusAtRisk:
		return 2
	case StatusBreach:
		return 3
	default:
		return 0
	}
}

// Operator compares an observed value against an SLA target.
type Operator string

const (
	OpGreater  Operator = ">"
	OpLess     Operator = "<"
	OpEqual    Operator = "="
	OpNotEqual Operator = "!="
)

// Valid reports whether the operator is one of the supported comparators.
func (o Operator) Valid() bool {
	switch o {
	case OpGreater, OpLess, OpEqual, OpNotEqual:
		return true
	}
	return false
}

// Compare applies the operator with value on the left and target on the right.
func (o Operator) Compare(value, target float64) bool {
	switch o {
	case OpGreater:
		return value > target
	case OpLess:
		return value < target
	case OpEqual:
		return value == target
	case OpNotEqual:
		return value != target
	}
	return false
}

// SLA tracks a target for one (service, metric) pair. Status is derived state;
// the API never accepts it on writes.
type SLA struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Service  string    `json:"service"`
	Metric   string    `json:"metric"`
	Target   float64   `json:"target"`
	Operator Operator  `json:"operator"`
	Status   SLAStatus `json:"status"`

	// RecoverySamples is the per-SLA hysteresis depth K; zero means the
	// engine default applies.
	RecoverySamples int `json:"recoverySamples,omitempty"`
	// AtRiskBand is the fractional distance from target that counts as
	// at-risk while still satisfying the operator; zero means the default.
	AtRiskBand float64 `json:"atRiskBand,omitempty"`

	EscalationPath []EscalationStep  `json:"escalationPath,omitempty"`
	History        []SLAStatusChange `json:"history,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SLAStatusChange records one evaluator-driven status transition.
type SLAStatusChange struct {
	SLAID string    `json:"slaId"`
	From  SLAStatus `json:"from"`
	To    SLAStatus `json:"to"`
	Value float64   `json:"value"`
	At    time.Time `json:"at"`
}
