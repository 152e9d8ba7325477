package models

import "time"

// IncidentFilter captures list filters for incident queries.
type IncidentFilter struct {
	Service string
	Status  IncidentStatus
	Start   time.Time
	End     time.Time
}

// ExecutionFilter captures list filters for execution queries.
type ExecutionFilter struct {
	PlaybookID string
	Outcome    ExecutionOutcome
	Start      time.Time
	End        time.Time
}

// OperatorAction describes who performed an incident or approval action.
type OperatorAction struct {
	Operator string `json:"operator"`
	Note     string `json:"note,omitempty"`
}

// Overview aggregates server-computed dashboard numbers. Every field is
// derived on read; nothing here is stored.
type Overview struct {
	SLAStatusCounts      map[SLAStatus]int       `json:"slaStatusCounts"`
	OpenIncidents        int                     `json:"openIncidents"`
	IncidentsBySeverity  map[Severity]int        `json:"incidentsBySeverity"`
	BreachCount          int                     `json:"breachCount"`
	PlaybookSuccessRates map[string]SuccessStats `json:"playbookSuccessRates"`
	GeneratedAt          time.Time               `json:"generatedAt"`
}

// SuccessStats summarises execution history for one playbook.
type SuccessStats struct {
	TotalExecutions int     `json:"totalExecutions"`
	SuccessRate     float64 `json:"successRate"`
}
