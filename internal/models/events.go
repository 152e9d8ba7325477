package models

import (
	"fmt"
	"time"
)

// EventType enumerates audit event categories recorded by the sink.
type EventType string

const (
	EventSLAStatusChanged   EventType = "sla_status_changed"
	EventIncidentOpened     EventType = "incident_opened"
	EventIncidentAcked      EventType = "incident_acknowledged"
	EventIncidentEscalated  EventType = "incident_escalated"
	EventEscalationReminder EventType = "escalation_reminder"
	EventIncidentResolved   EventType = "incident_resolved"
	EventIncidentCancelled  EventType = "incident_cancelled"
	EventExecutionStarted   EventType = "execution_started"
	EventExecutionFinished  EventType = "execution_finished"
)

// AuditEvent is an append-only record of a state transition. Delivery to
// notifiers is at-least-once; the sink deduplicates on DedupKey.
type AuditEvent struct {
	ID         string            `json:"id"`
	EntityKind string            `json:"entityKind"`
	EntityID   string            `json:"entityId"`
	Type       EventType         `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Message    string            `json:"message"`
	Owner      string            `json:"owner,omitempty"`
	Details    map[string]string `json:"details,omitempty"`

	// Notify marks events that should be dispatched to alert channels in
	// addition to being recorded.
	Notify bool `json:"notify"`

	// Delivery bookkeeping, managed by the sink.
	Delivered     bool      `json:"delivered"`
	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"nextAttemptAt,omitempty"`
}

// DedupKey identifies an event for idempotent recording.
func (e AuditEvent) DedupKey() string {
	return fmt.Sprintf("%s|%s|%d", e.EntityID, e.Type, e.Timestamp.UnixNano())
}
