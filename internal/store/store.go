package store

import (
	"context"
	"errors"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// ErrNotFound signals that the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict signals that an optimistic update lost the race; the
// caller should re-read and retry.
var ErrVersionConflict = errors.New("version conflict")

// SLAs persists SLA records. Updates are optimistic on Version.
type SLAs interface {
	Create(ctx context.Context, sla *models.SLA) error
	Update(ctx context.Context, sla *models.SLA) error
	Get(ctx context.Context, id string) (models.SLA, error)
	ListByKey(ctx context.Context, service, metric string) ([]models.SLA, error)
	List(ctx context.Context) ([]models.SLA, error)
}

// Incidents persists incident records. Updates are optimistic on Version.
// Incidents are never deleted; terminal incidents remain for audit.
type Incidents interface {
	Create(ctx context.Context, incident *models.Incident) error
	Update(ctx context.Context, incident *models.Incident) error
	Get(ctx context.Context, id string) (models.Incident, error)
	List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error)
	ListOpen(ctx context.Context) ([]models.Incident, error)
}

// Playbooks persists operator-authored playbook configuration.
type Playbooks interface {
	Create(ctx context.Context, playbook *models.Playbook) error
	Update(ctx context.Context, playbook *models.Playbook) error
	Get(ctx context.Context, id string) (models.Playbook, error)
	GetByName(ctx context.Context, name string) (models.Playbook, error)
	List(ctx context.Context) ([]models.Playbook, error)
	FindByTrigger(ctx context.Context, service, metric string) ([]models.Playbook, error)
}

// Executions persists playbook run records.
type Executions interface {
	Create(ctx context.Context, execution *models.Execution) error
	Update(ctx context.Context, execution *models.Execution) error
	// ClaimPending atomically moves a pending-approval execution to the given
	// outcome, reporting false when the execution is no longer pending. At
	// most one caller can win the claim.
	ClaimPending(ctx context.Context, id string, to models.ExecutionOutcome) (bool, error)
	Get(ctx context.Context, id string) (models.Execution, error)
	List(ctx context.Context, filter models.ExecutionFilter) ([]models.Execution, error)
	CountStartedSince(ctx context.Context, playbookID string, since time.Time) (int, error)
	LastStarted(ctx context.Context, playbookID string) (time.Time, error)
}

// AuditEvents is the append-only transition log. Append is idempotent on the
// event's dedup key.
type AuditEvents interface {
	// Append stores the event, reporting false when an event with the same
	// dedup key already exists.
	Append(ctx context.Context, event *models.AuditEvent) (bool, error)
	ListForEntity(ctx context.Context, entityID string) ([]models.AuditEvent, error)
	// ListUndelivered returns notify events whose next attempt is due.
	ListUndelivered(ctx context.Context, due time.Time) ([]models.AuditEvent, error)
	MarkDelivered(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string, attempts int, nextAttempt time.Time) error
}

// Stores bundles the per-entity repositories the engine composes over.
type Stores struct {
	SLAs       SLAs
	Incidents  Incidents
	Playbooks  Playbooks
	Executions Executions
	Audit      AuditEvents
}
