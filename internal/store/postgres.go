package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// OpenPostgres connects to Postgres, verifies connectivity and applies the
// schema file when one is configured.
func OpenPostgres(url, schemaPath string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, utils.NewAppError("store.OpenPostgres", "open connection", err)
	}
	if err := db.Ping(); err != nil {
		return nil, utils.NewAppError("store.OpenPostgres", "ping", err)
	}
	if schemaPath != "" {
		schema, err := os.ReadFile(schemaPath)
		if err != nil {
			return nil, utils.NewAppError("store.OpenPostgres", fmt.Sprintf("read schema %s", schemaPath), err)
		}
		if _, err := db.Exec(string(schema)); err != nil {
			return nil, utils.NewAppError("store.OpenPostgres", "apply schema", err)
		}
	}
	return db, nil
}

// NewPostgresStores returns a Stores bundle backed by Postgres.
func NewPostgresStores(db *sql.DB) *Stores {
	return &Stores{
		SLAs:       &pgSLAs{db: db},
		Incidents:  &pgIncidents{db: db},
		Playbooks:  &pgPlaybooks{db: db},
		Executions: &pgExecutions{db: db},
		Audit:      &pgAudit{db: db},
	}
}

func marshalJSON(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func unmarshalJSON(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

type pgSLAs struct {
	db *sql.DB
}

func (p *pgSLAs) Create(ctx context.Context, sla *models.SLA) error {
	path, err := marshalJSON(sla.EscalationPath)
	if err != nil {
		return err
	}
	history, err := marshalJSON(sla.History)
	if err != nil {
		return err
	}
	sla.Version = 1
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO slas (id, name, service, metric, target, operator, status,
			recovery_samples, at_risk_band, escalation_path, history, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sla.ID, sla.Name, sla.Service, sla.Metric, sla.Target, string(sla.Operator), string(sla.Status),
		sla.RecoverySamples, sla.AtRiskBand, path, history, sla.Version, sla.CreatedAt, sla.UpdatedAt)
	return err
}

func (p *pgSLAs) Update(ctx context.Context, sla *models.SLA) error {
	path, err := marshalJSON(sla.EscalationPath)
	if err != nil {
		return err
	}
	history, err := marshalJSON(sla.History)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE slas
		SET name = $2, service = $3, metric = $4, target = $5, operator = $6, status = $7,
			recovery_samples = $8, at_risk_band = $9, escalation_path = $10, history = $11,
			version = version + 1, updated_at = $12
		WHERE id = $1 AND version = $13
	`, sla.ID, sla.Name, sla.Service, sla.Metric, sla.Target, string(sla.Operator), string(sla.Status),
		sla.RecoverySamples, sla.AtRiskBand, path, history, sla.UpdatedAt, sla.Version)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return versionOrNotFound(ctx, p.db, "slas", sla.ID)
	}
	sla.Version++
	return nil
}

const slaColumns = `id, name, service, metric, target, operator, status,
	recovery_samples, at_risk_band, escalation_path, history, version, created_at, updated_at`

func scanSLA(row interface{ Scan(...any) error }) (models.SLA, error) {
	var sla models.SLA
	var operator, status string
	var path, history []byte
	err := row.Scan(&sla.ID, &sla.Name, &sla.Service, &sla.Metric, &sla.Target, &operator, &status,
		&sla.RecoverySamples, &sla.AtRiskBand, &path, &history, &sla.Version, &sla.CreatedAt, &sla.UpdatedAt)
	if err != nil {
		return models.SLA{}, err
	}
	sla.Operator = models.Operator(operator)
	sla.Status = models.SLAStatus(status)
	if err := unmarshalJSON(path, &sla.EscalationPath); err != nil {
		return models.SLA{}, err
	}
	if err := unmarshalJSON(history, &sla.History); err != nil {
		return models.SLA{}, err
	}
	return sla, nil
}

func (p *pgSLAs) Get(ctx context.Context, id string) (models.SLA, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+slaColumns+` FROM slas WHERE id = $1`, id)
	sla, err := scanSLA(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.SLA{}, ErrNotFound
	}
	return sla, err
}

func (p *pgSLAs) ListByKey(ctx context.Context, service, metric string) ([]models.SLA, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+slaColumns+` FROM slas WHERE lower(service) = lower($1) AND lower(metric) = lower($2) ORDER BY id`,
		service, metric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSLAs(rows)
}

func (p *pgSLAs) List(ctx context.Context) ([]models.SLA, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+slaColumns+` FROM slas ORDER BY service, metric, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSLAs(rows)
}

func collectSLAs(rows *sql.Rows) ([]models.SLA, error) {
	var out []models.SLA
	for rows.Next() {
		sla, err := scanSLA(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sla)
	}
	return out, rows.Err()
}

func versionOrNotFound(ctx context.Context, db *sql.DB, table, id string) error {
	var exists bool
	err := db.QueryRowContext(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, table), id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

type pgIncidents struct {
	db *sql.DB
}

const incidentColumns = `id, source_rule_id, sla_id, service, metric, summary, severity, status,
	opened_at, last_ack_at, closed_at, escalation, dependencies, version`

func (p *pgIncidents) Create(ctx context.Context, incident *models.Incident) error {
	escalation, err := marshalJSON(incident.Escalation)
	if err != nil {
		return err
	}
	deps, err := marshalJSON(incident.Dependencies)
	if err != nil {
		return err
	}
	incident.Version = 1
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO incidents (id, source_rule_id, sla_id, service, metric, summary, severity, status,
			opened_at, last_ack_at, closed_at, escalation, dependencies, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, incident.ID, incident.SourceRuleID, incident.SLAID, incident.Service, incident.Metric,
		incident.Summary, string(incident.Severity), string(incident.Status),
		incident.OpenedAt, incident.LastAckAt, incident.ClosedAt, escalation, deps, incident.Version)
	return err
}

func (p *pgIncidents) Update(ctx context.Context, incident *models.Incident) error {
	escalation, err := marshalJSON(incident.Escalation)
	if err != nil {
		return err
	}
	deps, err := marshalJSON(incident.Dependencies)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE incidents
		SET severity = $2, status = $3, last_ack_at = $4, closed_at = $5,
			escalation = $6, dependencies = $7, version = version + 1
		WHERE id = $1 AND version = $8
	`, incident.ID, string(incident.Severity), string(incident.Status),
		incident.LastAckAt, incident.ClosedAt, escalation, deps, incident.Version)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return versionOrNotFound(ctx, p.db, "incidents", incident.ID)
	}
	incident.Version++
	return nil
}

func scanIncident(row interface{ Scan(...any) error }) (models.Incident, error) {
	var incident models.Incident
	var severity, status string
	var escalation, deps []byte
	err := row.Scan(&incident.ID, &incident.SourceRuleID, &incident.SLAID, &incident.Service,
		&incident.Metric, &incident.Summary, &severity, &status, &incident.OpenedAt,
		&incident.LastAckAt, &incident.ClosedAt, &escalation, &deps, &incident.Version)
	if err != nil {
		return models.Incident{}, err
	}
	incident.Severity = models.Severity(severity)
	incident.Status = models.IncidentStatus(status)
	if err := unmarshalJSON(escalation, &incident.Escalation); err != nil {
		return models.Incident{}, err
	}
	if err := unmarshalJSON(deps, &incident.Dependencies); err != nil {
		return models.Incident{}, err
	}
	return incident, nil
}

func (p *pgIncidents) Get(ctx context.Context, id string) (models.Incident, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = $1`, id)
	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Incident{}, ErrNotFound
	}
	return incident, err
}

func (p *pgIncidents) List(ctx context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE 1=1`
	args := []any{}
	if filter.Service != "" {
		args = append(args, filter.Service)
		query += fmt.Sprintf(" AND lower(service) = lower($%d)", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		query += fmt.Sprintf(" AND opened_at >= $%d", len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		query += fmt.Sprintf(" AND opened_at <= $%d", len(args))
	}
	query += " ORDER BY opened_at"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func (p *pgIncidents) ListOpen(ctx context.Context) ([]models.Incident, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents WHERE status NOT IN ('resolved', 'cancelled') ORDER BY opened_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIncidents(rows)
}

func collectIncidents(rows *sql.Rows) ([]models.Incident, error) {
	var out []models.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, incident)
	}
	return out, rows.Err()
}

type pgPlaybooks struct {
	db *sql.DB
}

const playbookColumns = `id, name, service, trigger_condition, steps, safety, enabled, created_at, updated_at`

func (p *pgPlaybooks) Create(ctx context.Context, playbook *models.Playbook) error {
	trigger, err := marshalJSON(playbook.Trigger)
	if err != nil {
		return err
	}
	steps, err := marshalJSON(playbook.Steps)
	if err != nil {
		return err
	}
	safety, err := marshalJSON(playbook.Safety)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO playbooks (id, name, service, trigger_condition, steps, safety, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, playbook.ID, playbook.Name, playbook.Service, trigger, steps, safety,
		playbook.Enabled, playbook.CreatedAt, playbook.UpdatedAt)
	return err
}

func (p *pgPlaybooks) Update(ctx context.Context, playbook *models.Playbook) error {
	trigger, err := marshalJSON(playbook.Trigger)
	if err != nil {
		return err
	}
	steps, err := marshalJSON(playbook.Steps)
	if err != nil {
		return err
	}
	safety, err := marshalJSON(playbook.Safety)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE playbooks
		SET name = $2, service = $3, trigger_condition = $4, steps = $5, safety = $6, enabled = $7, updated_at = $8
		WHERE id = $1
	`, playbook.ID, playbook.Name, playbook.Service, trigger, steps, safety, playbook.Enabled, playbook.UpdatedAt)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPlaybook(row interface{ Scan(...any) error }) (models.Playbook, error) {
	var playbook models.Playbook
	var trigger, steps, safety []byte
	err := row.Scan(&playbook.ID, &playbook.Name, &playbook.Service, &trigger, &steps, &safety,
		&playbook.Enabled, &playbook.CreatedAt, &playbook.UpdatedAt)
	if err != nil {
		return models.Playbook{}, err
	}
	if err := unmarshalJSON(trigger, &playbook.Trigger); err != nil {
		return models.Playbook{}, err
	}
	if err := unmarshalJSON(steps, &playbook.Steps); err != nil {
		return models.Playbook{}, err
	}
	if err := unmarshalJSON(safety, &playbook.Safety); err != nil {
		return models.Playbook{}, err
	}
	return playbook, nil
}

func (p *pgPlaybooks) Get(ctx context.Context, id string) (models.Playbook, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+playbookColumns+` FROM playbooks WHERE id = $1`, id)
	playbook, err := scanPlaybook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Playbook{}, ErrNotFound
	}
	return playbook, err
}

func (p *pgPlaybooks) GetByName(ctx context.Context, name string) (models.Playbook, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+playbookColumns+` FROM playbooks WHERE lower(name) = lower($1)`, name)
	playbook, err := scanPlaybook(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Playbook{}, ErrNotFound
	}
	return playbook, err
}

func (p *pgPlaybooks) List(ctx context.Context) ([]models.Playbook, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+playbookColumns+` FROM playbooks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlaybooks(rows)
}

func (p *pgPlaybooks) FindByTrigger(ctx context.Context, service, metric string) ([]models.Playbook, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+playbookColumns+` FROM playbooks
		WHERE enabled AND lower(service) = lower($1) AND lower(trigger_condition->>'metric') = lower($2)
		ORDER BY name
	`, service, metric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPlaybooks(rows)
}

func collectPlaybooks(rows *sql.Rows) ([]models.Playbook, error) {
	var out []models.Playbook
	for rows.Next() {
		playbook, err := scanPlaybook(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, playbook)
	}
	return out, rows.Err()
}

type pgExecutions struct {
	db *sql.DB
}

const executionColumns = `id, playbook_id, trigger_incident_id, started_at, finished_at, step_results, outcome, reason`

func (p *pgExecutions) Create(ctx context.Context, execution *models.Execution) error {
	results, err := marshalJSON(execution.StepResults)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO executions (id, playbook_id, trigger_incident_id, started_at, finished_at, step_results, outcome, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, execution.ID, execution.PlaybookID, execution.TriggerIncidentID, execution.StartedAt,
		execution.FinishedAt, results, string(execution.Outcome), execution.Reason)
	return err
}

func (p *pgExecutions) Update(ctx context.Context, execution *models.Execution) error {
	results, err := marshalJSON(execution.StepResults)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE executions
		SET finished_at = $2, step_results = $3, outcome = $4, reason = $5
		WHERE id = $1
	`, execution.ID, execution.FinishedAt, results, string(execution.Outcome), execution.Reason)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgExecutions) ClaimPending(ctx context.Context, id string, to models.ExecutionOutcome) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE executions SET outcome = $2
		WHERE id = $1 AND outcome = 'pending_approval'
	`, id, string(to))
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows > 0 {
		return true, nil
	}
	var exists bool
	err = p.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM executions WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func scanExecution(row interface{ Scan(...any) error }) (models.Execution, error) {
	var execution models.Execution
	var results []byte
	var outcome string
	err := row.Scan(&execution.ID, &execution.PlaybookID, &execution.TriggerIncidentID,
		&execution.StartedAt, &execution.FinishedAt, &results, &outcome, &execution.Reason)
	if err != nil {
		return models.Execution{}, err
	}
	execution.Outcome = models.ExecutionOutcome(outcome)
	if err := unmarshalJSON(results, &execution.StepResults); err != nil {
		return models.Execution{}, err
	}
	return execution, nil
}

func (p *pgExecutions) Get(ctx context.Context, id string) (models.Execution, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	execution, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Execution{}, ErrNotFound
	}
	return execution, err
}

func (p *pgExecutions) List(ctx context.Context, filter models.ExecutionFilter) ([]models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE 1=1`
	args := []any{}
	if filter.PlaybookID != "" {
		args = append(args, filter.PlaybookID)
		query += fmt.Sprintf(" AND playbook_id = $%d", len(args))
	}
	if filter.Outcome != "" {
		args = append(args, string(filter.Outcome))
		query += fmt.Sprintf(" AND outcome = $%d", len(args))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		query += fmt.Sprintf(" AND started_at >= $%d", len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		query += fmt.Sprintf(" AND started_at <= $%d", len(args))
	}
	query += " ORDER BY started_at"

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Execution
	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, execution)
	}
	return out, rows.Err()
}

func (p *pgExecutions) CountStartedSince(ctx context.Context, playbookID string, since time.Time) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM executions WHERE playbook_id = $1 AND started_at >= $2`,
		playbookID, since).Scan(&count)
	return count, err
}

func (p *pgExecutions) LastStarted(ctx context.Context, playbookID string) (time.Time, error) {
	var last time.Time
	err := p.db.QueryRowContext(ctx,
		`SELECT started_at FROM executions WHERE playbook_id = $1 ORDER BY started_at DESC LIMIT 1`,
		playbookID).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotFound
	}
	return last, err
}

type pgAudit struct {
	db *sql.DB
}

func (p *pgAudit) Append(ctx context.Context, event *models.AuditEvent) (bool, error) {
	details, err := marshalJSON(event.Details)
	if err != nil {
		return false, err
	}
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, dedup_key, entity_kind, entity_id, event_type, ts, message, owner,
			details, notify, delivered, attempts, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (dedup_key) DO NOTHING
	`, event.ID, event.DedupKey(), event.EntityKind, event.EntityID, string(event.Type),
		event.Timestamp, event.Message, event.Owner, details, event.Notify,
		event.Delivered, event.Attempts, event.NextAttemptAt)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

const auditColumns = `id, entity_kind, entity_id, event_type, ts, message, owner, details, notify, delivered, attempts, next_attempt_at`

func scanAuditEvent(row interface{ Scan(...any) error }) (models.AuditEvent, error) {
	var event models.AuditEvent
	var eventType string
	var details []byte
	err := row.Scan(&event.ID, &event.EntityKind, &event.EntityID, &eventType, &event.Timestamp,
		&event.Message, &event.Owner, &details, &event.Notify, &event.Delivered,
		&event.Attempts, &event.NextAttemptAt)
	if err != nil {
		return models.AuditEvent{}, err
	}
	event.Type = models.EventType(eventType)
	if err := unmarshalJSON(details, &event.Details); err != nil {
		return models.AuditEvent{}, err
	}
	return event, nil
}

func (p *pgAudit) ListForEntity(ctx context.Context, entityID string) ([]models.AuditEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE entity_id = $1 ORDER BY ts`, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

func (p *pgAudit) ListUndelivered(ctx context.Context, due time.Time) ([]models.AuditEvent, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+auditColumns+` FROM audit_events WHERE notify AND NOT delivered AND next_attempt_at <= $1 ORDER BY ts`, due)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAuditEvents(rows)
}

func collectAuditEvents(rows *sql.Rows) ([]models.AuditEvent, error) {
	var out []models.AuditEvent
	for rows.Next() {
		event, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, rows.Err()
}

func (p *pgAudit) MarkDelivered(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE audit_events SET delivered = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *pgAudit) MarkAttempt(ctx context.Context, id string, attempts int, nextAttempt time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE audit_events SET attempts = $2, next_attempt_at = $3 WHERE id = $1`, id, attempts, nextAttempt)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
