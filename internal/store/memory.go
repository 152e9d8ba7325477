package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// NewMemoryStores returns a Stores bundle backed by in-process maps. Used in
// dev mode (database disabled) and by tests.
func NewMemoryStores() *Stores {
	return &Stores{
		SLAs:       &memorySLAs{items: make(map[string]models.SLA)},
		Incidents:  &memoryIncidents{items: make(map[string]models.Incident)},
		Playbooks:  &memoryPlaybooks{items: make(map[string]models.Playbook)},
		Executions: &memoryExecutions{items: make(map[string]models.Execution)},
		Audit:      &memoryAudit{byKey: make(map[string]string)},
	}
}

type memorySLAs struct {
	mu    sync.RWMutex
	items map[string]models.SLA
}

func (m *memorySLAs) Create(_ context.Context, sla *models.SLA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sla.Version = 1
	m.items[sla.ID] = *sla
	return nil
}

func (m *memorySLAs) Update(_ context.Context, sla *models.SLA) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[sla.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != sla.Version {
		return ErrVersionConflict
	}
	sla.Version++
	m.items[sla.ID] = *sla
	return nil
}

func (m *memorySLAs) Get(_ context.Context, id string) (models.SLA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sla, ok := m.items[id]
	if !ok {
		return models.SLA{}, ErrNotFound
	}
	return sla, nil
}

func (m *memorySLAs) ListByKey(_ context.Context, service, metric string) ([]models.SLA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.SLA
	for _, sla := range m.items {
		if strings.EqualFold(sla.Service, service) && strings.EqualFold(sla.Metric, metric) {
			out = append(out, sla)
		}
	}
	sortSLAs(out)
	return out, nil
}

func (m *memorySLAs) List(_ context.Context) ([]models.SLA, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SLA, 0, len(m.items))
	for _, sla := range m.items {
		out = append(out, sla)
	}
	sortSLAs(out)
	return out, nil
}

func sortSLAs(slas []models.SLA) {
	sort.Slice(slas, func(i, j int) bool {
		if slas[i].Service != slas[j].Service {
			return slas[i].Service < slas[j].Service
		}
		if slas[i].Metric != slas[j].Metric {
			return slas[i].Metric < slas[j].Metric
		}
		return slas[i].ID < slas[j].ID
	})
}

type memoryIncidents struct {
	mu    sync.RWMutex
	items map[string]models.Incident
}

func (m *memoryIncidents) Create(_ context.Context, incident *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident.Version = 1
	m.items[incident.ID] = *incident
	return nil
}

func (m *memoryIncidents) Update(_ context.Context, incident *models.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.items[incident.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Version != incident.Version {
		return ErrVersionConflict
	}
	incident.Version++
	m.items[incident.ID] = *incident
	return nil
}

func (m *memoryIncidents) Get(_ context.Context, id string) (models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	incident, ok := m.items[id]
	if !ok {
		return models.Incident{}, ErrNotFound
	}
	return incident, nil
}

func (m *memoryIncidents) List(_ context.Context, filter models.IncidentFilter) ([]models.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Incident
	for _, incident := range m.items {
		if filter.Service != "" && !strings.EqualFold(incident.Service, filter.Service) {
			continue
		}
		if filter.Status != "" && incident.Status != filter.Status {
			continue
		}
		if !filter.Start.IsZero() && incident.OpenedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && incident.OpenedAt.After(filter.End) {
			continue
		}
		out = append(out, incident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (m *memoryIncidents) ListOpen(ctx context.Context) ([]models.Incident, error) {
	all, err := m.List(ctx, models.IncidentFilter{})
	if err != nil {
		return nil, err
	}
	open := all[:0:0]
	for _, incident := range all {
		if !incident.Status.Terminal() {
			open = append(open, incident)
		}
	}
	return open, nil
}

type memoryPlaybooks struct {
	mu    sync.RWMutex
	items map[string]models.Playbook
}

func (m *memoryPlaybooks) Create(_ context.Context, playbook *models.Playbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[playbook.ID] = *playbook
	return nil
}

func (m *memoryPlaybooks) Update(_ context.Context, playbook *models.Playbook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[playbook.ID]; !ok {
		return ErrNotFound
	}
	m.items[playbook.ID] = *playbook
	return nil
}

func (m *memoryPlaybooks) Get(_ context.Context, id string) (models.Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	playbook, ok := m.items[id]
	if !ok {
		return models.Playbook{}, ErrNotFound
	}
	return playbook, nil
}

func (m *memoryPlaybooks) GetByName(_ context.Context, name string) (models.Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, playbook := range m.items {
		if strings.EqualFold(playbook.Name, name) {
			return playbook, nil
		}
	}
	return models.Playbook{}, ErrNotFound
}

func (m *memoryPlaybooks) List(_ context.Context) ([]models.Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Playbook, 0, len(m.items))
	for _, playbook := range m.items {
		out = append(out, playbook)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *memoryPlaybooks) FindByTrigger(_ context.Context, service, metric string) ([]models.Playbook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Playbook
	for _, playbook := range m.items {
		if !playbook.Enabled {
			continue
		}
		if strings.EqualFold(playbook.Service, service) && strings.EqualFold(playbook.Trigger.Metric, metric) {
			out = append(out, playbook)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type memoryExecutions struct {
	mu    sync.RWMutex
	items map[string]models.Execution
}

func (m *memoryExecutions) Create(_ context.Context, execution *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[execution.ID] = *execution
	return nil
}

func (m *memoryExecutions) Update(_ context.Context, execution *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[execution.ID]; !ok {
		return ErrNotFound
	}
	m.items[execution.ID] = *execution
	return nil
}

func (m *memoryExecutions) ClaimPending(_ context.Context, id string, to models.ExecutionOutcome) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	execution, ok := m.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if execution.Outcome != models.ExecutionPendingApproval {
		return false, nil
	}
	execution.Outcome = to
	m.items[id] = execution
	return true, nil
}

func (m *memoryExecutions) Get(_ context.Context, id string) (models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	execution, ok := m.items[id]
	if !ok {
		return models.Execution{}, ErrNotFound
	}
	return execution, nil
}

func (m *memoryExecutions) List(_ context.Context, filter models.ExecutionFilter) ([]models.Execution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Execution
	for _, execution := range m.items {
		if filter.PlaybookID != "" && execution.PlaybookID != filter.PlaybookID {
			continue
		}
		if filter.Outcome != "" && execution.Outcome != filter.Outcome {
			continue
		}
		if !filter.Start.IsZero() && execution.StartedAt.Before(filter.Start) {
			continue
		}
		if !filter.End.IsZero() && execution.StartedAt.After(filter.End) {
			continue
		}
		out = append(out, execution)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memoryExecutions) CountStartedSince(_ context.Context, playbookID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, execution := range m.items {
		if execution.PlaybookID == playbookID && !execution.StartedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *memoryExecutions) LastStarted(_ context.Context, playbookID string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var last time.Time
	found := false
	for _, execution := range m.items {
		if execution.PlaybookID == playbookID && execution.StartedAt.After(last) {
			last = execution.StartedAt
			found = true
		}
	}
	if !found {
		return time.Time{}, ErrNotFound
	}
	return last, nil
}

type memoryAudit struct {
	mu    sync.RWMutex
	items []models.AuditEvent
	byKey map[string]string
}

func (m *memoryAudit) Append(_ context.Context, event *models.AuditEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.DedupKey()
	if _, ok := m.byKey[key]; ok {
		return false, nil
	}
	m.byKey[key] = event.ID
	m.items = append(m.items, *event)
	return true, nil
}

func (m *memoryAudit) ListForEntity(_ context.Context, entityID string) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditEvent
	for _, event := range m.items {
		if event.EntityID == entityID {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *memoryAudit) ListUndelivered(_ context.Context, due time.Time) ([]models.AuditEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.AuditEvent
	for _, event := range m.items {
		if event.Notify && !event.Delivered && !event.NextAttemptAt.After(due) {
			out = append(out, event)
		}
	}
	return out, nil
}

func (m *memoryAudit) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Delivered = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *memoryAudit) MarkAttempt(_ context.Context, id string, attempts int, nextAttempt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.items {
		if m.items[i].ID == id {
			m.items[i].Attempts = attempts
			m.items[i].NextAttemptAt = nextAttempt
			return nil
		}
	}
	return ErrNotFound
}
