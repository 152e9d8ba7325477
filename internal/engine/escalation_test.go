package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

var testPath = []models.EscalationStep{
	{Level: 1, Owner: "oncall-primary", TimeoutMinutes: 15},
	{Level: 2, Owner: "oncall-secondary", TimeoutMinutes: 30},
	{Level: 3, Owner: "team-lead", TimeoutMinutes: 60},
	{Level: 4, Owner: "engineering-manager", TimeoutMinutes: 120},
	{Level: 5, Owner: "director", TimeoutMinutes: 240},
}

func newTestManager(t *testing.T) (*Manager, *store.Stores, *time.Time) {
	t.Helper()
	stores := store.NewMemoryStores()
	manager := NewManager(nil, stores.Incidents, nil, testPath)
	clock := time.Date(2026, 8, 28, 9, 0, 0, 0, time.UTC)
	manager.SetClock(func() time.Time { return clock })
	return manager, stores, &clock
}

func openTestIncident(t *testing.T, manager *Manager) models.Incident {
	t.Helper()
	incident, err := manager.Open(context.Background(), OpenParams{
		Service:  "checkout",
		Metric:   "latency_ms",
		Summary:  "latency over target",
		Severity: models.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("open incident: %v", err)
	}
	return incident
}

func TestOpenStartsAtLevelOne(t *testing.T) {
	manager, _, _ := newTestManager(t)
	incident := openTestIncident(t, manager)

	if incident.Status != models.IncidentPending {
		t.Fatalf("status = %s", incident.Status)
	}
	if incident.Escalation.Level != 1 || incident.Escalation.CurrentOwner != "oncall-primary" {
		t.Fatalf("escalation = %+v", incident.Escalation)
	}
	if len(incident.Escalation.History) != 1 || incident.Escalation.History[0].Reason != "opened" {
		t.Fatalf("history = %+v", incident.Escalation.History)
	}
}

// Sweeping every five minutes for 200 minutes walks the incident through the
// cumulative deadlines 15, 45 and 105 minutes and leaves it at level 4; the
// next boundary (225 minutes) has not passed.
func TestSweepAdvancesByExactDeadlines(t *testing.T) {
	manager, stores, clock := newTestManager(t)
	opened := *clock
	incident := openTestIncident(t, manager)

	for minutes := 5; minutes <= 200; minutes += 5 {
		*clock = opened.Add(time.Duration(minutes) * time.Minute)
		if _, err := manager.Sweep(context.Background()); err != nil {
			t.Fatalf("sweep at %dm: %v", minutes, err)
		}
	}

	got, err := stores.Incidents.Get(context.Background(), incident.ID)
	if err != nil {
		t.Fatalf("get incident: %v", err)
	}
	if got.Escalation.Level != 4 {
		t.Fatalf("level = %d, want 4", got.Escalation.Level)
	}
	if got.Escalation.CurrentOwner != "engineering-manager" {
		t.Fatalf("owner = %s", got.Escalation.CurrentOwner)
	}
	if got.Status != models.IncidentEscalated {
		t.Fatalf("status = %s", got.Status)
	}
	// Level entry times advance by timeout boundaries, not sweep times.
	if want := opened.Add(105 * time.Minute); !got.Escalation.EnteredLevelAt.Equal(want) {
		t.Fatalf("entered level at %v, want %v", got.Escalation.EnteredLevelAt, want)
	}
	wantEntries := []struct {
		level  int
		offset time.Duration
	}{
		{1, 0},
		{2, 15 * time.Minute},
		{3, 45 * time.Minute},
		{4, 105 * time.Minute},
	}
	if len(got.Escalation.History) != len(wantEntries) {
		t.Fatalf("history = %+v", got.Escalation.History)
	}
	for i, want := range wantEntries {
		entry := got.Escalation.History[i]
		if entry.Level != want.level || !entry.At.Equal(opened.Add(want.offset)) {
			t.Fatalf("history[%d] = %+v, want level %d at +%v", i, entry, want.level, want.offset)
		}
	}
}

// A delayed sweep applies at most one level per tick, never skipping rungs.
func TestSweepAppliesOneLevelPerTick(t *testing.T) {
	manager, stores, clock := newTestManager(t)
	opened := *clock
	incident := openTestIncident(t, manager)

	*clock = opened.Add(3 * time.Hour)
	if _, err := manager.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	got, _ := stores.Incidents.Get(context.Background(), incident.ID)
	if got.Escalation.Level != 2 {
		t.Fatalf("level = %d after one sweep, want 2", got.Escalation.Level)
	}
}

func TestAcknowledgeStopsTheClock(t *testing.T) {
	manager, stores, clock := newTestManager(t)
	opened := *clock
	incident := openTestIncident(t, manager)

	*clock = opened.Add(10 * time.Minute)
	acked, err := manager.Acknowledge(context.Background(), incident.ID, "alice")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != models.IncidentInProgress {
		t.Fatalf("status = %s", acked.Status)
	}

	*clock = opened.Add(2 * time.Hour)
	escalated, err := manager.Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if escalated != 0 {
		t.Fatalf("acknowledged incident escalated %d times", escalated)
	}

	got, _ := stores.Incidents.Get(context.Background(), incident.ID)
	if got.Escalation.Level != 1 {
		t.Fatalf("level = %d, want 1", got.Escalation.Level)
	}
}

func TestSweepHoldsAtMaxLevel(t *testing.T) {
	manager, stores, clock := newTestManager(t)
	opened := *clock
	incident := openTestIncident(t, manager)

	// Walk well past the final boundary at 225 minutes.
	for minutes := 15; minutes <= 600; minutes += 15 {
		*clock = opened.Add(time.Duration(minutes) * time.Minute)
		if _, err := manager.Sweep(context.Background()); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}

	got, _ := stores.Incidents.Get(context.Background(), incident.ID)
	if got.Escalation.Level != 5 {
		t.Fatalf("level = %d, want max 5", got.Escalation.Level)
	}
	if got.Status.Terminal() {
		t.Fatalf("incident closed by sweep: %s", got.Status)
	}
}

func TestResolveBlockedByDependency(t *testing.T) {
	manager, _, _ := newTestManager(t)
	incident := openTestIncident(t, manager)

	withDep, err := manager.AddDependency(context.Background(), incident.ID, models.DependencyRef{
		Description: "db failover",
		Blocker:     true,
	})
	if err != nil {
		t.Fatalf("add dependency: %v", err)
	}
	depID := withDep.Dependencies[0].ID

	_, err = manager.Resolve(context.Background(), incident.ID, "alice", "fixed")
	var blocked *models.BlockedResolutionError
	if !errors.As(err, &blocked) {
		t.Fatalf("expected BlockedResolutionError, got %v", err)
	}

	if _, err := manager.UpdateDependency(context.Background(), incident.ID, depID, models.DependencyCompleted); err != nil {
		t.Fatalf("complete dependency: %v", err)
	}
	resolved, err := manager.Resolve(context.Background(), incident.ID, "alice", "fixed")
	if err != nil {
		t.Fatalf("resolve after completion: %v", err)
	}
	if resolved.Status != models.IncidentResolved || resolved.ClosedAt == nil {
		t.Fatalf("resolved = %+v", resolved)
	}
}

func TestTerminalIncidentRejectsFurtherTransitions(t *testing.T) {
	manager, _, _ := newTestManager(t)
	incident := openTestIncident(t, manager)

	if _, err := manager.Cancel(context.Background(), incident.ID, "alice", "noise"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := manager.Acknowledge(context.Background(), incident.ID, "bob"); err == nil {
		t.Fatal("acknowledge after cancel should fail")
	}
	if _, err := manager.Resolve(context.Background(), incident.ID, "bob", ""); err == nil {
		t.Fatal("resolve after cancel should fail")
	}
	if _, err := manager.Cancel(context.Background(), incident.ID, "bob", ""); err == nil {
		t.Fatal("double cancel should fail")
	}
}

func TestSeverityFromExceedance(t *testing.T) {
	cases := []struct {
		value, target float64
		want          models.Severity
	}{
		{105, 100, models.SeverityLow},
		{160, 100, models.SeverityMedium},
		{250, 100, models.SeverityHigh},
		{350, 100, models.SeverityCritical},
		{900, 100, models.SeverityEmergency},
	}
	for _, c := range cases {
		if got := severityFromExceedance(c.value, c.target); got != c.want {
			t.Fatalf("severity(%v, %v) = %s, want %s", c.value, c.target, got, c.want)
		}
	}
}
