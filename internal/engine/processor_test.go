package engine

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

func newTestProcessor(t *testing.T) (*Processor, *store.Stores) {
	t.Helper()
	stores := store.NewMemoryStores()
	samples := ingest.NewStore(1024, time.Hour)
	manager := NewManager(nil, stores.Incidents, nil, testPath)
	evaluator := NewEvaluator(nil, stores.SLAs, samples, nil, manager, 3, 0)
	rules, err := NewRuleEngine(writeRulePack(t), nil)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	runner := &fakeRunner{fail: make(map[int]bool)}
	executor := NewExecutor(nil, stores.Playbooks, stores.Executions, stores.Incidents,
		nil, runner, samples)
	return NewProcessor(nil, evaluator, rules, manager, executor, stores.Playbooks), stores
}

func TestRuleOpensIncidentOnce(t *testing.T) {
	processor, stores := newTestProcessor(t)
	base := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)

	violating := models.MetricSample{
		Service: "payments", Metric: "latency_p95_ms", Value: 1200, Timestamp: base,
	}
	if _, err := processor.ProcessSample(context.Background(), violating); err != nil {
		t.Fatalf("process: %v", err)
	}

	open, _ := stores.Incidents.ListOpen(context.Background())
	if len(open) != 1 {
		t.Fatalf("open incidents = %d", len(open))
	}
	if open[0].SourceRuleID != "payments-latency" || open[0].Severity != models.SeverityHigh {
		t.Fatalf("incident = %+v", open[0])
	}

	// While the incident stays open, the rule does not fire again.
	violating.Timestamp = base.Add(time.Second)
	if _, err := processor.ProcessSample(context.Background(), violating); err != nil {
		t.Fatalf("process second: %v", err)
	}
	open, _ = stores.Incidents.ListOpen(context.Background())
	if len(open) != 1 {
		t.Fatalf("duplicate rule incident: %d open", len(open))
	}
}

func TestHealthySampleFiresNothing(t *testing.T) {
	processor, stores := newTestProcessor(t)

	healthy := models.MetricSample{
		Service: "payments", Metric: "latency_p95_ms", Value: 200, Timestamp: time.Now(),
	}
	if _, err := processor.ProcessSample(context.Background(), healthy); err != nil {
		t.Fatalf("process: %v", err)
	}
	open, _ := stores.Incidents.ListOpen(context.Background())
	if len(open) != 0 {
		t.Fatalf("healthy sample opened %d incidents", len(open))
	}
}

func TestMalformedSampleRejected(t *testing.T) {
	processor, _ := newTestProcessor(t)
	_, err := processor.ProcessSample(context.Background(), models.MetricSample{
		Metric: "latency_p95_ms", Value: 1, Timestamp: time.Now(),
	})
	if err == nil {
		t.Fatal("expected validation error")
	}
}
