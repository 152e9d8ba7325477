package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

const rulePack = `
rules:
  - id: checkout-error-rate
    service: checkout
    metric: error_rate
    operator: "<"
    threshold: 5
    severity: critical
    summary: "Checkout error rate above 5%"
    playbook: restart-checkout
  - id: payments-latency
    service: payments
    metric: latency_p95_ms
    operator: "<"
    threshold: 800
    severity: high
`

func writeRulePack(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(rulePack), 0o644); err != nil {
		t.Fatalf("write rule pack: %v", err)
	}
	return path
}

func TestRuleEngineMatch(t *testing.T) {
	ruleEngine, err := NewRuleEngine(writeRulePack(t), nil)
	if err != nil {
		t.Fatalf("load rules: %v", err)
	}
	if ruleEngine == nil {
		t.Fatal("expected engine")
	}

	fired := ruleEngine.Match(models.MetricSample{
		Service: "checkout", Metric: "error_rate", Value: 7.5, Timestamp: time.Now(),
	})
	if len(fired) != 1 || fired[0].ID != "checkout-error-rate" {
		t.Fatalf("fired = %+v", fired)
	}
	if fired[0].Severity != models.SeverityCritical || fired[0].Playbook != "restart-checkout" {
		t.Fatalf("rule = %+v", fired[0])
	}

	// A healthy sample fires nothing.
	if fired := ruleEngine.Match(models.MetricSample{
		Service: "checkout", Metric: "error_rate", Value: 2, Timestamp: time.Now(),
	}); len(fired) != 0 {
		t.Fatalf("healthy sample fired %+v", fired)
	}

	// Other series never match.
	if fired := ruleEngine.Match(models.MetricSample{
		Service: "checkout", Metric: "latency_p95_ms", Value: 9999, Timestamp: time.Now(),
	}); len(fired) != 0 {
		t.Fatalf("wrong series fired %+v", fired)
	}
}

func TestRuleEngineMissingFileIsNil(t *testing.T) {
	ruleEngine, err := NewRuleEngine(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if ruleEngine != nil {
		t.Fatal("expected nil engine")
	}
	// Nil engines match nothing.
	if fired := ruleEngine.Match(models.MetricSample{Service: "a", Metric: "b", Value: 1}); fired != nil {
		t.Fatalf("nil engine fired %+v", fired)
	}
}

func TestRuleEngineRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("rules: [not: {valid"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := NewRuleEngine(path, nil); err == nil {
		t.Fatal("expected parse error")
	}
}
