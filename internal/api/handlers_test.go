package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

type noopRunner struct{}

func (noopRunner) Run(context.Context, models.Incident, models.Step) error  { return nil }
func (noopRunner) Undo(context.Context, models.Incident, models.Step) error { return nil }

type testEnv struct {
	router  *gin.Engine
	stores  *store.Stores
	manager *engine.Manager
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	stores := store.NewMemoryStores()
	samples := ingest.NewStore(1024, time.Hour)
	manager := engine.NewManager(nil, stores.Incidents, nil, []models.EscalationStep{
		{Level: 1, Owner: "oncall-primary", TimeoutMinutes: 15},
		{Level: 2, Owner: "team-lead", TimeoutMinutes: 30},
	})
	evaluator := engine.NewEvaluator(nil, stores.SLAs, samples, nil, manager, 3, 0.10)
	executor := engine.NewExecutor(nil, stores.Playbooks, stores.Executions, stores.Incidents,
		nil, noopRunner{}, samples)
	processor := engine.NewProcessor(nil, evaluator, nil, manager, executor, stores.Playbooks)

	handler := NewHandler(nil, stores, samples, processor, manager, executor,
		cache.NewMemoryProvider(), 15*time.Second, 15*time.Second)

	router := gin.New()
	handler.Register(router)
	return &testEnv{router: router, stores: stores, manager: manager}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	e.router.ServeHTTP(recorder, req)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

func TestIngestDrivesSLAStatus(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, http.MethodPost, "/api/v1/slas", map[string]any{
		"name": "checkout-latency", "service": "checkout", "metric": "latency_ms",
		"target": 500.0, "operator": "<",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create sla: %d %s", created.Code, created.Body.String())
	}
	sla := decode[models.SLA](t, created)
	if sla.Status != models.StatusUnknown {
		t.Fatalf("new sla status = %s", sla.Status)
	}

	accepted := env.do(t, http.MethodPost, "/api/v1/samples", map[string]any{
		"service": "checkout", "metric": "latency_ms", "value": 900.0,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if accepted.Code != http.StatusAccepted {
		t.Fatalf("ingest: %d %s", accepted.Code, accepted.Body.String())
	}

	fetched := env.do(t, http.MethodGet, "/api/v1/slas/"+sla.ID, nil)
	if fetched.Code != http.StatusOK {
		t.Fatalf("get sla: %d", fetched.Code)
	}
	if got := decode[models.SLA](t, fetched); got.Status != models.StatusBreach {
		t.Fatalf("status after breach sample = %s", got.Status)
	}

	// The breach opened an incident.
	incidents := env.do(t, http.MethodGet, "/api/v1/incidents", nil)
	var listed struct {
		Incidents []models.Incident `json:"incidents"`
		Count     int               `json:"count"`
	}
	if err := json.Unmarshal(incidents.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode incidents: %v", err)
	}
	if listed.Count != 1 || listed.Incidents[0].SLAID != sla.ID {
		t.Fatalf("incidents = %+v", listed)
	}
}

func TestIngestBatch(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/v1/slas", map[string]any{
		"name": "checkout-latency", "service": "checkout", "metric": "latency_ms",
		"target": 500.0, "operator": "<",
	})

	now := time.Now().UTC()
	resp := env.do(t, http.MethodPost, "/api/v1/samples", []map[string]any{
		{"service": "checkout", "metric": "latency_ms", "value": 100.0, "timestamp": now.Format(time.RFC3339)},
		{"service": "checkout", "metric": "latency_ms", "value": 900.0, "timestamp": now.Add(time.Second).Format(time.RFC3339)},
	})
	if resp.Code != http.StatusAccepted {
		t.Fatalf("batch ingest: %d %s", resp.Code, resp.Body.String())
	}
	var out struct {
		Accepted      int                      `json:"accepted"`
		StatusChanges []models.SLAStatusChange `json:"statusChanges"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode batch response: %v", err)
	}
	if out.Accepted != 2 {
		t.Fatalf("accepted = %d", out.Accepted)
	}
	// meeting on the first sample, breach on the second
	if len(out.StatusChanges) != 2 || out.StatusChanges[1].To != models.StatusBreach {
		t.Fatalf("status changes = %+v", out.StatusChanges)
	}
}

func TestIngestBatchStopsAtMalformedSample(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/samples", []map[string]any{
		{"service": "checkout", "metric": "latency_ms", "value": 100.0},
		{"service": "", "metric": "latency_ms", "value": 1.0},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("code = %d %s", resp.Code, resp.Body.String())
	}
	var out struct {
		Accepted int `json:"accepted"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Accepted != 1 {
		t.Fatalf("accepted = %d", out.Accepted)
	}
}

func TestIngestRejectsMalformedSample(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/samples", map[string]any{
		"service": "", "metric": "latency_ms", "value": 1.0,
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", resp.Code)
	}
}

func TestCreateSLAValidation(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/slas", map[string]any{
		"name": "x", "service": "checkout", "metric": "latency_ms",
		"target": 500.0, "operator": ">=",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("bad operator accepted: %d %s", resp.Code, resp.Body.String())
	}
}

// Service and metric are operator-editable; after an update, evaluation must
// follow the new series key on every backend.
func TestUpdateSLAEditsServiceAndMetric(t *testing.T) {
	env := newTestEnv(t)

	created := env.do(t, http.MethodPost, "/api/v1/slas", map[string]any{
		"name": "checkout-latency", "service": "checkout", "metric": "latency_ms",
		"target": 500.0, "operator": "<",
	})
	sla := decode[models.SLA](t, created)

	updated := env.do(t, http.MethodPut, "/api/v1/slas/"+sla.ID, map[string]any{
		"name": "billing-latency", "service": "billing", "metric": "p99_ms",
		"target": 800.0, "operator": "<",
	})
	if updated.Code != http.StatusOK {
		t.Fatalf("update: %d %s", updated.Code, updated.Body.String())
	}

	fetched := decode[models.SLA](t, env.do(t, http.MethodGet, "/api/v1/slas/"+sla.ID, nil))
	if fetched.Service != "billing" || fetched.Metric != "p99_ms" {
		t.Fatalf("service/metric not persisted: %+v", fetched)
	}

	accepted := env.do(t, http.MethodPost, "/api/v1/samples", map[string]any{
		"service": "billing", "metric": "p99_ms", "value": 900.0,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if accepted.Code != http.StatusAccepted {
		t.Fatalf("ingest: %d %s", accepted.Code, accepted.Body.String())
	}
	fetched = decode[models.SLA](t, env.do(t, http.MethodGet, "/api/v1/slas/"+sla.ID, nil))
	if fetched.Status != models.StatusBreach {
		t.Fatalf("status after breach on new key = %s", fetched.Status)
	}
}

func TestGetUnknownSLAIs404(t *testing.T) {
	env := newTestEnv(t)
	if resp := env.do(t, http.MethodGet, "/api/v1/slas/missing", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("code = %d", resp.Code)
	}
}

func TestBlockedResolveIsConflict(t *testing.T) {
	env := newTestEnv(t)

	incident, err := env.manager.Open(context.Background(), engine.OpenParams{
		Service: "checkout", Metric: "latency_ms", Summary: "breach", Severity: models.SeverityHigh,
	})
	if err != nil {
		t.Fatalf("open incident: %v", err)
	}

	added := env.do(t, http.MethodPost, "/api/v1/incidents/"+incident.ID+"/dependencies", map[string]any{
		"description": "db failover", "blocker": true,
	})
	if added.Code != http.StatusCreated {
		t.Fatalf("add dependency: %d %s", added.Code, added.Body.String())
	}

	resolve := env.do(t, http.MethodPost, "/api/v1/incidents/"+incident.ID+"/resolve", models.OperatorAction{
		Operator: "alice", Note: "done",
	})
	if resolve.Code != http.StatusConflict {
		t.Fatalf("blocked resolve: %d %s", resolve.Code, resolve.Body.String())
	}

	withDep := decode[models.Incident](t, added)
	depID := withDep.Dependencies[0].ID
	completed := env.do(t, http.MethodPut, "/api/v1/incidents/"+incident.ID+"/dependencies/"+depID, map[string]any{
		"status": "completed",
	})
	if completed.Code != http.StatusOK {
		t.Fatalf("complete dependency: %d %s", completed.Code, completed.Body.String())
	}

	resolve = env.do(t, http.MethodPost, "/api/v1/incidents/"+incident.ID+"/resolve", models.OperatorAction{
		Operator: "alice", Note: "done",
	})
	if resolve.Code != http.StatusOK {
		t.Fatalf("resolve after completion: %d %s", resolve.Code, resolve.Body.String())
	}
}

func TestAckRequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	incident, err := env.manager.Open(context.Background(), engine.OpenParams{
		Service: "checkout", Metric: "latency_ms", Summary: "breach", Severity: models.SeverityLow,
	})
	if err != nil {
		t.Fatalf("open incident: %v", err)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/incidents/"+incident.ID+"/ack", map[string]any{})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("ack without operator: %d", resp.Code)
	}

	resp = env.do(t, http.MethodPost, "/api/v1/incidents/"+incident.ID+"/ack", models.OperatorAction{Operator: "alice"})
	if resp.Code != http.StatusOK {
		t.Fatalf("ack: %d %s", resp.Code, resp.Body.String())
	}
	if got := decode[models.Incident](t, resp); got.Status != models.IncidentInProgress {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestCreatePlaybookRejectsDuplicateStepOrder(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/playbooks", map[string]any{
		"name": "restart-checkout", "service": "checkout",
		"steps": []map[string]any{
			{"order": 1, "type": "restart", "failureAction": "stop"},
			{"order": 1, "type": "scale", "failureAction": "stop"},
		},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("duplicate order accepted: %d %s", resp.Code, resp.Body.String())
	}
}

func TestCreatePlaybookRejectsCapWithoutCooldown(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/playbooks", map[string]any{
		"name": "restart-checkout", "service": "checkout",
		"safety": map[string]any{"maxExecutions": 3},
		"steps": []map[string]any{
			{"order": 1, "type": "restart", "failureAction": "stop"},
		},
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("cap without cooldown accepted: %d %s", resp.Code, resp.Body.String())
	}
}

func TestExecutePlaybookViaAPI(t *testing.T) {
	env := newTestEnv(t)
	created := env.do(t, http.MethodPost, "/api/v1/playbooks", map[string]any{
		"name": "restart-checkout", "service": "checkout",
		"steps": []map[string]any{
			{"order": 1, "type": "restart", "failureAction": "stop"},
		},
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("create playbook: %d %s", created.Code, created.Body.String())
	}
	playbook := decode[models.Playbook](t, created)

	executed := env.do(t, http.MethodPost, "/api/v1/playbooks/"+playbook.ID+"/execute", nil)
	if executed.Code != http.StatusOK {
		t.Fatalf("execute: %d %s", executed.Code, executed.Body.String())
	}
	execution := decode[models.Execution](t, executed)
	if execution.Outcome != models.ExecutionSuccess {
		t.Fatalf("outcome = %s (%s)", execution.Outcome, execution.Reason)
	}
}

func TestOverviewAggregates(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodPost, "/api/v1/slas", map[string]any{
		"name": "checkout-latency", "service": "checkout", "metric": "latency_ms",
		"target": 500.0, "operator": "<",
	})
	env.do(t, http.MethodPost, "/api/v1/samples", map[string]any{
		"service": "checkout", "metric": "latency_ms", "value": 900.0,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})

	resp := env.do(t, http.MethodGet, "/api/v1/overview", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("overview: %d %s", resp.Code, resp.Body.String())
	}
	overview := decode[models.Overview](t, resp)
	if overview.BreachCount != 1 || overview.OpenIncidents != 1 {
		t.Fatalf("overview = %+v", overview)
	}

	// Cached responses stay readable.
	again := env.do(t, http.MethodGet, "/api/v1/overview", nil)
	if again.Code != http.StatusOK {
		t.Fatalf("cached overview: %d", again.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	if resp := env.do(t, http.MethodGet, "/healthz", nil); resp.Code != http.StatusOK {
		t.Fatalf("healthz = %d", resp.Code)
	}
}
