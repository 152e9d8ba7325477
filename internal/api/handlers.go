package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

const (
	overviewCacheKey = "sentinel:overview"
	slaListCacheKey  = "sentinel:slas"
)

// Handler exposes the REST surface over the engine and the entity stores.
type Handler struct {
	stores      *store.Stores
	samples     *ingest.Store
	processor   *engine.Processor
	manager     *engine.Manager
	executor    *engine.Executor
	cache       cache.Provider
	overviewTTL time.Duration
	slaListTTL  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewHandler constructs the REST handler. cacheProvider may be a NoopProvider.
func NewHandler(
	logger *slog.Logger,
	stores *store.Stores,
	samples *ingest.Store,
	processor *engine.Processor,
	manager *engine.Manager,
	executor *engine.Executor,
	cacheProvider cache.Provider,
	overviewTTL, slaListTTL time.Duration,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheProvider == nil {
		cacheProvider = cache.NoopProvider{}
	}
	return &Handler{
		stores:      stores,
		samples:     samples,
		processor:   processor,
		manager:     manager,
		executor:    executor,
		cache:       cacheProvider,
		overviewTTL: overviewTTL,
		slaListTTL:  slaListTTL,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts all routes on the router.
func (h *Handler) Register(router *gin.Engine) {
	router.GET("/healthz", h.health)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/samples", h.ingestSample)
		v1.GET("/series/:service/:metric", h.getSeries)

		v1.POST("/slas", h.createSLA)
		v1.GET("/slas", h.listSLAs)
		v1.GET("/slas/:id", h.getSLA)
		v1.PUT("/slas/:id", h.updateSLA)

		v1.GET("/incidents", h.listIncidents)
		v1.GET("/incidents/:id", h.getIncident)
		v1.GET("/incidents/:id/events", h.listIncidentEvents)
		v1.POST("/incidents/:id/dependencies", h.addDependency)
		v1.PUT("/incidents/:id/dependencies/:depId", h.updateDependency)
		v1.POST("/incidents/:id/ack", h.ackIncident)
		v1.POST("/incidents/:id/resolve", h.resolveIncident)
		v1.POST("/incidents/:id/cancel", h.cancelIncident)

		v1.POST("/playbooks", h.createPlaybook)
		v1.GET("/playbooks", h.listPlaybooks)
		v1.GET("/playbooks/:id", h.getPlaybook)
		v1.PUT("/playbooks/:id", h.updatePlaybook)
		v1.POST("/playbooks/:id/execute", h.executePlaybook)

		v1.GET("/executions", h.listExecutions)
		v1.GET("/executions/:id", h.getExecution)
		v1.POST("/executions/:id/approve", h.approveExecution)
		v1.POST("/executions/:id/reject", h.rejectExecution)

		v1.GET("/overview", h.overview)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": h.now().Format(time.RFC3339)})
}

// writeError maps engine errors to HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	var validation *models.ValidationError
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case models.IsPrecondition(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "conflicting concurrent update, re-read and retry"})
	default:
		h.logger.Error("request error", slog.String("path", c.Request.URL.Path), slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- samples ---

type samplePayload struct {
	Service   string    `json:"service"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// ingestSample accepts a single sample object or a batch array. Batches stop
// at the first malformed sample; samples before it are already applied.
func (h *Handler) ingestSample(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body: " + err.Error()})
		return
	}

	var payloads []samplePayload
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payloads); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
			return
		}
	} else {
		var single samplePayload
		if err := json.Unmarshal(trimmed, &single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
			return
		}
		payloads = []samplePayload{single}
	}

	var changes []models.SLAStatusChange
	for i, payload := range payloads {
		sample := models.MetricSample{
			Service:   payload.Service,
			Metric:    payload.Metric,
			Value:     payload.Value,
			Timestamp: payload.Timestamp,
		}
		if sample.Timestamp.IsZero() {
			sample.Timestamp = h.now()
		}

		sampleChanges, err := h.processor.ProcessSample(c.Request.Context(), sample)
		if err != nil {
			if len(payloads) > 1 {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":    fmt.Sprintf("sample %d: %s", i, err.Error()),
					"accepted": i,
				})
				return
			}
			h.writeError(c, err)
			return
		}
		changes = append(changes, sampleChanges...)
	}
	c.JSON(http.StatusAccepted, gin.H{"accepted": len(payloads), "statusChanges": changes})
}

func (h *Handler) getSeries(c *gin.Context) {
	service := c.Param("service")
	metric := c.Param("metric")

	window := h.samples.Window(service, metric)
	if len(window) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no samples retained for series"})
		return
	}
	p95, _ := h.samples.Percentile(service, metric, 95)
	latest, _ := h.samples.Latest(service, metric)

	c.JSON(http.StatusOK, gin.H{
		"service": service,
		"metric":  metric,
		"count":   len(window),
		"latest":  latest,
		"p95":     p95,
		"samples": window,
	})
}

// --- slas ---

type slaPayload struct {
	Name            string                  `json:"name"`
	Service         string                  `json:"service"`
	Metric          string                  `json:"metric"`
	Target          float64                 `json:"target"`
	Operator        models.Operator         `json:"operator"`
	RecoverySamples int                     `json:"recoverySamples"`
	AtRiskBand      float64                 `json:"atRiskBand"`
	EscalationPath  []models.EscalationStep `json:"escalationPath"`
}

func (p slaPayload) validate() error {
	if p.Name == "" {
		return models.NewValidationError("name", "must not be empty")
	}
	if p.Service == "" {
		return models.NewValidationError("service", "must not be empty")
	}
	if p.Metric == "" {
		return models.NewValidationError("metric", "must not be empty")
	}
	if !p.Operator.Valid() {
		return models.NewValidationError("operator", "must be one of > < = !=")
	}
	if math.IsNaN(p.Target) || math.IsInf(p.Target, 0) {
		return models.NewValidationError("target", "must be finite")
	}
	if p.RecoverySamples < 0 {
		return models.NewValidationError("recoverySamples", "must not be negative")
	}
	if p.AtRiskBand < 0 || p.AtRiskBand >= 1 {
		return models.NewValidationError("atRiskBand", "must be in [0,1)")
	}
	seen := make(map[int]bool, len(p.EscalationPath))
	for _, step := range p.EscalationPath {
		if step.Level < 1 || seen[step.Level] {
			return models.NewValidationError("escalationPath", "levels must be unique and positive")
		}
		seen[step.Level] = true
	}
	return nil
}

func (h *Handler) createSLA(c *gin.Context) {
	var payload slaPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := payload.validate(); err != nil {
		h.writeError(c, err)
		return
	}

	now := h.now()
	sla := models.SLA{
		ID:              uuid.NewString(),
		Name:            payload.Name,
		Service:         payload.Service,
		Metric:          payload.Metric,
		Target:          payload.Target,
		Operator:        payload.Operator,
		Status:          models.StatusUnknown,
		RecoverySamples: payload.RecoverySamples,
		AtRiskBand:      payload.AtRiskBand,
		EscalationPath:  payload.EscalationPath,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.stores.SLAs.Create(c.Request.Context(), &sla); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.cache.Del(c.Request.Context(), slaListCacheKey); err != nil {
		h.logger.Debug("sla list cache invalidation failed", slog.Any("error", err))
	}
	c.JSON(http.StatusCreated, sla)
}

// listSLAs is a hot dashboard read and caches the whole collection. Writes go
// through createSLA/updateSLA, which drop the key; evaluator transitions ride
// out the short TTL.
func (h *Handler) listSLAs(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := h.cache.Get(ctx, slaListCacheKey); err == nil {
		var slas []models.SLA
		if err := json.Unmarshal(cached, &slas); err == nil {
			c.JSON(http.StatusOK, gin.H{"slas": slas, "count": len(slas)})
			return
		}
	}

	slas, err := h.stores.SLAs.List(ctx)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if payload, err := json.Marshal(slas); err == nil {
		if err := h.cache.Set(ctx, slaListCacheKey, payload, h.slaListTTL); err != nil {
			h.logger.Debug("sla list cache set failed", slog.Any("error", err))
		}
	}
	c.JSON(http.StatusOK, gin.H{"slas": slas, "count": len(slas)})
}

func (h *Handler) getSLA(c *gin.Context) {
	sla, err := h.stores.SLAs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sla)
}

// updateSLA rewrites operator-editable fields. Status and history stay derived
// state, owned by the evaluator.
func (h *Handler) updateSLA(c *gin.Context) {
	var payload slaPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := payload.validate(); err != nil {
		h.writeError(c, err)
		return
	}

	sla, err := h.stores.SLAs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	sla.Name = payload.Name
	sla.Service = payload.Service
	sla.Metric = payload.Metric
	sla.Target = payload.Target
	sla.Operator = payload.Operator
	sla.RecoverySamples = payload.RecoverySamples
	sla.AtRiskBand = payload.AtRiskBand
	sla.EscalationPath = payload.EscalationPath
	sla.UpdatedAt = h.now()

	if err := h.stores.SLAs.Update(c.Request.Context(), &sla); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.cache.Del(c.Request.Context(), slaListCacheKey); err != nil {
		h.logger.Debug("sla list cache invalidation failed", slog.Any("error", err))
	}
	c.JSON(http.StatusOK, sla)
}

// --- incidents ---

func (h *Handler) listIncidents(c *gin.Context) {
	filter := models.IncidentFilter{
		Service: c.Query("service"),
		Status:  models.IncidentStatus(c.Query("status")),
	}
	if v := c.Query("start"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start: " + err.Error()})
			return
		}
		filter.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end: " + err.Error()})
			return
		}
		filter.End = t
	}

	incidents, err := h.stores.Incidents.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

func (h *Handler) getIncident(c *gin.Context) {
	incident, err := h.stores.Incidents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	response := gin.H{"incident": incident}
	if incident.ClosedAt != nil {
		response["openMinutes"] = utils.DurationMinutes(incident.OpenedAt, *incident.ClosedAt)
	} else {
		response["openMinutes"] = utils.DurationMinutes(incident.OpenedAt, h.now())
	}
	c.JSON(http.StatusOK, response)
}

func (h *Handler) listIncidentEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.stores.Incidents.Get(c.Request.Context(), id); err != nil {
		h.writeError(c, err)
		return
	}
	events, err := h.stores.Audit.ListForEntity(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "count": len(events)})
}

func (h *Handler) addDependency(c *gin.Context) {
	var dep models.DependencyRef
	if err := c.ShouldBindJSON(&dep); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	incident, err := h.manager.AddDependency(c.Request.Context(), c.Param("id"), dep)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, incident)
}

type dependencyStatusRequest struct {
	Status models.DependencyStatus `json:"status"`
}

func (h *Handler) updateDependency(c *gin.Context) {
	var req dependencyStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	incident, err := h.manager.UpdateDependency(c.Request.Context(), c.Param("id"), c.Param("depId"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handler) bindOperator(c *gin.Context) (models.OperatorAction, bool) {
	var action models.OperatorAction
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return action, false
	}
	if action.Operator == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operator is required"})
		return action, false
	}
	return action, true
}

func (h *Handler) ackIncident(c *gin.Context) {
	action, ok := h.bindOperator(c)
	if !ok {
		return
	}
	incident, err := h.manager.Acknowledge(c.Request.Context(), c.Param("id"), action.Operator)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handler) resolveIncident(c *gin.Context) {
	action, ok := h.bindOperator(c)
	if !ok {
		return
	}
	incident, err := h.manager.Resolve(c.Request.Context(), c.Param("id"), action.Operator, action.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

func (h *Handler) cancelIncident(c *gin.Context) {
	action, ok := h.bindOperator(c)
	if !ok {
		return
	}
	incident, err := h.manager.Cancel(c.Request.Context(), c.Param("id"), action.Operator, action.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, incident)
}

// --- playbooks ---

type playbookPayload struct {
	Name    string           `json:"name"`
	Service string           `json:"service"`
	Trigger models.Condition `json:"triggerCondition"`
	Steps   []models.Step    `json:"steps"`
	Safety  models.Safety    `json:"safety"`
	Enabled *bool            `json:"enabled"`
}

func (p playbookPayload) validate() error {
	if p.Name == "" {
		return models.NewValidationError("name", "must not be empty")
	}
	if p.Service == "" {
		return models.NewValidationError("service", "must not be empty")
	}
	if p.Trigger.Metric != "" && !p.Trigger.Operator.Valid() {
		return models.NewValidationError("triggerCondition", "operator must be one of > < = !=")
	}
	if err := engine.ValidateSafety(p.Safety); err != nil {
		return err
	}
	return engine.ValidateSteps(p.Steps)
}

func (h *Handler) createPlaybook(c *gin.Context) {
	var payload playbookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := payload.validate(); err != nil {
		h.writeError(c, err)
		return
	}

	now := h.now()
	playbook := models.Playbook{
		ID:        uuid.NewString(),
		Name:      payload.Name,
		Service:   payload.Service,
		Trigger:   payload.Trigger,
		Steps:     payload.Steps,
		Safety:    payload.Safety,
		Enabled:   payload.Enabled == nil || *payload.Enabled,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.stores.Playbooks.Create(c.Request.Context(), &playbook); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, playbook)
}

func (h *Handler) listPlaybooks(c *gin.Context) {
	playbooks, err := h.stores.Playbooks.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"playbooks": playbooks, "count": len(playbooks)})
}

func (h *Handler) getPlaybook(c *gin.Context) {
	playbook, err := h.stores.Playbooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, playbook)
}

func (h *Handler) updatePlaybook(c *gin.Context) {
	var payload playbookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
		return
	}
	if err := payload.validate(); err != nil {
		h.writeError(c, err)
		return
	}

	playbook, err := h.stores.Playbooks.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	playbook.Name = payload.Name
	playbook.Service = payload.Service
	playbook.Trigger = payload.Trigger
	playbook.Steps = payload.Steps
	playbook.Safety = payload.Safety
	if payload.Enabled != nil {
		playbook.Enabled = *payload.Enabled
	}
	playbook.UpdatedAt = h.now()

	if err := h.stores.Playbooks.Update(c.Request.Context(), &playbook); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, playbook)
}

type executeRequest struct {
	IncidentID string `json:"incidentId"`
}

func (h *Handler) executePlaybook(c *gin.Context) {
	var req executeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json: " + err.Error()})
			return
		}
	}

	execution, err := h.executor.Execute(c.Request.Context(), c.Param("id"), req.IncidentID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	status := http.StatusOK
	if execution.Outcome == models.ExecutionPendingApproval {
		status = http.StatusAccepted
	}
	c.JSON(status, execution)
}

// --- executions ---

func (h *Handler) listExecutions(c *gin.Context) {
	filter := models.ExecutionFilter{
		PlaybookID: c.Query("playbookId"),
		Outcome:    models.ExecutionOutcome(c.Query("outcome")),
	}
	if v := c.Query("start"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start: " + err.Error()})
			return
		}
		filter.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := utils.ParseRFC3339(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end: " + err.Error()})
			return
		}
		filter.End = t
	}

	executions, err := h.stores.Executions.List(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions, "count": len(executions)})
}

func (h *Handler) getExecution(c *gin.Context) {
	execution, err := h.stores.Executions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *Handler) approveExecution(c *gin.Context) {
	action, ok := h.bindOperator(c)
	if !ok {
		return
	}
	execution, err := h.executor.Approve(c.Request.Context(), c.Param("id"), action.Operator)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

func (h *Handler) rejectExecution(c *gin.Context) {
	action, ok := h.bindOperator(c)
	if !ok {
		return
	}
	execution, err := h.executor.Reject(c.Request.Context(), c.Param("id"), action.Operator)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, execution)
}

// --- overview ---

// overview serves the dashboard aggregates, cached for a short TTL. Every
// number is recomputed from the stores; nothing on this path mutates state.
func (h *Handler) overview(c *gin.Context) {
	ctx := c.Request.Context()

	if cached, err := h.cache.Get(ctx, overviewCacheKey); err == nil {
		var overview models.Overview
		if err := json.Unmarshal(cached, &overview); err == nil {
			c.JSON(http.StatusOK, overview)
			return
		}
	}

	overview, err := h.buildOverview(c)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if payload, err := json.Marshal(overview); err == nil {
		if err := h.cache.Set(ctx, overviewCacheKey, payload, h.overviewTTL); err != nil {
			h.logger.Debug("overview cache set failed", slog.Any("error", err))
		}
	}
	c.JSON(http.StatusOK, overview)
}

func (h *Handler) buildOverview(c *gin.Context) (models.Overview, error) {
	ctx := c.Request.Context()

	overview := models.Overview{
		SLAStatusCounts:      make(map[models.SLAStatus]int),
		IncidentsBySeverity:  make(map[models.Severity]int),
		PlaybookSuccessRates: make(map[string]models.SuccessStats),
		GeneratedAt:          h.now(),
	}

	slas, err := h.stores.SLAs.List(ctx)
	if err != nil {
		return models.Overview{}, err
	}
	for _, sla := range slas {
		overview.SLAStatusCounts[sla.Status]++
		if sla.Status == models.StatusBreach {
			overview.BreachCount++
		}
	}

	open, err := h.stores.Incidents.ListOpen(ctx)
	if err != nil {
		return models.Overview{}, err
	}
	overview.OpenIncidents = len(open)
	for _, incident := range open {
		overview.IncidentsBySeverity[incident.Severity]++
	}

	playbooks, err := h.stores.Playbooks.List(ctx)
	if err != nil {
		return models.Overview{}, err
	}
	for _, playbook := range playbooks {
		executions, err := h.stores.Executions.List(ctx, models.ExecutionFilter{PlaybookID: playbook.ID})
		if err != nil {
			return models.Overview{}, err
		}
		stats := models.SuccessStats{}
		successes := 0
		for _, execution := range executions {
			if !execution.Outcome.Finished() {
				continue
			}
			stats.TotalExecutions++
			if execution.Outcome == models.ExecutionSuccess {
				successes++
			}
		}
		if stats.TotalExecutions > 0 {
			stats.SuccessRate = float64(successes) / float64(stats.TotalExecutions)
		}
		overview.PlaybookSuccessRates[playbook.Name] = stats
	}
	return overview, nil
}
