package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/sink"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

// IncidentOpener is implemented by the escalation manager; the evaluator
// calls it when an SLA transitions into breach.
type IncidentOpener interface {
	OpenForSLA(ctx context.Context, sla models.SLA, value float64, change models.SLAStatusChange) (models.Incident, error)
}

// Evaluator applies SLA thresholds to incoming samples with hysteresis.
// Status moves to a more severe state on the first violating sample; a move
// to a less severe state lands only after K consecutive satisfying samples
// have confirmed the recovery (fail-fast, recover-slow).
type Evaluator struct {
	slas    store.SLAs
	samples *ingest.Store
	sink    *sink.Sink
	opener  IncidentOpener
	logger  *slog.Logger

	defaultRecovery int
	defaultBand     float64

	mu      sync.Mutex
	streaks map[string]int
}

// NewEvaluator constructs an Evaluator.
func NewEvaluator(
	logger *slog.Logger,
	slas store.SLAs,
	samples *ingest.Store,
	auditSink *sink.Sink,
	opener IncidentOpener,
	defaultRecovery int,
	defaultBand float64,
) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultRecovery < 1 {
		defaultRecovery = 3
	}
	return &Evaluator{
		slas:            slas,
		samples:         samples,
		sink:            auditSink,
		opener:          opener,
		logger:          logger,
		defaultRecovery: defaultRecovery,
		defaultBand:     defaultBand,
		streaks:         make(map[string]int),
	}
}

// Evaluate ingests one sample and returns the SLA status changes it caused.
// Malformed samples are rejected with a ValidationError and never stored.
func (e *Evaluator) Evaluate(ctx context.Context, sample models.MetricSample) ([]models.SLAStatusChange, error) {
	if err := e.samples.Append(sample); err != nil {
		metrics.ObserveSample(metrics.OutcomeRejected)
		e.logger.Warn("sample rejected",
			slog.String("service", sample.Service),
			slog.String("metric", sample.Metric),
			slog.Any("error", err))
		return nil, err
	}
	metrics.ObserveSample(metrics.OutcomeSuccess)

	slas, err := e.slas.ListByKey(ctx, sample.Service, sample.Metric)
	if err != nil {
		return nil, fmt.Errorf("lookup slas: %w", err)
	}

	var changes []models.SLAStatusChange
	for _, sla := range slas {
		change, err := e.evaluateOne(ctx, sla, sample)
		if err != nil {
			e.logger.Error("sla evaluation failed", slog.String("sla_id", sla.ID), slog.Any("error", err))
			continue
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, nil
}

func (e *Evaluator) evaluateOne(ctx context.Context, sla models.SLA, sample models.MetricSample) (*models.SLAStatusChange, error) {
	next, apply := e.nextStatus(sla, sample.Value)
	if !apply {
		return nil, nil
	}

	change := models.SLAStatusChange{
		SLAID: sla.ID,
		From:  sla.Status,
		To:    next,
		Value: sample.Value,
		At:    sample.Timestamp,
	}

	if err := e.persist(ctx, sla.ID, change); err != nil {
		return nil, err
	}
	metrics.ObserveTransition(string(next))

	e.logger.Info("sla status changed",
		slog.String("sla_id", sla.ID),
		slog.String("service", sla.Service),
		slog.String("metric", sla.Metric),
		slog.String("from", string(change.From)),
		slog.String("to", string(next)),
		slog.Float64("value", sample.Value))

	if e.sink != nil {
		e.sink.Record(ctx, models.AuditEvent{
			EntityKind: "sla",
			EntityID:   sla.ID,
			Type:       models.EventSLAStatusChanged,
			Timestamp:  sample.Timestamp,
			Message:    fmt.Sprintf("%s/%s moved %s -> %s at value %g", sla.Service, sla.Metric, change.From, next, sample.Value),
			Notify:     next == models.StatusBreach,
		})
	}

	if next == models.StatusBreach && e.opener != nil {
		if _, err := e.opener.OpenForSLA(ctx, sla, sample.Value, change); err != nil {
			e.logger.Error("incident open failed", slog.String("sla_id", sla.ID), slog.Any("error", err))
		}
	}
	return &change, nil
}

// nextStatus decides whether the sample changes the SLA status. The K
// confirming samples must precede the change: the transition lands on the
// first satisfying sample after a streak of K.
func (e *Evaluator) nextStatus(sla models.SLA, value float64) (models.SLAStatus, bool) {
	cand := e.candidate(sla, value)
	current := sla.Status

	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case current == models.StatusUnknown:
		delete(e.streaks, sla.ID)
		return cand, true
	case cand.Rank() > current.Rank():
		delete(e.streaks, sla.ID)
		return cand, true
	case cand.Rank() == current.Rank():
		delete(e.streaks, sla.ID)
		return current, false
	default:
		k := sla.RecoverySamples
		if k <= 0 {
			k = e.defaultRecovery
		}
		streak := e.streaks[sla.ID]
		if streak >= k {
			delete(e.streaks, sla.ID)
			return cand, true
		}
		e.streaks[sla.ID] = streak + 1
		return current, false
	}
}

// candidate computes the raw status for a single value, ignoring hysteresis.
func (e *Evaluator) candidate(sla models.SLA, value float64) models.SLAStatus {
	if !sla.Operator.Compare(value, sla.Target) {
		return models.StatusBreach
	}

	band := sla.AtRiskBand
	if band <= 0 {
		band = e.defaultBand
	}
	// The at-risk band only makes sense for ordered comparisons.
	if band > 0 && (sla.Operator == models.OpGreater || sla.Operator == models.OpLess) {
		margin := math.Abs(sla.Target) * band
		if margin > 0 && math.Abs(value-sla.Target) <= margin {
			return models.StatusAtRisk
		}
	}
	return models.StatusMeeting
}

// persist applies the change to the stored SLA, retrying on version races
// with concurrent operator edits.
func (e *Evaluator) persist(ctx context.Context, slaID string, change models.SLAStatusChange) error {
	for attempt := 0; attempt < 3; attempt++ {
		current, err := e.slas.Get(ctx, slaID)
		if err != nil {
			return err
		}
		current.Status = change.To
		current.History = append(current.History, change)
		current.UpdatedAt = change.At

		err = e.slas.Update(ctx, &current)
		if err == nil {
			return nil
		}
		if err != store.ErrVersionConflict {
			return err
		}
	}
	return fmt.Errorf("sla %s: too many version conflicts", slaID)
}
