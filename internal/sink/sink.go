package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

// Notifier delivers one event to an alert channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event models.AuditEvent) error
}

// Sink is the append-only transition log plus best-effort alert dispatch.
// Recording never fails the originating state transition: storage or delivery
// problems are logged and retried, not propagated.
type Sink struct {
	audit     store.AuditEvents
	notifiers []Notifier
	logger    *slog.Logger
	now       func() time.Time

	retryInitial time.Duration
	retryMax     time.Duration
	maxAttempts  int
}

// Options tunes the redelivery schedule.
type Options struct {
	RetryInitial time.Duration
	RetryMax     time.Duration
	MaxAttempts  int
}

// New constructs a Sink over the audit store and alert channels.
func New(logger *slog.Logger, audit store.AuditEvents, opts Options, notifiers ...Notifier) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = 30 * time.Second
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 8
	}
	return &Sink{
		audit:        audit,
		notifiers:    notifiers,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		retryInitial: opts.RetryInitial,
		retryMax:     opts.RetryMax,
		maxAttempts:  opts.MaxAttempts,
	}
}

// SetClock overrides the time source; used by tests.
func (s *Sink) SetClock(now func() time.Time) {
	s.now = now
}

// Record appends the event idempotently. Notify events are left due for the
// next redelivery pass; delivery never runs inline with the transition that
// produced the event, so a slow channel cannot stall the state machine.
// Duplicate events (same entity, type, timestamp) are dropped without error.
func (s *Sink) Record(ctx context.Context, event models.AuditEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.Timestamp
	}

	inserted, err := s.audit.Append(ctx, &event)
	if err != nil {
		s.logger.Error("audit append failed",
			slog.String("entity_id", event.EntityID),
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
		return
	}
	if !inserted {
		s.logger.Debug("duplicate event dropped",
			slog.String("entity_id", event.EntityID),
			slog.String("event_type", string(event.Type)))
	}
}

// deliver tries every channel; the event is marked delivered when all
// channels accept it, otherwise rescheduled on the backoff curve.
func (s *Sink) deliver(ctx context.Context, event models.AuditEvent) {
	failed := false
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			failed = true
			metrics.ObserveNotification(metrics.OutcomeError)
			s.logger.Warn("notification delivery failed",
				slog.String("channel", notifier.Name()),
				slog.String("event_id", event.ID),
				slog.Any("error", err))
			continue
		}
		metrics.ObserveNotification(metrics.OutcomeSuccess)
	}

	if !failed {
		if err := s.audit.MarkDelivered(ctx, event.ID); err != nil {
			s.logger.Warn("mark delivered failed", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		return
	}

	attempts := event.Attempts + 1
	if attempts >= s.maxAttempts {
		// Give up but keep the audit row; the transition itself already
		// succeeded and the row records the delivery failure.
		s.logger.Error("notification abandoned after max attempts",
			slog.String("event_id", event.ID), slog.Int("attempts", attempts))
		if err := s.audit.MarkDelivered(ctx, event.ID); err != nil {
			s.logger.Warn("mark delivered failed", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		return
	}
	if err := s.audit.MarkAttempt(ctx, event.ID, attempts, s.now().Add(s.backoff(attempts))); err != nil {
		s.logger.Warn("mark attempt failed", slog.String("event_id", event.ID), slog.Any("error", err))
	}
}

func (s *Sink) backoff(attempts int) time.Duration {
	delay := s.retryInitial
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= s.retryMax {
			return s.retryMax
		}
	}
	if delay > s.retryMax {
		delay = s.retryMax
	}
	return delay
}

// RedeliverDue delivers undelivered notify events whose next attempt is due,
// including the first attempt for freshly recorded events. Called by the
// background sweeper, off the engine's critical path.
func (s *Sink) RedeliverDue(ctx context.Context) {
	due, err := s.audit.ListUndelivered(ctx, s.now())
	if err != nil {
		s.logger.Error("list undelivered failed", slog.Any("error", err))
		return
	}
	for _, event := range due {
		s.deliver(ctx, event)
	}
}
