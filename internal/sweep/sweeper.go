package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/sink"
)

// Sweeper periodically advances escalation timeouts and retries undelivered
// notifications. One goroutine, one ticker; each tick recovers from panics so
// a bad incident record cannot kill the loop.
type Sweeper struct {
	manager  *engine.Manager
	sink     *sink.Sink
	interval time.Duration
	logger   *slog.Logger
	done     chan struct{}
}

// New constructs a Sweeper.
func New(logger *slog.Logger, manager *engine.Manager, auditSink *sink.Sink, interval time.Duration) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sweeper{
		manager:  manager,
		sink:     auditSink,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("escalation sweeper started", slog.Duration("interval", s.interval))
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("escalation sweeper stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Wait blocks until the sweep loop has exited.
func (s *Sweeper) Wait() {
	<-s.done
}

func (s *Sweeper) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep tick panicked", slog.Any("panic", r))
		}
	}()

	escalated, err := s.manager.Sweep(ctx)
	if err != nil {
		s.logger.Error("escalation sweep failed", slog.Any("error", err))
	} else if escalated > 0 {
		s.logger.Info("escalation sweep applied", slog.Int("escalated", escalated))
	}

	if s.sink != nil {
		s.sink.RedeliverDue(ctx)
	}
}
