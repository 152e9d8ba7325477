package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/cache"
	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/engine"
	"github.com/miradorstack/mirador-sentinel/internal/ingest"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/sink"
	"github.com/miradorstack/mirador-sentinel/internal/store"
	"github.com/miradorstack/mirador-sentinel/internal/sweep"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-sentinel", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	switch cfg.Cache.Mode {
	case "memory":
		cacheProvider = cache.NewMemoryProvider()
	case "valkey":
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, falling back to noop", slog.Any("error", err))
		} else {
			cacheProvider = provider
		}
	}
	defer cacheProvider.Close()

	stores := store.NewMemoryStores()
	if cfg.Database.Enabled {
		db, err := store.OpenPostgres(cfg.Database.URL, cfg.Database.SchemaPath)
		if err != nil {
			logger.Error("failed to open database", slog.Any("error", err))
			os.Exit(1)
		}
		defer db.Close()
		stores = store.NewPostgresStores(db)
		logger.Info("using postgres stores")
	} else {
		logger.Info("using in-memory stores")
	}

	var notifiers []sink.Notifier
	if cfg.Notifier.SendGridAPIKey != "" && cfg.Notifier.AlertEmail != "" {
		notifiers = append(notifiers, sink.NewEmailNotifier(cfg.Notifier.SendGridAPIKey, cfg.Notifier.AlertEmail))
	}
	if cfg.Notifier.SlackWebhookURL != "" {
		notifiers = append(notifiers, sink.NewSlackNotifier(cfg.Notifier.SlackWebhookURL))
	}
	auditSink := sink.New(logger, stores.Audit, sink.Options{
		RetryInitial: cfg.Notifier.RetryInitial,
		RetryMax:     cfg.Notifier.RetryMax,
		MaxAttempts:  cfg.Notifier.MaxAttempts,
	}, notifiers...)

	samples := ingest.NewStore(cfg.Ingest.MaxSamples, cfg.Ingest.MaxAge)

	ruleEngine, err := engine.NewRuleEngine(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}
	if ruleEngine == nil {
		logger.Info("no breach rule pack loaded", slog.String("path", cfg.Rules.Path))
	}

	manager := engine.NewManager(logger, stores.Incidents, auditSink, cfg.Escalation.DefaultPath)
	evaluator := engine.NewEvaluator(logger, stores.SLAs, samples, auditSink, manager,
		cfg.Evaluator.RecoverySamples, cfg.Evaluator.AtRiskBand)
	runner := engine.NewWebhookRunner(logger, cfg.Executor.ActionCommands, cfg.Executor.ActionTimeout)
	executor := engine.NewExecutor(logger, stores.Playbooks, stores.Executions, stores.Incidents,
		auditSink, runner, samples)
	processor := engine.NewProcessor(logger, evaluator, ruleEngine, manager, executor, stores.Playbooks)

	handler := api.NewHandler(logger, stores, samples, processor, manager, executor,
		cacheProvider, cfg.Cache.OverviewTTL, cfg.Cache.SLAListTTL)
	server := api.NewServer(logger, cfg.Server.Address, handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := sweep.New(logger, manager, auditSink, cfg.Escalation.SweepInterval)
	sweeper.Start(ctx)

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("rest server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rest server shutdown", slog.Any("error", err))
	}

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	sweeper.Wait()
	logger.Info("mirador-sentinel stopped")
}
