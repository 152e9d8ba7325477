package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// Config captures the settings required to boot the sentinel engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Logging    LoggingConfig    `yaml:"logging"`
	Rules      RulesConfig      `yaml:"rules"`
	Cache      CacheConfig      `yaml:"cache"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator"`
	Escalation EscalationConfig `yaml:"escalation"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Notifier   NotifierConfig   `yaml:"notifier"`
}

// ServerConfig controls the REST and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig configures the Postgres entity stores. When disabled the
// engine runs on in-memory stores.
type DatabaseConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	SchemaPath string `yaml:"schemaPath"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls breach rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls Valkey-backed caching of dashboard reads.
// Mode is one of "off", "memory", "valkey".
type CacheConfig struct {
	Mode         string        `yaml:"mode"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	OverviewTTL  time.Duration `yaml:"overviewTTL"`
	SLAListTTL   time.Duration `yaml:"slaListTTL"`
}

// IngestConfig bounds the rolling metric window.
type IngestConfig struct {
	MaxSamples int           `yaml:"maxSamples"`
	MaxAge     time.Duration `yaml:"maxAge"`
}

// EvaluatorConfig tunes hysteresis.
type EvaluatorConfig struct {
	// RecoverySamples is the default K: consecutive satisfying samples
	// required before a move to a less severe status lands.
	RecoverySamples int `yaml:"recoverySamples"`
	// AtRiskBand is the default fractional band around the target treated
	// as at-risk while still satisfying the operator.
	AtRiskBand float64 `yaml:"atRiskBand"`
}

// EscalationConfig drives the timeout sweep and the default ownership path.
type EscalationConfig struct {
	SweepInterval time.Duration           `yaml:"sweepInterval"`
	DefaultPath   []models.EscalationStep `yaml:"defaultPath"`
}

// ExecutorConfig configures remediation action dispatch.
type ExecutorConfig struct {
	// ActionCommands maps a step type to the webhook invoked for it.
	ActionCommands map[string]string `yaml:"actionCommands"`
	ActionTimeout  time.Duration     `yaml:"actionTimeout"`
}

// NotifierConfig configures alert channels and redelivery.
type NotifierConfig struct {
	SendGridAPIKey  string        `yaml:"sendgridApiKey"`
	AlertEmail      string        `yaml:"alertEmail"`
	SlackWebhookURL string        `yaml:"slackWebhookUrl"`
	RetryInitial    time.Duration `yaml:"retryInitial"`
	RetryMax        time.Duration `yaml:"retryMax"`
	MaxAttempts     int           `yaml:"maxAttempts"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SENTINEL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Enabled:    false,
			SchemaPath: "configs/schema.sql",
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Mode:         "off",
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			OverviewTTL:  15 * time.Second,
			SLAListTTL:   15 * time.Second,
		},
		Ingest: IngestConfig{
			MaxSamples: 1024,
			MaxAge:     time.Hour,
		},
		Evaluator: EvaluatorConfig{
			RecoverySamples: 3,
			AtRiskBand:      0.10,
		},
		Escalation: EscalationConfig{
			SweepInterval: 5 * time.Second,
			DefaultPath: []models.EscalationStep{
				{Level: 1, Owner: "oncall-primary", TimeoutMinutes: 15},
				{Level: 2, Owner: "oncall-secondary", TimeoutMinutes: 30},
				{Level: 3, Owner: "team-lead", TimeoutMinutes: 60},
				{Level: 4, Owner: "engineering-manager", TimeoutMinutes: 120},
				{Level: 5, Owner: "director", TimeoutMinutes: 240},
			},
		},
		Executor: ExecutorConfig{
			ActionTimeout: 30 * time.Second,
		},
		Notifier: NotifierConfig{
			RetryInitial: 30 * time.Second,
			RetryMax:     10 * time.Minute,
			MaxAttempts:  8,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SENTINEL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SENTINEL_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("SENTINEL_DATABASE_SCHEMA"); v != "" {
		cfg.Database.SchemaPath = v
	}
	if v := os.Getenv("SENTINEL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENTINEL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SENTINEL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SENTINEL_CACHE_MODE"); v != "" {
		cfg.Cache.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("SENTINEL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("SENTINEL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("SENTINEL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("SENTINEL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("SENTINEL_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("SENTINEL_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Escalation.SweepInterval = d
		}
	}
	if v := os.Getenv("SENTINEL_RECOVERY_SAMPLES"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			cfg.Evaluator.RecoverySamples = k
		}
	}
	if v := os.Getenv("SENTINEL_SENDGRID_API_KEY"); v != "" {
		cfg.Notifier.SendGridAPIKey = v
	}
	if v := os.Getenv("SENTINEL_ALERT_EMAIL"); v != "" {
		cfg.Notifier.AlertEmail = v
	}
	if v := os.Getenv("SENTINEL_SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notifier.SlackWebhookURL = v
	}
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Database.Enabled && c.Database.URL == "" {
		return fmt.Errorf("database enabled but no url configured")
	}
	if c.Evaluator.RecoverySamples < 1 {
		return fmt.Errorf("evaluator.recoverySamples must be at least 1")
	}
	if c.Evaluator.AtRiskBand < 0 || c.Evaluator.AtRiskBand >= 1 {
		return fmt.Errorf("evaluator.atRiskBand must be in [0,1)")
	}
	if c.Escalation.SweepInterval <= 0 {
		return fmt.Errorf("escalation.sweepInterval must be positive")
	}
	seen := make(map[int]bool, len(c.Escalation.DefaultPath))
	for _, step := range c.Escalation.DefaultPath {
		if step.Level < 1 || seen[step.Level] {
			return fmt.Errorf("escalation.defaultPath has invalid or duplicate level %d", step.Level)
		}
		seen[step.Level] = true
	}
	switch c.Cache.Mode {
	case "", "off", "memory", "valkey":
	default:
		return fmt.Errorf("cache.mode must be off, memory or valkey")
	}
	return nil
}
