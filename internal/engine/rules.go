package engine

import (
	"errors"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// RuleEngine matches incoming samples against an operator-authored rule pack.
// Rules open incidents directly, independent of any registered SLA.
type RuleEngine struct {
	rules  []Rule
	logger *slog.Logger
}

// Rule fires when a sample for its service/metric violates the threshold.
type Rule struct {
	ID        string          `yaml:"id"`
	Service   string          `yaml:"service"`
	Metric    string          `yaml:"metric"`
	Operator  models.Operator `yaml:"operator"`
	Threshold float64         `yaml:"threshold"`
	Severity  models.Severity `yaml:"severity"`
	Summary   string          `yaml:"summary"`
	Playbook  string          `yaml:"playbook"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

// NewRuleEngine loads rules from the provided path. If path is empty or the
// file does not exist, returns a nil engine; callers treat nil as "no rules".
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleEngine{rules: cfg.Rules, logger: logger}, nil
}

// Match returns the rules the sample violates. The operator expresses the
// healthy condition, so a rule fires when Compare is false.
func (e *RuleEngine) Match(sample models.MetricSample) []Rule {
	if e == nil {
		return nil
	}

	var fired []Rule
	for _, rule := range e.rules {
		if !strings.EqualFold(rule.Service, sample.Service) || !strings.EqualFold(rule.Metric, sample.Metric) {
			continue
		}
		if rule.Operator.Compare(sample.Value, rule.Threshold) {
			continue
		}
		fired = append(fired, rule)
	}
	return fired
}
