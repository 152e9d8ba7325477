package engine

import (
	"context"
	"log/slog"

	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/store"
)

// Processor is the ingest pipeline: each sample runs through SLA evaluation,
// the breach rule pack, and playbook trigger matching, in that order.
type Processor struct {
	evaluator *Evaluator
	rules     *RuleEngine
	manager   *Manager
	executor  *Executor
	playbooks store.Playbooks
	logger    *slog.Logger
}

// NewProcessor wires the per-sample pipeline together. rules may be nil.
func NewProcessor(
	logger *slog.Logger,
	evaluator *Evaluator,
	rules *RuleEngine,
	manager *Manager,
	executor *Executor,
	playbooks store.Playbooks,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		evaluator: evaluator,
		rules:     rules,
		manager:   manager,
		executor:  executor,
		playbooks: playbooks,
		logger:    logger,
	}
}

// ProcessSample applies one sample to the whole engine. Validation errors are
// returned to the caller; downstream failures are logged and isolated so a
// broken rule or playbook never rejects valid telemetry.
func (p *Processor) ProcessSample(ctx context.Context, sample models.MetricSample) ([]models.SLAStatusChange, error) {
	changes, err := p.evaluator.Evaluate(ctx, sample)
	if err != nil {
		return nil, err
	}

	p.applyRules(ctx, sample)
	p.triggerPlaybooks(ctx, sample)
	return changes, nil
}

// applyRules opens incidents for fired rules, suppressing duplicates while an
// incident for the same rule is still open.
func (p *Processor) applyRules(ctx context.Context, sample models.MetricSample) {
	for _, rule := range p.rules.Match(sample) {
		open, err := p.manager.HasOpenForRule(ctx, rule.ID)
		if err != nil {
			p.logger.Error("rule dedup check failed", slog.String("rule_id", rule.ID), slog.Any("error", err))
			continue
		}
		if open {
			continue
		}

		summary := rule.Summary
		if summary == "" {
			summary = rule.ID
		}
		incident, err := p.manager.Open(ctx, OpenParams{
			SourceRuleID: rule.ID,
			Service:      sample.Service,
			Metric:       sample.Metric,
			Summary:      summary,
			Severity:     rule.Severity,
			OpenedAt:     sample.Timestamp,
		})
		if err != nil {
			p.logger.Error("rule incident open failed", slog.String("rule_id", rule.ID), slog.Any("error", err))
			continue
		}

		if rule.Playbook != "" {
			playbook, err := p.playbooks.GetByName(ctx, rule.Playbook)
			if err != nil {
				p.logger.Warn("rule references unknown playbook",
					slog.String("rule_id", rule.ID), slog.String("playbook", rule.Playbook))
				continue
			}
			p.execute(ctx, playbook.ID, incident.ID)
		}
	}
}

// triggerPlaybooks runs enabled playbooks whose trigger condition the sample
// meets, attached to an open incident for the service when one exists.
func (p *Processor) triggerPlaybooks(ctx context.Context, sample models.MetricSample) {
	candidates, err := p.playbooks.FindByTrigger(ctx, sample.Service, sample.Metric)
	if err != nil {
		p.logger.Error("playbook trigger lookup failed",
			slog.String("service", sample.Service), slog.Any("error", err))
		return
	}

	var incidentID string
	for _, playbook := range candidates {
		if !playbook.Enabled || !playbook.Trigger.Met(sample.Value) {
			continue
		}
		if incidentID == "" {
			incidentID = p.openIncidentID(ctx, sample.Service)
		}
		p.execute(ctx, playbook.ID, incidentID)
	}
}

func (p *Processor) openIncidentID(ctx context.Context, service string) string {
	open, err := p.manager.incidents.ListOpen(ctx)
	if err != nil {
		return ""
	}
	for _, incident := range open {
		if incident.Service == service {
			return incident.ID
		}
	}
	return ""
}

// execute runs the playbook asynchronously; safety refusals are routine and
// logged at debug.
func (p *Processor) execute(ctx context.Context, playbookID, incidentID string) {
	go func() {
		_, err := p.executor.Execute(context.WithoutCancel(ctx), playbookID, incidentID)
		if err == nil {
			return
		}
		if models.IsPrecondition(err) {
			p.logger.Debug("playbook execution refused",
				slog.String("playbook_id", playbookID), slog.Any("error", err))
			return
		}
		p.logger.Error("playbook execution failed",
			slog.String("playbook_id", playbookID), slog.Any("error", err))
	}()
}
