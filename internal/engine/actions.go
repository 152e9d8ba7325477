package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// WebhookRunner dispatches remediation actions as JSON webhooks, one endpoint
// per step type. Undo posts to the same endpoint with the action reversed.
type WebhookRunner struct {
	commands map[string]string
	client   *http.Client
	logger   *slog.Logger
}

// NewWebhookRunner constructs a WebhookRunner from a step-type to URL map.
func NewWebhookRunner(logger *slog.Logger, commands map[string]string, timeout time.Duration) *WebhookRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebhookRunner{
		commands: commands,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type actionPayload struct {
	Action    string `json:"action"`
	StepType  string `json:"stepType"`
	Service   string `json:"service"`
	Incident  string `json:"incidentId,omitempty"`
	StepOrder int    `json:"stepOrder"`
}

// Run invokes the webhook configured for the step type.
func (r *WebhookRunner) Run(ctx context.Context, incident models.Incident, step models.Step) error {
	return r.post(ctx, "apply", incident, step)
}

// Undo invokes the webhook with the action reversed.
func (r *WebhookRunner) Undo(ctx context.Context, incident models.Incident, step models.Step) error {
	return r.post(ctx, "revert", incident, step)
}

func (r *WebhookRunner) post(ctx context.Context, action string, incident models.Incident, step models.Step) error {
	url, ok := r.commands[string(step.Type)]
	if !ok || url == "" {
		return fmt.Errorf("no action endpoint configured for step type %q", step.Type)
	}

	payload, err := json.Marshal(actionPayload{
		Action:    action,
		StepType:  string(step.Type),
		Service:   incident.Service,
		Incident:  incident.ID,
		StepOrder: step.Order,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("action %s %s: %w", action, step.Type, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("action %s %s: status %d", action, step.Type, resp.StatusCode)
	}

	r.logger.Debug("action dispatched",
		slog.String("action", action),
		slog.String("step_type", string(step.Type)),
		slog.String("service", incident.Service))
	return nil
}
