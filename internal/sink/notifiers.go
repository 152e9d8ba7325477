package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/miradorstack/mirador-sentinel/internal/models"
)

// EmailNotifier sends alert events through SendGrid to the owner of the
// current escalation level, falling back to the configured alert address.
type EmailNotifier struct {
	apiKey     string
	alertEmail string
	send       func(message *mail.SGMailV3) (int, error)
}

// NewEmailNotifier constructs an EmailNotifier.
func NewEmailNotifier(apiKey, alertEmail string) *EmailNotifier {
	n := &EmailNotifier{apiKey: apiKey, alertEmail: alertEmail}
	n.send = func(message *mail.SGMailV3) (int, error) {
		client := sendgrid.NewSendClient(n.apiKey)
		response, err := client.Send(message)
		if err != nil {
			return 0, err
		}
		return response.StatusCode, nil
	}
	return n
}

// Name identifies the channel in logs.
func (n *EmailNotifier) Name() string { return "email" }

// Notify sends the event as a plain-text alert email.
func (n *EmailNotifier) Notify(_ context.Context, event models.AuditEvent) error {
	if n.apiKey == "" || n.alertEmail == "" {
		return fmt.Errorf("sendgrid not configured")
	}

	recipient := event.Owner
	if recipient == "" {
		recipient = n.alertEmail
	}

	subject := fmt.Sprintf("[%s] %s", event.Type, event.EntityID)
	body := fmt.Sprintf(`%s

Entity: %s (%s)
Time: %s

%s`, subject, event.EntityID, event.EntityKind, event.Timestamp.Format(time.RFC3339), event.Message)
	for k, v := range event.Details {
		body += fmt.Sprintf("\n%s: %s", k, v)
	}

	from := mail.NewEmail("Mirador Sentinel", n.alertEmail)
	to := mail.NewEmail(recipient, recipient)
	message := mail.NewSingleEmail(from, subject, to, body, body)

	status, err := n.send(message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("sendgrid send: status %d", status)
	}
	return nil
}

// SlackNotifier posts alert events to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier constructs a SlackNotifier.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel in logs.
func (n *SlackNotifier) Name() string { return "slack" }

// Notify posts the event as a webhook message.
func (n *SlackNotifier) Notify(ctx context.Context, event models.AuditEvent) error {
	if n.webhookURL == "" {
		return fmt.Errorf("slack webhook not configured")
	}

	text := fmt.Sprintf("*%s* %s\n%s", event.Type, event.EntityID, event.Message)
	if event.Owner != "" {
		text += fmt.Sprintf("\nOwner: %s", event.Owner)
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack post: status %d", resp.StatusCode)
	}
	return nil
}
