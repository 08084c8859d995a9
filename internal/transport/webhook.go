package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/biztrack/notifier/internal/model"
)

// WebhookSender posts notification content as JSON to the URL in the
// channel config.
type WebhookSender struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(logger *zap.Logger) *WebhookSender {
	return &WebhookSender{
		logger: logger.Named("webhook-sender"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type webhookPayload struct {
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	HTMLBody   string            `json:"html_body,omitempty"`
	Recipients []model.Recipient `json:"recipients,omitempty"`
}

// Send implements dispatch.Sender.
func (s *WebhookSender) Send(ctx context.Context, channel model.Channel, recipients []model.Recipient, content model.Content) error {
	url := channel.Config["url"]
	if url == "" {
		return fmt.Errorf("webhook channel has no url configured")
	}

	data, err := json.Marshal(webhookPayload{
		Subject:    content.Subject,
		Body:       content.Body,
		HTMLBody:   content.HTMLBody,
		Recipients: recipients,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range channel.Config {
		if key == "url" {
			continue
		}
		req.Header.Set(key, value)
	}

	s.logger.Info("Posting webhook", zap.String("url", url))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackSender posts the rendered body as a Slack incoming-webhook
// message. Teams incoming webhooks accept the same shape.
type SlackSender struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewSlackSender creates a Slack webhook sender.
func NewSlackSender(logger *zap.Logger) *SlackSender {
	return &SlackSender{
		logger: logger.Named("slack-sender"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Send implements dispatch.Sender.
func (s *SlackSender) Send(ctx context.Context, channel model.Channel, _ []model.Recipient, content model.Content) error {
	url := channel.Config["webhook_url"]
	if url == "" {
		return fmt.Errorf("slack channel has no webhook_url configured")
	}

	text := content.Subject
	if content.Body != "" {
		text = content.Subject + "\n" + content.Body
	}
	data, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
