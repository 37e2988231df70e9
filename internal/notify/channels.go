package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/yegors/co-atc-safety/internal/safety"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

// Notification is what a channel delivers
type Notification struct {
	Message
	Event safety.SafetyEvent `json:"event"`
}

// Channel is one notification destination
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// WebhookChannel posts notifications as JSON
type WebhookChannel struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(name, url string, timeout time.Duration) *WebhookChannel {
	return &WebhookChannel{
		name:       name,
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Channel
func (c *WebhookChannel) Name() string { return c.name }

// Send implements Channel
func (c *WebhookChannel) Send(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", c.name, resp.StatusCode)
	}
	return nil
}

// LogChannel writes notifications to the log
type LogChannel struct {
	logger *logger.Logger
}

// NewLogChannel creates a log channel
func NewLogChannel(log *logger.Logger) *LogChannel {
	return &LogChannel{logger: log.Named("alerts")}
}

// Name implements Channel
func (c *LogChannel) Name() string { return "log" }

// Send implements Channel
func (c *LogChannel) Send(_ context.Context, n Notification) error {
	fields := []logger.Field{
		logger.String("event_type", string(n.Event.Type)),
		logger.String("severity", string(n.Event.Severity)),
		logger.Hex(n.Event.Primary.Hex),
		logger.Callsign(n.Event.Primary.Callsign),
		logger.String("body", n.Body),
	}
	if n.Event.Secondary != nil {
		fields = append(fields, logger.String("other_hex", n.Event.Secondary.Hex))
	}
	if n.Event.Severity == safety.SeverityCritical {
		c.logger.Warn(n.Title, fields...)
		return nil
	}
	c.logger.Info(n.Title, fields...)
	return nil
}
