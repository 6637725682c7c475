package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"guardian/core"
)

var severityColors = map[core.Severity]string{
	core.SeverityCritical: "#d32f2f",
	core.SeverityHigh:     "#f44336",
	core.SeverityMedium:   "#ff9800",
	core.SeverityLow:      "#2196f3",
}

// ChatChannel posts a formatted attachment to a chat webhook (Slack
// incoming-webhook wire format).
//
// Settings: webhook_url (required).
type ChatChannel struct {
	client *http.Client
	logger *zap.SugaredLogger
}

// NewChatChannel creates a chat adapter.
func NewChatChannel(logger *zap.SugaredLogger) *ChatChannel {
	return &ChatChannel{
		client: &http.Client{
			Timeout: webhookClientTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		logger: logger,
	}
}

func (c *ChatChannel) Name() string { return "chat" }

func (c *ChatChannel) Deliver(ctx context.Context, cfg core.ChannelConfig, msg Message) core.DeliveryResult {
	url := cfg.Settings["webhook_url"]
	if url == "" {
		return core.Failed("chat channel has no webhook_url configured")
	}

	color := severityColors[msg.Severity]
	if color == "" {
		color = "#757575"
	}

	fields := []map[string]interface{}{
		{"title": "Severity", "value": string(msg.Severity), "short": true},
		{"title": "Target", "value": fmt.Sprintf("%s %s", msg.TargetKind, msg.TargetID), "short": true},
	}
	payload := map[string]interface{}{
		"text": msg.Title,
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"fields": fields,
				"footer": "Guardian",
				"ts":     msg.OccurredAt.Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.Failed(fmt.Sprintf("failed to marshal chat payload: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return core.Failed(fmt.Sprintf("failed to build chat request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return core.Failed(fmt.Sprintf("chat request failed: %v", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debugw("Failed to close chat response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return core.Failed(fmt.Sprintf("chat webhook returned status %d", resp.StatusCode))
	}
	return core.Sent()
}
