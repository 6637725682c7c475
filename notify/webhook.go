package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"guardian/core"
)

const webhookClientTimeout = 10 * time.Second

// WebhookChannel posts the message as JSON to a configured URL.
//
// Settings: url (required), method (default POST), plus any key prefixed
// with "header." forwarded as an HTTP header.
type WebhookChannel struct {
	client *http.Client
	logger *zap.SugaredLogger
}

// NewWebhookChannel creates a webhook adapter with certificate validation
// enabled and TLS 1.2 as the floor.
func NewWebhookChannel(logger *zap.SugaredLogger) *WebhookChannel {
	return &WebhookChannel{
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

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Deliver(ctx context.Context, cfg core.ChannelConfig, msg Message) core.DeliveryResult {
	url := cfg.Settings["url"]
	if url == "" {
		return core.Failed("webhook channel has no url configured")
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return core.Failed(fmt.Sprintf("failed to marshal payload: %v", err))
	}

	method := cfg.Settings["method"]
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return core.Failed(fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Guardian/1.0")
	for key, value := range cfg.Settings {
		if name, ok := strings.CutPrefix(key, "header."); ok {
			req.Header.Set(name, value)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return core.Failed(fmt.Sprintf("webhook request failed: %v", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			w.logger.Debugw("Failed to close webhook response body", "error", err)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return core.Failed(fmt.Sprintf("webhook returned status %d", resp.StatusCode))
	}
	return core.Sent()
}
