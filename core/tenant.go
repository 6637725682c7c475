package core

import "time"

// ChannelConfig selects and parameterizes one notification channel
// adapter for a tenant. Settings are opaque to the engine and interpreted
// by the adapter (webhook URL, SMTP host, chat room and so on).
type ChannelConfig struct {
	ID       string            `json:"id"`
	Type     string            `json:"type" validate:"required"`
	Enabled  bool              `json:"enabled"`
	Settings map[string]string `json:"settings"`
}

// TenantSettings drives one tenant's evaluation schedule and thresholds.
type TenantSettings struct {
	TenantID                 string          `json:"tenant_id" validate:"required"`
	Enabled                  bool            `json:"enabled"`
	EvalIntervalSeconds      int             `json:"eval_interval_seconds" validate:"gte=0"`
	CorrelationWindowMinutes int             `json:"correlation_window_minutes" validate:"gte=0"`
	MinLinkCount             int             `json:"min_link_count" validate:"gte=1"`
	SeverityThreshold        Severity        `json:"severity_threshold"`
	RecurrenceThreshold      int             `json:"recurrence_threshold" validate:"gte=1"`
	Channels                 []ChannelConfig `json:"channels"`
}

// EvalInterval returns the evaluation interval, falling back to the given
// default when unset.
func (t *TenantSettings) EvalInterval(def time.Duration) time.Duration {
	if t.EvalIntervalSeconds <= 0 {
		return def
	}
	return time.Duration(t.EvalIntervalSeconds) * time.Second
}

// CorrelationWindow returns the rolling correlation window, falling back
// to the given default when unset.
func (t *TenantSettings) CorrelationWindow(def time.Duration) time.Duration {
	if t.CorrelationWindowMinutes <= 0 {
		return def
	}
	return time.Duration(t.CorrelationWindowMinutes) * time.Minute
}
