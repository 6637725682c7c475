// Package notify fans alerts and incidents out to tenant-configured
// channel adapters. Delivery is best-effort with bounded retries; a
// failed delivery is recorded on its NotificationRecord and never
// propagates into the evaluation pipeline.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"guardian/core"
)

// Message is the uniform payload handed to every channel adapter.
type Message struct {
	TenantID   string                 `json:"tenant_id"`
	TargetID   string                 `json:"target_id"`
	TargetKind core.TargetKind        `json:"target_kind"`
	Title      string                 `json:"title"`
	Severity   core.Severity          `json:"severity"`
	Body       map[string]interface{} `json:"body,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Channel delivers one message through one transport. Adapters report
// failure as a DeliveryResult value, never as a pipeline error.
type Channel interface {
	Name() string
	Deliver(ctx context.Context, cfg core.ChannelConfig, msg Message) core.DeliveryResult
}

// Registry maps channel type names to adapters.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry creates an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register adds an adapter under its name, replacing any previous one.
func (r *Registry) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Lookup returns the adapter for a channel type.
func (r *Registry) Lookup(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ch, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("unknown channel type %q", name)
	}
	return ch, nil
}

// AlertMessage builds the notification payload for a new alert.
func AlertMessage(alert *core.AlertEvent) Message {
	return Message{
		TenantID:   alert.TenantID,
		TargetID:   alert.ID,
		TargetKind: core.TargetAlert,
		Title:      fmt.Sprintf("[%s] Alert from rule %s", alert.Severity, alert.RuleID),
		Severity:   alert.Severity,
		Body: map[string]interface{}{
			"rule_id":           alert.RuleID,
			"matched_event_ids": alert.MatchedEventIDs,
			"matched_fields":    alert.MatchedFields,
			"status":            alert.Status,
		},
		OccurredAt: alert.TriggeredAt,
	}
}

// IncidentMessage builds the notification payload for a new incident.
func IncidentMessage(incident *core.Incident, severity core.Severity) Message {
	return Message{
		TenantID:   incident.TenantID,
		TargetID:   incident.ID,
		TargetKind: core.TargetIncident,
		Title:      fmt.Sprintf("[%s] Incident %s opened", severity, incident.ID),
		Severity:   severity,
		Body: map[string]interface{}{
			"source_alert_ids": incident.SourceAlertIDs,
			"status":           incident.Status,
		},
		OccurredAt: incident.CreatedAt,
	}
}
