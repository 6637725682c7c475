// Package incident promotes qualifying open alerts into incidents and
// cascades alert resolution back onto them. Bridging is best-effort: a
// transient failure leaves the source alerts untouched and the bridge
// retries on the next scheduled run.
package incident

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/metrics"
	"guardian/storage"
)

// recurrenceLookback bounds how far back recurrence counting goes.
const recurrenceLookback = 24 * time.Hour

// Bridge owns incident creation and mutation.
type Bridge struct {
	alerts    storage.AlertStore
	incidents storage.IncidentStore
	logger    *zap.SugaredLogger
}

// NewBridge creates an incident bridge.
func NewBridge(alerts storage.AlertStore, incidents storage.IncidentStore, logger *zap.SugaredLogger) *Bridge {
	return &Bridge{alerts: alerts, incidents: incidents, logger: logger}
}

// Params carries the tenant promotion thresholds.
type Params struct {
	// SeverityThreshold promotes any open alert at or above it.
	SeverityThreshold core.Severity
	// RecurrenceThreshold promotes an alert whose dedupe key recurred at
	// least this many times in the lookback window.
	RecurrenceThreshold int
}

// Promote scans the tenant's open alerts and creates incidents for those
// meeting the promotion criteria. Source alerts are acknowledged so they
// are not promoted twice. Errors on individual alerts are logged and
// skipped; only a storage failure on the initial read propagates.
func (b *Bridge) Promote(ctx context.Context, tenantID string, params Params, now time.Time) ([]core.Incident, error) {
	open, err := b.alerts.GetOpenAlerts(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	var created []core.Incident
	for i := range open {
		alert := &open[i]
		promote, err := b.qualifies(ctx, alert, params, now)
		if err != nil {
			b.logger.Warnw("Promotion check failed, alert deferred to next run",
				"tenant_id", tenantID,
				"alert_id", alert.ID,
				"error", err)
			continue
		}
		if !promote {
			continue
		}

		incident := core.Incident{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			SourceAlertIDs: []string{alert.ID},
			Status:         core.IncidentStatusOpen,
			CreatedAt:      now,
		}
		if err := b.incidents.InsertIncident(ctx, &incident); err != nil {
			// Best-effort: the alert stays open and visible; next run
			// retries the promotion.
			b.logger.Warnw("Incident creation failed, will retry next run",
				"tenant_id", tenantID,
				"alert_id", alert.ID,
				"error", err)
			continue
		}
		if err := b.alerts.UpdateAlertStatus(ctx, tenantID, alert.ID, core.AlertStatusAcknowledged, now); err != nil {
			b.logger.Warnw("Failed to acknowledge promoted alert",
				"tenant_id", tenantID,
				"alert_id", alert.ID,
				"incident_id", incident.ID,
				"error", err)
		}
		created = append(created, incident)
		metrics.IncidentsCreated.WithLabelValues(tenantID).Inc()
	}
	return created, nil
}

func (b *Bridge) qualifies(ctx context.Context, alert *core.AlertEvent, params Params, now time.Time) (bool, error) {
	if params.SeverityThreshold.IsValid() && alert.Severity.AtLeast(params.SeverityThreshold) {
		return true, nil
	}
	if params.RecurrenceThreshold < 1 {
		return false, nil
	}
	count, err := b.alerts.CountByDedupeKey(ctx, alert.TenantID, alert.DedupeKey, now.Add(-recurrenceLookback))
	if err != nil {
		return false, err
	}
	return count >= params.RecurrenceThreshold, nil
}

// CascadeResolve resolves every non-resolved incident whose source alerts
// are all resolved. Failures on individual incidents are logged and
// retried next run.
func (b *Bridge) CascadeResolve(ctx context.Context, tenantID string, now time.Time) (int, error) {
	open, err := b.incidents.GetOpenIncidents(ctx, tenantID)
	if err != nil {
		return 0, err
	}

	resolved := 0
	for i := range open {
		incident := &open[i]
		all, err := b.allSourcesResolved(ctx, incident)
		if err != nil {
			b.logger.Warnw("Cascade check failed, incident deferred",
				"tenant_id", tenantID,
				"incident_id", incident.ID,
				"error", err)
			continue
		}
		if !all {
			continue
		}
		if err := incident.TransitionTo(core.IncidentStatusResolved, now); err != nil {
			b.logger.Warnw("Invalid cascade transition",
				"incident_id", incident.ID,
				"status", incident.Status,
				"error", err)
			continue
		}
		if err := b.incidents.UpdateIncident(ctx, incident); err != nil {
			b.logger.Warnw("Failed to persist cascade resolution",
				"incident_id", incident.ID,
				"error", err)
			continue
		}
		resolved++
	}
	return resolved, nil
}

func (b *Bridge) allSourcesResolved(ctx context.Context, incident *core.Incident) (bool, error) {
	if len(incident.SourceAlertIDs) == 0 {
		return false, nil
	}
	for _, alertID := range incident.SourceAlertIDs {
		alert, err := b.alerts.GetAlert(ctx, incident.TenantID, alertID)
		if err != nil {
			return false, err
		}
		if alert.Status != core.AlertStatusResolved {
			return false, nil
		}
	}
	return true, nil
}
