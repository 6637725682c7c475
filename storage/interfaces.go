// Package storage persists every pipeline entity. All queries and writes
// are tenant-scoped; no method may ever return or touch another tenant's
// rows. Genuine storage failures are returned as *core.PersistenceError,
// which is the only error category that aborts a tenant run.
package storage

import (
	"context"
	"time"

	"guardian/core"
)

// TenantStore holds per-tenant evaluation settings. The scheduler reads
// the tenant list; settings contain no tenant telemetry.
type TenantStore interface {
	GetTenants(ctx context.Context) ([]core.TenantSettings, error)
	GetTenant(ctx context.Context, tenantID string) (*core.TenantSettings, error)
	UpsertTenant(ctx context.Context, settings *core.TenantSettings) error
}

// RuleStore holds validated rule definitions. Read-only to the pipeline;
// writes come from the rule-management collaborator.
type RuleStore interface {
	GetEnabledRules(ctx context.Context, tenantID string) ([]core.Rule, error)
	GetRule(ctx context.Context, tenantID, id string) (*core.Rule, error)
	CreateRule(ctx context.Context, rule *core.Rule) error
	UpdateRule(ctx context.Context, rule *core.Rule) error
	DeleteRule(ctx context.Context, tenantID, id string) error
}

// EventStore holds ingested telemetry. Append-only; read-only to the
// pipeline.
type EventStore interface {
	InsertEvent(ctx context.Context, event *core.Event) error
	GetEventsBetween(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]core.Event, error)
}

// AlertStore persists alert events. Inserted exclusively by the alert
// emitter; status updates come from the incident bridge or manual action.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *core.AlertEvent) error
	FindOpenByDedupeKey(ctx context.Context, tenantID, ruleID, dedupeKey string, since time.Time) ([]core.AlertEvent, error)
	CountByDedupeKey(ctx context.Context, tenantID, dedupeKey string, since time.Time) (int, error)
	GetAlertsSince(ctx context.Context, tenantID string, since time.Time) ([]core.AlertEvent, error)
	GetOpenAlerts(ctx context.Context, tenantID string) ([]core.AlertEvent, error)
	GetAlert(ctx context.Context, tenantID, id string) (*core.AlertEvent, error)
	UpdateAlertStatus(ctx context.Context, tenantID, id string, status core.AlertStatus, now time.Time) error
}

// ClusterStore persists correlation clusters. Owned by the correlation
// engine; clusters are written once per run and never merged.
type ClusterStore interface {
	InsertClusters(ctx context.Context, clusters []core.CorrelationCluster) error
	GetClustersSince(ctx context.Context, tenantID string, since time.Time) ([]core.CorrelationCluster, error)
}

// RiskScoreStore persists daily risk scores with idempotent upsert
// semantics per (tenant_id, score_date).
type RiskScoreStore interface {
	UpsertScore(ctx context.Context, score *core.RiskScore) error
	GetScore(ctx context.Context, tenantID, scoreDate string) (*core.RiskScore, error)
}

// IncidentStore persists incidents. Owned by the incident bridge.
type IncidentStore interface {
	InsertIncident(ctx context.Context, incident *core.Incident) error
	UpdateIncident(ctx context.Context, incident *core.Incident) error
	GetIncident(ctx context.Context, tenantID, id string) (*core.Incident, error)
	GetOpenIncidents(ctx context.Context, tenantID string) ([]core.Incident, error)
	GetIncidentsSince(ctx context.Context, tenantID string, since time.Time) ([]core.Incident, error)
}

// NotificationStore persists delivery records. Owned by the dispatcher.
type NotificationStore interface {
	InsertRecord(ctx context.Context, record *core.NotificationRecord) error
	UpdateRecord(ctx context.Context, record *core.NotificationRecord) error
	GetRecord(ctx context.Context, tenantID, id string) (*core.NotificationRecord, error)
	GetFailedRecords(ctx context.Context, tenantID string, limit int) ([]core.NotificationRecord, error)
}

// AuditStore is the append-only audit trail. Entries are immutable once
// written.
type AuditStore interface {
	AppendEntry(ctx context.Context, entry *core.AuditLogEntry) error
	GetEntries(ctx context.Context, tenantID string, since time.Time, limit int) ([]core.AuditLogEntry, error)
}
