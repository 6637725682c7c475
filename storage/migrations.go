package storage

import "fmt"

// migrations are applied in order; each statement is idempotent. Every
// entity table carries tenant_id and is indexed on it, enforcing the
// isolation invariant at the query layer.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		tenant_id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		eval_interval_seconds INTEGER NOT NULL DEFAULT 0,
		correlation_window_minutes INTEGER NOT NULL DEFAULT 0,
		min_link_count INTEGER NOT NULL DEFAULT 2,
		severity_threshold TEXT NOT NULL DEFAULT 'high',
		recurrence_threshold INTEGER NOT NULL DEFAULT 3,
		channels TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		condition TEXT NOT NULL,
		severity TEXT NOT NULL,
		cooldown_seconds INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		schedule_interval INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rules_tenant ON rules(tenant_id, enabled)`,
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source TEXT NOT NULL,
		occurred_at TIMESTAMP NOT NULL,
		payload TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_tenant_time ON events(tenant_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS alert_events (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		triggered_at TIMESTAMP NOT NULL,
		matched_event_ids TEXT NOT NULL,
		matched_fields TEXT NOT NULL DEFAULT '{}',
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		dedupe_key TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_dedupe ON alert_events(tenant_id, rule_id, dedupe_key, status)`,
	`CREATE INDEX IF NOT EXISTS idx_alerts_tenant_time ON alert_events(tenant_id, triggered_at)`,
	`CREATE TABLE IF NOT EXISTS correlation_clusters (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		member_alert_ids TEXT NOT NULL,
		cluster_score REAL NOT NULL,
		status TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_clusters_tenant_time ON correlation_clusters(tenant_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS risk_scores (
		id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		score_date TEXT NOT NULL,
		overall_score REAL NOT NULL,
		category_breakdown TEXT NOT NULL,
		computed_at TIMESTAMP NOT NULL,
		PRIMARY KEY (tenant_id, score_date)
	)`,
	`CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		source_alert_ids TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		resolved_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_incidents_tenant_status ON incidents(tenant_id, status)`,
	`CREATE TABLE IF NOT EXISTS notification_records (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		target_kind TEXT NOT NULL,
		channel TEXT NOT NULL,
		delivery_status TEXT NOT NULL,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_attempted_at TIMESTAMP,
		last_error TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_tenant_status ON notification_records(tenant_id, delivery_status)`,
	`CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		stage TEXT,
		outcome TEXT,
		detail TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_tenant_time ON audit_log(tenant_id, created_at)`,
}

// Migrate applies all schema migrations on the write pool.
func (s *SQLite) Migrate() error {
	for i, stmt := range migrations {
		if _, err := s.WriteDB.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	return nil
}
