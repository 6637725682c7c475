package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"guardian/core"
)

// SQLiteTenantStore handles tenant settings persistence.
type SQLiteTenantStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteTenantStore creates a new SQLite tenant store.
func NewSQLiteTenantStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteTenantStore {
	return &SQLiteTenantStore{sqlite: sqlite, logger: logger}
}

const tenantColumns = `tenant_id, enabled, eval_interval_seconds, correlation_window_minutes,
	min_link_count, severity_threshold, recurrence_threshold, channels`

func (s *SQLiteTenantStore) GetTenants(ctx context.Context) ([]core.TenantSettings, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants ORDER BY tenant_id ASC`)
	if err != nil {
		return nil, &core.PersistenceError{Op: "tenants.get_all", Err: err}
	}
	defer rows.Close()

	var tenants []core.TenantSettings
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "tenants.scan", Err: err}
		}
		tenants = append(tenants, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "tenants.scan", Err: err}
	}
	return tenants, nil
}

func (s *SQLiteTenantStore) GetTenant(ctx context.Context, tenantID string) (*core.TenantSettings, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT `+tenantColumns+` FROM tenants WHERE tenant_id = ?`, tenantID)

	t, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "tenants.get", Err: err}
	}
	return t, nil
}

func (s *SQLiteTenantStore) UpsertTenant(ctx context.Context, settings *core.TenantSettings) error {
	channels, err := json.Marshal(settings.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO tenants (`+tenantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id) DO UPDATE SET
			enabled = excluded.enabled,
			eval_interval_seconds = excluded.eval_interval_seconds,
			correlation_window_minutes = excluded.correlation_window_minutes,
			min_link_count = excluded.min_link_count,
			severity_threshold = excluded.severity_threshold,
			recurrence_threshold = excluded.recurrence_threshold,
			channels = excluded.channels`,
		settings.TenantID, settings.Enabled, settings.EvalIntervalSeconds,
		settings.CorrelationWindowMinutes, settings.MinLinkCount,
		string(settings.SeverityThreshold), settings.RecurrenceThreshold,
		string(channels))
	if err != nil {
		return &core.PersistenceError{Op: "tenants.upsert", Err: err}
	}
	return nil
}

func scanTenant(row rowScanner) (*core.TenantSettings, error) {
	var (
		t         core.TenantSettings
		threshold string
		channels  string
	)
	err := row.Scan(&t.TenantID, &t.Enabled, &t.EvalIntervalSeconds,
		&t.CorrelationWindowMinutes, &t.MinLinkCount, &threshold,
		&t.RecurrenceThreshold, &channels)
	if err != nil {
		return nil, err
	}
	t.SeverityThreshold = core.Severity(threshold)
	if err := json.Unmarshal([]byte(channels), &t.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels for tenant %s: %w", t.TenantID, err)
	}
	return &t, nil
}
