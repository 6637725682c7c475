package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guardian/core"
)

// SQLiteAlertStore handles alert event persistence.
type SQLiteAlertStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertStore creates a new SQLite alert store.
func NewSQLiteAlertStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAlertStore {
	return &SQLiteAlertStore{sqlite: sqlite, logger: logger}
}

const alertColumns = `id, tenant_id, rule_id, triggered_at, matched_event_ids,
	matched_fields, severity, status, dedupe_key, updated_at`

func (s *SQLiteAlertStore) InsertAlert(ctx context.Context, alert *core.AlertEvent) error {
	eventIDs, err := json.Marshal(alert.MatchedEventIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal matched event ids: %w", err)
	}
	fields, err := json.Marshal(alert.MatchedFields)
	if err != nil {
		return fmt.Errorf("failed to marshal matched fields: %w", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO alert_events (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.TenantID, alert.RuleID, alert.TriggeredAt, string(eventIDs),
		string(fields), string(alert.Severity), string(alert.Status),
		alert.DedupeKey, alert.UpdatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "alerts.insert", Err: err}
	}
	return nil
}

// FindOpenByDedupeKey returns open alerts for a (rule, dedupe key) pair
// created at or after the window start. This query backs the debounce
// invariant, so it must see every open alert in the window.
func (s *SQLiteAlertStore) FindOpenByDedupeKey(ctx context.Context, tenantID, ruleID, dedupeKey string, since time.Time) ([]core.AlertEvent, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alert_events
		WHERE tenant_id = ? AND rule_id = ? AND dedupe_key = ? AND status = ? AND triggered_at >= ?
		ORDER BY triggered_at ASC`,
		tenantID, ruleID, dedupeKey, string(core.AlertStatusOpen), since)
	if err != nil {
		return nil, &core.PersistenceError{Op: "alerts.find_open", Err: err}
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *SQLiteAlertStore) CountByDedupeKey(ctx context.Context, tenantID, dedupeKey string, since time.Time) (int, error) {
	var count int
	err := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM alert_events
		WHERE tenant_id = ? AND dedupe_key = ? AND triggered_at >= ?`,
		tenantID, dedupeKey, since).Scan(&count)
	if err != nil {
		return 0, &core.PersistenceError{Op: "alerts.count_dedupe", Err: err}
	}
	return count, nil
}

func (s *SQLiteAlertStore) GetAlertsSince(ctx context.Context, tenantID string, since time.Time) ([]core.AlertEvent, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alert_events
		WHERE tenant_id = ? AND triggered_at >= ?
		ORDER BY triggered_at ASC`, tenantID, since)
	if err != nil {
		return nil, &core.PersistenceError{Op: "alerts.get_since", Err: err}
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *SQLiteAlertStore) GetOpenAlerts(ctx context.Context, tenantID string) ([]core.AlertEvent, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT `+alertColumns+`
		FROM alert_events
		WHERE tenant_id = ? AND status = ?
		ORDER BY triggered_at ASC`, tenantID, string(core.AlertStatusOpen))
	if err != nil {
		return nil, &core.PersistenceError{Op: "alerts.get_open", Err: err}
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func (s *SQLiteAlertStore) GetAlert(ctx context.Context, tenantID, id string) (*core.AlertEvent, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT `+alertColumns+`
		FROM alert_events
		WHERE tenant_id = ? AND id = ?`, tenantID, id)

	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "alerts.get", Err: err}
	}
	return alert, nil
}

func (s *SQLiteAlertStore) UpdateAlertStatus(ctx context.Context, tenantID, id string, status core.AlertStatus, now time.Time) error {
	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE alert_events SET status = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(status), now, tenantID, id)
	if err != nil {
		return &core.PersistenceError{Op: "alerts.update_status", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func scanAlert(row rowScanner) (*core.AlertEvent, error) {
	var (
		alert    core.AlertEvent
		eventIDs string
		fields   string
		severity string
		status   string
	)
	err := row.Scan(&alert.ID, &alert.TenantID, &alert.RuleID, &alert.TriggeredAt,
		&eventIDs, &fields, &severity, &status, &alert.DedupeKey, &alert.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(eventIDs), &alert.MatchedEventIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matched event ids for alert %s: %w", alert.ID, err)
	}
	if err := json.Unmarshal([]byte(fields), &alert.MatchedFields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal matched fields for alert %s: %w", alert.ID, err)
	}
	alert.Severity = core.Severity(severity)
	alert.Status = core.AlertStatus(status)
	return &alert, nil
}

func scanAlerts(rows *sql.Rows) ([]core.AlertEvent, error) {
	var alerts []core.AlertEvent
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "alerts.scan", Err: err}
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "alerts.scan", Err: err}
	}
	return alerts, nil
}
