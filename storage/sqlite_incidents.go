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

// SQLiteIncidentStore handles incident persistence.
type SQLiteIncidentStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStore creates a new SQLite incident store.
func NewSQLiteIncidentStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStore {
	return &SQLiteIncidentStore{sqlite: sqlite, logger: logger}
}

func (s *SQLiteIncidentStore) InsertIncident(ctx context.Context, incident *core.Incident) error {
	alertIDs, err := json.Marshal(incident.SourceAlertIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source alert ids: %w", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO incidents (id, tenant_id, source_alert_ids, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		incident.ID, incident.TenantID, string(alertIDs), string(incident.Status),
		incident.CreatedAt, incident.ResolvedAt)
	if err != nil {
		return &core.PersistenceError{Op: "incidents.insert", Err: err}
	}
	return nil
}

func (s *SQLiteIncidentStore) UpdateIncident(ctx context.Context, incident *core.Incident) error {
	alertIDs, err := json.Marshal(incident.SourceAlertIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal source alert ids: %w", err)
	}
	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE incidents SET source_alert_ids = ?, status = ?, resolved_at = ?
		WHERE tenant_id = ? AND id = ?`,
		string(alertIDs), string(incident.Status), incident.ResolvedAt,
		incident.TenantID, incident.ID)
	if err != nil {
		return &core.PersistenceError{Op: "incidents.update", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

func (s *SQLiteIncidentStore) GetIncident(ctx context.Context, tenantID, id string) (*core.Incident, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, tenant_id, source_alert_ids, status, created_at, resolved_at
		FROM incidents
		WHERE tenant_id = ? AND id = ?`, tenantID, id)

	incident, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "incidents.get", Err: err}
	}
	return incident, nil
}

func (s *SQLiteIncidentStore) GetOpenIncidents(ctx context.Context, tenantID string) ([]core.Incident, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, source_alert_ids, status, created_at, resolved_at
		FROM incidents
		WHERE tenant_id = ? AND status != ?
		ORDER BY created_at ASC`, tenantID, string(core.IncidentStatusResolved))
	if err != nil {
		return nil, &core.PersistenceError{Op: "incidents.get_open", Err: err}
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func (s *SQLiteIncidentStore) GetIncidentsSince(ctx context.Context, tenantID string, since time.Time) ([]core.Incident, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, source_alert_ids, status, created_at, resolved_at
		FROM incidents
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at ASC`, tenantID, since)
	if err != nil {
		return nil, &core.PersistenceError{Op: "incidents.get_since", Err: err}
	}
	defer rows.Close()
	return scanIncidents(rows)
}

func scanIncident(row rowScanner) (*core.Incident, error) {
	var (
		incident   core.Incident
		alertIDs   string
		status     string
		resolvedAt sql.NullTime
	)
	err := row.Scan(&incident.ID, &incident.TenantID, &alertIDs, &status,
		&incident.CreatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(alertIDs), &incident.SourceAlertIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal alert ids for incident %s: %w", incident.ID, err)
	}
	incident.Status = core.IncidentStatus(status)
	if resolvedAt.Valid {
		incident.ResolvedAt = &resolvedAt.Time
	}
	return &incident, nil
}

func scanIncidents(rows *sql.Rows) ([]core.Incident, error) {
	var incidents []core.Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "incidents.scan", Err: err}
		}
		incidents = append(incidents, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "incidents.scan", Err: err}
	}
	return incidents, nil
}
