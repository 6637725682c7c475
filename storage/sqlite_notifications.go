package storage

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"guardian/core"
)

// SQLiteNotificationStore handles notification record persistence.
type SQLiteNotificationStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteNotificationStore creates a new SQLite notification store.
func NewSQLiteNotificationStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteNotificationStore {
	return &SQLiteNotificationStore{sqlite: sqlite, logger: logger}
}

func (s *SQLiteNotificationStore) InsertRecord(ctx context.Context, record *core.NotificationRecord) error {
	_, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO notification_records (id, tenant_id, target_id, target_kind, channel,
		                                  delivery_status, attempt_count, last_attempted_at, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.TenantID, record.TargetID, string(record.TargetKind),
		record.Channel, string(record.DeliveryStatus), record.AttemptCount,
		record.LastAttemptedAt, record.LastError, record.CreatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "notifications.insert", Err: err}
	}
	return nil
}

func (s *SQLiteNotificationStore) UpdateRecord(ctx context.Context, record *core.NotificationRecord) error {
	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE notification_records
		SET delivery_status = ?, attempt_count = ?, last_attempted_at = ?, last_error = ?
		WHERE tenant_id = ? AND id = ?`,
		string(record.DeliveryStatus), record.AttemptCount, record.LastAttemptedAt,
		record.LastError, record.TenantID, record.ID)
	if err != nil {
		return &core.PersistenceError{Op: "notifications.update", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *SQLiteNotificationStore) GetRecord(ctx context.Context, tenantID, id string) (*core.NotificationRecord, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, tenant_id, target_id, target_kind, channel, delivery_status,
		       attempt_count, last_attempted_at, last_error, created_at
		FROM notification_records
		WHERE tenant_id = ? AND id = ?`, tenantID, id)

	record, err := scanNotificationRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "notifications.get", Err: err}
	}
	return record, nil
}

func (s *SQLiteNotificationStore) GetFailedRecords(ctx context.Context, tenantID string, limit int) ([]core.NotificationRecord, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, target_id, target_kind, channel, delivery_status,
		       attempt_count, last_attempted_at, last_error, created_at
		FROM notification_records
		WHERE tenant_id = ? AND delivery_status = ?
		ORDER BY created_at DESC
		LIMIT ?`, tenantID, string(core.DeliveryStatusFailed), limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "notifications.get_failed", Err: err}
	}
	defer rows.Close()

	var records []core.NotificationRecord
	for rows.Next() {
		record, err := scanNotificationRecord(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "notifications.scan", Err: err}
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "notifications.scan", Err: err}
	}
	return records, nil
}

func scanNotificationRecord(row rowScanner) (*core.NotificationRecord, error) {
	var (
		record        core.NotificationRecord
		targetKind    string
		status        string
		lastAttempted sql.NullTime
		lastError     sql.NullString
	)
	err := row.Scan(&record.ID, &record.TenantID, &record.TargetID, &targetKind,
		&record.Channel, &status, &record.AttemptCount, &lastAttempted,
		&lastError, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.TargetKind = core.TargetKind(targetKind)
	record.DeliveryStatus = core.DeliveryStatus(status)
	if lastAttempted.Valid {
		t := lastAttempted.Time
		record.LastAttemptedAt = &t
	}
	if lastError.Valid {
		record.LastError = lastError.String
	}
	return &record, nil
}
