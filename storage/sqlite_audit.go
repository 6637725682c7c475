package storage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"guardian/core"
)

// SQLiteAuditStore is the append-only audit trail. There is deliberately
// no update or delete path; entries are immutable once written.
type SQLiteAuditStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAuditStore creates a new SQLite audit store.
func NewSQLiteAuditStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAuditStore {
	return &SQLiteAuditStore{sqlite: sqlite, logger: logger}
}

func (s *SQLiteAuditStore) AppendEntry(ctx context.Context, entry *core.AuditLogEntry) error {
	_, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO audit_log (id, tenant_id, run_id, kind, stage, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.TenantID, entry.RunID, string(entry.Kind),
		entry.Stage, entry.Outcome, entry.Detail, entry.CreatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "audit.append", Err: err}
	}
	return nil
}

func (s *SQLiteAuditStore) GetEntries(ctx context.Context, tenantID string, since time.Time, limit int) ([]core.AuditLogEntry, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, run_id, kind, stage, outcome, detail, created_at
		FROM audit_log
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at ASC
		LIMIT ?`, tenantID, since, limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "audit.get_entries", Err: err}
	}
	defer rows.Close()

	var entries []core.AuditLogEntry
	for rows.Next() {
		var (
			entry core.AuditLogEntry
			kind  string
		)
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.RunID, &kind,
			&entry.Stage, &entry.Outcome, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, &core.PersistenceError{Op: "audit.scan", Err: err}
		}
		entry.Kind = core.AuditKind(kind)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "audit.scan", Err: err}
	}
	return entries, nil
}
