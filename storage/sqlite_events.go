package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guardian/core"
)

// SQLiteEventStore handles telemetry event persistence. Events are
// append-only; nothing in the pipeline ever mutates them.
type SQLiteEventStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEventStore creates a new SQLite event store.
func NewSQLiteEventStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteEventStore {
	return &SQLiteEventStore{sqlite: sqlite, logger: logger}
}

func (s *SQLiteEventStore) InsertEvent(ctx context.Context, event *core.Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO events (id, tenant_id, source, occurred_at, payload)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.TenantID, event.Source, event.OccurredAt, string(payload))
	if err != nil {
		return &core.PersistenceError{Op: "events.insert", Err: err}
	}
	return nil
}

// GetEventsBetween returns one tenant's events in arrival order. The
// limit bounds the evaluation window; callers pass the tenant's window
// edges.
func (s *SQLiteEventStore) GetEventsBetween(ctx context.Context, tenantID string, from, to time.Time, limit int) ([]core.Event, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, source, occurred_at, payload
		FROM events
		WHERE tenant_id = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at ASC, id ASC
		LIMIT ?`, tenantID, from, to, limit)
	if err != nil {
		return nil, &core.PersistenceError{Op: "events.get_between", Err: err}
	}
	defer rows.Close()

	var events []core.Event
	for rows.Next() {
		var (
			event   core.Event
			payload string
		)
		if err := rows.Scan(&event.ID, &event.TenantID, &event.Source, &event.OccurredAt, &payload); err != nil {
			return nil, &core.PersistenceError{Op: "events.scan", Err: err}
		}
		if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for event %s: %w", event.ID, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "events.scan", Err: err}
	}
	return events, nil
}
