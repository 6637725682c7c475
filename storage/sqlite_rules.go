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

// CacheInvalidator lets the storage layer drop compiled-condition cache
// entries on rule updates without depending on the detect package.
type CacheInvalidator interface {
	InvalidateCache(ruleID string)
}

// SQLiteRuleStore handles rule persistence.
type SQLiteRuleStore struct {
	sqlite           *SQLite
	logger           *zap.SugaredLogger
	cacheInvalidator CacheInvalidator
}

// NewSQLiteRuleStore creates a new SQLite rule store.
func NewSQLiteRuleStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRuleStore {
	return &SQLiteRuleStore{sqlite: sqlite, logger: logger}
}

// SetCacheInvalidator wires the evaluator's compile cache into update and
// delete paths. May be nil.
func (s *SQLiteRuleStore) SetCacheInvalidator(inv CacheInvalidator) {
	s.cacheInvalidator = inv
}

func (s *SQLiteRuleStore) GetEnabledRules(ctx context.Context, tenantID string) ([]core.Rule, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, name, description, condition, severity,
		       cooldown_seconds, enabled, schedule_interval, created_at, updated_at
		FROM rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY created_at ASC`, tenantID)
	if err != nil {
		return nil, &core.PersistenceError{Op: "rules.get_enabled", Err: err}
	}
	defer rows.Close()
	return scanRules(rows)
}

func (s *SQLiteRuleStore) GetRule(ctx context.Context, tenantID, id string) (*core.Rule, error) {
	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, description, condition, severity,
		       cooldown_seconds, enabled, schedule_interval, created_at, updated_at
		FROM rules
		WHERE tenant_id = ? AND id = ?`, tenantID, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "rules.get", Err: err}
	}
	return rule, nil
}

func (s *SQLiteRuleStore) CreateRule(ctx context.Context, rule *core.Rule) error {
	condJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO rules (id, tenant_id, name, description, condition, severity,
		                   cooldown_seconds, enabled, schedule_interval, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.Name, rule.Description, string(condJSON),
		string(rule.Severity), rule.CooldownSeconds, rule.Enabled,
		rule.ScheduleInterval, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return &core.PersistenceError{Op: "rules.create", Err: err}
	}
	return nil
}

func (s *SQLiteRuleStore) UpdateRule(ctx context.Context, rule *core.Rule) error {
	condJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("failed to marshal condition: %w", err)
	}
	res, err := s.sqlite.WriteDB.ExecContext(ctx, `
		UPDATE rules SET name = ?, description = ?, condition = ?, severity = ?,
		                 cooldown_seconds = ?, enabled = ?, schedule_interval = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ?`,
		rule.Name, rule.Description, string(condJSON), string(rule.Severity),
		rule.CooldownSeconds, rule.Enabled, rule.ScheduleInterval, rule.UpdatedAt,
		rule.TenantID, rule.ID)
	if err != nil {
		return &core.PersistenceError{Op: "rules.update", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	if s.cacheInvalidator != nil {
		s.cacheInvalidator.InvalidateCache(rule.ID)
	}
	return nil
}

func (s *SQLiteRuleStore) DeleteRule(ctx context.Context, tenantID, id string) error {
	res, err := s.sqlite.WriteDB.ExecContext(ctx,
		`DELETE FROM rules WHERE tenant_id = ? AND id = ?`, tenantID, id)
	if err != nil {
		return &core.PersistenceError{Op: "rules.delete", Err: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	if s.cacheInvalidator != nil {
		s.cacheInvalidator.InvalidateCache(id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*core.Rule, error) {
	var (
		rule      core.Rule
		condition string
		severity  string
		createdAt time.Time
		updatedAt time.Time
	)
	err := row.Scan(&rule.ID, &rule.TenantID, &rule.Name, &rule.Description,
		&condition, &severity, &rule.CooldownSeconds, &rule.Enabled,
		&rule.ScheduleInterval, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(condition), &rule.Condition); err != nil {
		return nil, fmt.Errorf("failed to unmarshal condition for rule %s: %w", rule.ID, err)
	}
	rule.Severity = core.Severity(severity)
	rule.CreatedAt = createdAt
	rule.UpdatedAt = updatedAt
	return &rule, nil
}

func scanRules(rows *sql.Rows) ([]core.Rule, error) {
	var rules []core.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, &core.PersistenceError{Op: "rules.scan", Err: err}
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "rules.scan", Err: err}
	}
	return rules, nil
}
