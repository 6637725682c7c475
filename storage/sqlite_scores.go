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

// SQLiteRiskScoreStore handles risk score persistence.
type SQLiteRiskScoreStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteRiskScoreStore creates a new SQLite risk score store.
func NewSQLiteRiskScoreStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRiskScoreStore {
	return &SQLiteRiskScoreStore{sqlite: sqlite, logger: logger}
}

// UpsertScore writes the daily score, overwriting any existing row for
// the same (tenant_id, score_date). Recomputation is idempotent.
func (s *SQLiteRiskScoreStore) UpsertScore(ctx context.Context, score *core.RiskScore) error {
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal category breakdown: %w", err)
	}
	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO risk_scores (id, tenant_id, score_date, overall_score, category_breakdown, computed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, score_date) DO UPDATE SET
			overall_score = excluded.overall_score,
			category_breakdown = excluded.category_breakdown,
			computed_at = excluded.computed_at`,
		score.ID, score.TenantID, score.ScoreDate, score.OverallScore,
		string(breakdown), score.ComputedAt)
	if err != nil {
		return &core.PersistenceError{Op: "scores.upsert", Err: err}
	}
	return nil
}

func (s *SQLiteRiskScoreStore) GetScore(ctx context.Context, tenantID, scoreDate string) (*core.RiskScore, error) {
	var (
		score     core.RiskScore
		breakdown string
	)
	err := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, tenant_id, score_date, overall_score, category_breakdown, computed_at
		FROM risk_scores
		WHERE tenant_id = ? AND score_date = ?`, tenantID, scoreDate).
		Scan(&score.ID, &score.TenantID, &score.ScoreDate, &score.OverallScore,
			&breakdown, &score.ComputedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScoreNotFound
	}
	if err != nil {
		return nil, &core.PersistenceError{Op: "scores.get", Err: err}
	}
	if err := json.Unmarshal([]byte(breakdown), &score.Breakdown); err != nil {
		return nil, fmt.Errorf("failed to unmarshal breakdown for score %s: %w", score.ID, err)
	}
	return &score, nil
}
