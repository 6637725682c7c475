package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"guardian/core"
)

// SQLiteClusterStore handles correlation cluster persistence.
type SQLiteClusterStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteClusterStore creates a new SQLite cluster store.
func NewSQLiteClusterStore(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteClusterStore {
	return &SQLiteClusterStore{sqlite: sqlite, logger: logger}
}

// InsertClusters writes one run's clusters atomically. Either all of a
// run's clusters land or none do.
func (s *SQLiteClusterStore) InsertClusters(ctx context.Context, clusters []core.CorrelationCluster) error {
	if len(clusters) == 0 {
		return nil
	}

	tx, err := s.sqlite.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return &core.PersistenceError{Op: "clusters.begin", Err: err}
	}
	defer tx.Rollback()

	for _, cluster := range clusters {
		members, err := json.Marshal(cluster.MemberAlertIDs)
		if err != nil {
			return fmt.Errorf("failed to marshal member ids: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO correlation_clusters (id, tenant_id, run_id, created_at, member_alert_ids, cluster_score, status)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			cluster.ID, cluster.TenantID, cluster.RunID, cluster.CreatedAt,
			string(members), cluster.ClusterScore, string(cluster.Status))
		if err != nil {
			return &core.PersistenceError{Op: "clusters.insert", Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &core.PersistenceError{Op: "clusters.commit", Err: err}
	}
	return nil
}

func (s *SQLiteClusterStore) GetClustersSince(ctx context.Context, tenantID string, since time.Time) ([]core.CorrelationCluster, error) {
	rows, err := s.sqlite.ReadDB.QueryContext(ctx, `
		SELECT id, tenant_id, run_id, created_at, member_alert_ids, cluster_score, status
		FROM correlation_clusters
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at ASC`, tenantID, since)
	if err != nil {
		return nil, &core.PersistenceError{Op: "clusters.get_since", Err: err}
	}
	defer rows.Close()

	var clusters []core.CorrelationCluster
	for rows.Next() {
		var (
			cluster core.CorrelationCluster
			members string
			status  string
		)
		if err := rows.Scan(&cluster.ID, &cluster.TenantID, &cluster.RunID,
			&cluster.CreatedAt, &members, &cluster.ClusterScore, &status); err != nil {
			return nil, &core.PersistenceError{Op: "clusters.scan", Err: err}
		}
		if err := json.Unmarshal([]byte(members), &cluster.MemberAlertIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal member ids for cluster %s: %w", cluster.ID, err)
		}
		cluster.Status = core.ClusterStatus(status)
		clusters = append(clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return nil, &core.PersistenceError{Op: "clusters.scan", Err: err}
	}
	return clusters, nil
}
