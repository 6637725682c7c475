// Package correlate builds correlation clusters: connected components of
// alerts linked by shared dimensions inside a rolling time window.
// Clusters are computed fresh each run and never merged with prior runs.
package correlate

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/metrics"
	"guardian/storage"
)

// Engine owns cluster computation and persistence.
type Engine struct {
	clusters storage.ClusterStore
	logger   *zap.SugaredLogger
}

// NewEngine creates a correlation engine.
func NewEngine(clusters storage.ClusterStore, logger *zap.SugaredLogger) *Engine {
	return &Engine{clusters: clusters, logger: logger}
}

// Params carries the tenant-configurable correlation thresholds.
type Params struct {
	// MinLinkCount is the minimum number of shared dimensions (matched
	// field name=value pairs) for two alerts to be linked.
	MinLinkCount int
	// Window bounds the triggered-at distance between linked alerts.
	Window time.Duration
}

// Correlate links the given alerts, persists the resulting clusters and
// returns them. Only groups of two or more alerts form clusters; a
// singleton component is not a cluster. A storage failure propagates so
// the run can abort; any other failure is contained by the caller as a
// CorrelationError producing zero clusters for the run.
func (e *Engine) Correlate(ctx context.Context, tenantID, runID string, alerts []core.AlertEvent, params Params, now time.Time) ([]core.CorrelationCluster, error) {
	if len(alerts) < 2 {
		return nil, nil
	}
	if params.MinLinkCount < 1 {
		params.MinLinkCount = 1
	}

	uf := newUnionFind(len(alerts))
	for i := 0; i < len(alerts); i++ {
		for j := i + 1; j < len(alerts); j++ {
			if linked(&alerts[i], &alerts[j], params) {
				uf.union(i, j)
			}
		}
	}

	components := make(map[int][]int)
	for i := range alerts {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	roots := make([]int, 0, len(components))
	for root, members := range components {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Ints(roots)

	var clusters []core.CorrelationCluster
	for _, root := range roots {
		members := components[root]
		memberIDs := make([]string, 0, len(members))
		severities := make([]core.Severity, 0, len(members))
		for _, idx := range members {
			memberIDs = append(memberIDs, alerts[idx].ID)
			severities = append(severities, alerts[idx].Severity)
		}
		sort.Strings(memberIDs)

		clusters = append(clusters, core.CorrelationCluster{
			ID:             uuid.NewString(),
			TenantID:       tenantID,
			RunID:          runID,
			CreatedAt:      now,
			MemberAlertIDs: memberIDs,
			ClusterScore:   core.ScoreCluster(severities),
			Status:         core.ClusterStatusActive,
		})
	}

	if len(clusters) == 0 {
		return nil, nil
	}
	if err := e.clusters.InsertClusters(ctx, clusters); err != nil {
		return nil, err
	}
	metrics.ClustersBuilt.WithLabelValues(tenantID).Add(float64(len(clusters)))
	e.logger.Debugw("Correlation clusters built",
		"tenant_id", tenantID,
		"run_id", runID,
		"clusters", len(clusters))
	return clusters, nil
}

// linked reports whether two alerts share at least MinLinkCount matching
// dimensions and triggered within the window of each other. A dimension
// matches when both alerts carry the same field with the same normalized
// value; empty values never link.
func linked(a, b *core.AlertEvent, params Params) bool {
	gap := a.TriggeredAt.Sub(b.TriggeredAt)
	if gap < 0 {
		gap = -gap
	}
	if params.Window > 0 && gap > params.Window {
		return false
	}

	shared := 0
	for field, value := range a.MatchedFields {
		if value == "" {
			continue
		}
		if b.MatchedFields[field] == value {
			shared++
			if shared >= params.MinLinkCount {
				return true
			}
		}
	}
	return false
}
