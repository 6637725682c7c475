package core

import "time"

// ClusterStatus is the lifecycle state of a correlation cluster.
type ClusterStatus string

const (
	ClusterStatusActive ClusterStatus = "active"
	ClusterStatusClosed ClusterStatus = "closed"
)

// CorrelationCluster groups alerts linked by shared dimensions within a
// time window. Clusters are computed fresh per evaluation run and are
// never merged with clusters from prior runs. Owned exclusively by the
// correlation engine.
type CorrelationCluster struct {
	ID             string        `json:"id"`
	TenantID       string        `json:"tenant_id"`
	RunID          string        `json:"run_id"`
	CreatedAt      time.Time     `json:"created_at"`
	MemberAlertIDs []string      `json:"member_alert_ids"`
	ClusterScore   float64       `json:"cluster_score"`
	Status         ClusterStatus `json:"status"`
}

// ScoreCluster computes distinct_alert_count x average_severity_weight.
func ScoreCluster(severities []Severity) float64 {
	if len(severities) == 0 {
		return 0
	}
	var total float64
	for _, s := range severities {
		total += s.Weight()
	}
	avg := total / float64(len(severities))
	return float64(len(severities)) * avg
}
