package core

import "time"

// CategoryBreakdown explains how a risk score was composed.
type CategoryBreakdown struct {
	AlertContribution    float64          `json:"alert_contribution"`
	IncidentContribution float64          `json:"incident_contribution"`
	ClusterContribution  float64          `json:"cluster_contribution"`
	AlertsBySeverity     map[Severity]int `json:"alerts_by_severity"`
	OpenIncidents        int              `json:"open_incidents"`
	Clusters             int              `json:"clusters"`
}

// RiskScore is the per-tenant daily 0-100 exposure aggregate. Exactly one
// row exists per (tenant_id, score_date); recomputing overwrites it.
// Owned by the risk scorer.
type RiskScore struct {
	ID           string            `json:"id"`
	TenantID     string            `json:"tenant_id"`
	ScoreDate    string            `json:"score_date"` // YYYY-MM-DD
	OverallScore float64           `json:"overall_score"`
	Breakdown    CategoryBreakdown `json:"category_breakdown"`
	ComputedAt   time.Time         `json:"computed_at"`
}

// ScoreDateOf formats a timestamp as a score_date key.
func ScoreDateOf(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
