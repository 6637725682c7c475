// Package score computes the per-tenant daily risk score: a pure function
// of aggregate counts mapped through a monotonic saturating curve onto
// [0,100]. Recomputation is idempotent per (tenant, day).
package score

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/storage"
)

// Weights per aggregate unit. Incidents weigh more than any single alert;
// clusters weigh more than a medium alert because they imply related
// activity.
const (
	weightCritical      = 10.0
	weightHigh          = 6.0
	weightMedium        = 3.0
	weightLow           = 1.0
	weightOpenIncident  = 8.0
	weightCluster       = 4.0
	saturationHalfPoint = 25.0
)

// Inputs are the aggregate counts the score is computed from. Nothing
// else feeds the curve; two tenants with equal counts score equally.
type Inputs struct {
	AlertsBySeverity map[core.Severity]int
	OpenIncidents    int
	Clusters         int
}

// Compute maps the weighted counts through x/(x+k) saturation. The result
// is monotonic in every input, 0 for empty inputs and always inside
// [0,100].
func Compute(in Inputs) (float64, core.CategoryBreakdown) {
	alertWeight := weightCritical*float64(in.AlertsBySeverity[core.SeverityCritical]) +
		weightHigh*float64(in.AlertsBySeverity[core.SeverityHigh]) +
		weightMedium*float64(in.AlertsBySeverity[core.SeverityMedium]) +
		weightLow*float64(in.AlertsBySeverity[core.SeverityLow])
	incidentWeight := weightOpenIncident * float64(in.OpenIncidents)
	clusterWeight := weightCluster * float64(in.Clusters)

	total := alertWeight + incidentWeight + clusterWeight
	overall := 0.0
	if total > 0 {
		overall = 100 * total / (total + saturationHalfPoint)
	}

	return overall, core.CategoryBreakdown{
		AlertContribution:    alertWeight,
		IncidentContribution: incidentWeight,
		ClusterContribution:  clusterWeight,
		AlertsBySeverity:     in.AlertsBySeverity,
		OpenIncidents:        in.OpenIncidents,
		Clusters:             in.Clusters,
	}
}

// Scorer aggregates a tenant's last 24 hours and persists today's score.
type Scorer struct {
	alerts    storage.AlertStore
	clusters  storage.ClusterStore
	incidents storage.IncidentStore
	scores    storage.RiskScoreStore
	logger    *zap.SugaredLogger
}

// NewScorer creates a risk scorer.
func NewScorer(alerts storage.AlertStore, clusters storage.ClusterStore,
	incidents storage.IncidentStore, scores storage.RiskScoreStore,
	logger *zap.SugaredLogger) *Scorer {
	return &Scorer{
		alerts:    alerts,
		clusters:  clusters,
		incidents: incidents,
		scores:    scores,
		logger:    logger,
	}
}

// ScoreTenant computes and upserts the tenant's score for the day of now,
// aggregating over the trailing 24 hours. A storage failure propagates;
// the caller contains it as a ScoringError, omitting the score for the
// cycle.
func (s *Scorer) ScoreTenant(ctx context.Context, tenantID string, now time.Time) (*core.RiskScore, error) {
	since := now.Add(-24 * time.Hour)

	alerts, err := s.alerts.GetAlertsSince(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	clusters, err := s.clusters.GetClustersSince(ctx, tenantID, since)
	if err != nil {
		return nil, err
	}
	incidents, err := s.incidents.GetOpenIncidents(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	bySeverity := make(map[core.Severity]int)
	for _, a := range alerts {
		bySeverity[a.Severity]++
	}

	overall, breakdown := Compute(Inputs{
		AlertsBySeverity: bySeverity,
		OpenIncidents:    len(incidents),
		Clusters:         len(clusters),
	})

	riskScore := &core.RiskScore{
		ID:           uuid.NewString(),
		TenantID:     tenantID,
		ScoreDate:    core.ScoreDateOf(now),
		OverallScore: overall,
		Breakdown:    breakdown,
		ComputedAt:   now,
	}
	if err := s.scores.UpsertScore(ctx, riskScore); err != nil {
		return nil, err
	}

	s.logger.Debugw("Risk score computed",
		"tenant_id", tenantID,
		"score_date", riskScore.ScoreDate,
		"overall", overall)
	return riskScore, nil
}
