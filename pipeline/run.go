// Package pipeline executes one tenant evaluation run: detect, emit,
// correlate, score, bridge, notify, audit, in that fixed order. Each
// stage commits its own writes; a stage failure never rolls back prior
// stages. Only a persistence failure aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/alert"
	"guardian/audit"
	"guardian/core"
	"guardian/correlate"
	"guardian/detect"
	"guardian/incident"
	"guardian/metrics"
	"guardian/notify"
	"guardian/score"
	"guardian/storage"
)

const (
	defaultEventWindow = 5 * time.Minute
	eventWindowLimit   = 10000
)

// Pipeline wires the evaluation stages for scheduled and on-demand runs.
type Pipeline struct {
	rules      storage.RuleStore
	events     storage.EventStore
	alerts     storage.AlertStore
	evaluator  *detect.Evaluator
	emitter    *alert.Emitter
	correlator *correlate.Engine
	scorer     *score.Scorer
	bridge     *incident.Bridge
	dispatcher *notify.Dispatcher
	sink       *audit.Sink
	logger     *zap.SugaredLogger

	// now is swapped in tests for deterministic windows.
	now func() time.Time
}

// New creates a pipeline.
func New(
	rules storage.RuleStore,
	events storage.EventStore,
	alerts storage.AlertStore,
	evaluator *detect.Evaluator,
	emitter *alert.Emitter,
	correlator *correlate.Engine,
	scorer *score.Scorer,
	bridge *incident.Bridge,
	dispatcher *notify.Dispatcher,
	sink *audit.Sink,
	logger *zap.SugaredLogger,
) *Pipeline {
	return &Pipeline{
		rules:      rules,
		events:     events,
		alerts:     alerts,
		evaluator:  evaluator,
		emitter:    emitter,
		correlator: correlator,
		scorer:     scorer,
		bridge:     bridge,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// RunTenant executes one full evaluation run for a tenant. Persistence
// failures abort the run and mark it failed; every other error category
// is contained to its stage or item.
func (p *Pipeline) RunTenant(ctx context.Context, tenant core.TenantSettings) error {
	runID := uuid.NewString()
	start := p.now()
	p.sink.RunStarted(tenant.TenantID, runID)
	defer func() {
		metrics.RunDuration.Observe(time.Since(start).Seconds())
	}()

	emitted, err := p.detectAndEmit(ctx, tenant, runID, start)
	if err != nil {
		return p.fail(tenant.TenantID, runID, "detect", err)
	}

	if err := p.checkpoint(ctx, tenant.TenantID, runID); err != nil {
		return err
	}
	clusters := p.correlateStage(ctx, tenant, runID, start)

	if err := p.checkpoint(ctx, tenant.TenantID, runID); err != nil {
		return err
	}
	if err := p.scoreStage(ctx, tenant, runID, start); err != nil {
		return err
	}

	if err := p.checkpoint(ctx, tenant.TenantID, runID); err != nil {
		return err
	}
	incidents, err := p.bridgeStage(ctx, tenant, runID, start)
	if err != nil {
		return err
	}

	if err := p.checkpoint(ctx, tenant.TenantID, runID); err != nil {
		return err
	}
	p.notifyStage(ctx, tenant, runID, emitted, incidents)

	p.sink.RunFinished(tenant.TenantID, runID, fmt.Sprintf(
		"alerts=%d clusters=%d incidents=%d", len(emitted), len(clusters), len(incidents)))
	return nil
}

// detectAndEmit evaluates every enabled rule over the event window and
// persists the resulting alerts. Rule-level failures are contained; a
// storage failure propagates.
func (p *Pipeline) detectAndEmit(ctx context.Context, tenant core.TenantSettings, runID string, now time.Time) ([]core.AlertEvent, error) {
	rules, err := p.rules.GetEnabledRules(ctx, tenant.TenantID)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		p.sink.StageOutcome(tenant.TenantID, runID, "detect", "ok", "no enabled rules")
		return nil, nil
	}

	window := tenant.EvalInterval(defaultEventWindow)
	events, err := p.events.GetEventsBetween(ctx, tenant.TenantID, now.Add(-window), now, eventWindowLimit)
	if err != nil {
		return nil, err
	}

	var emitted []core.AlertEvent
	suppressed := 0
	err = p.evaluator.EvaluateAll(rules, events,
		func(ruleID string, evalErr error) {
			p.sink.RuleSkipped(tenant.TenantID, runID, ruleID, evalErr.Error())
		},
		func(rule *core.Rule, matches []detect.Match) error {
			result, emitErr := p.emitter.Emit(ctx, rule, matches, now)
			if emitErr != nil {
				return emitErr
			}
			emitted = append(emitted, result.Emitted...)
			suppressed += result.Suppressed
			return nil
		})
	if err != nil {
		return emitted, err
	}

	p.sink.StageOutcome(tenant.TenantID, runID, "emit", "ok", fmt.Sprintf(
		"emitted=%d suppressed=%d", len(emitted), suppressed))
	return emitted, nil
}

// correlateStage builds clusters over the rolling window. Any failure
// here yields zero clusters for the run and never blocks downstream
// stages.
func (p *Pipeline) correlateStage(ctx context.Context, tenant core.TenantSettings, runID string, now time.Time) []core.CorrelationCluster {
	window := tenant.CorrelationWindow(time.Hour)
	alerts, err := p.alerts.GetAlertsSince(ctx, tenant.TenantID, now.Add(-window))
	if err == nil {
		var clusters []core.CorrelationCluster
		clusters, err = p.correlator.Correlate(ctx, tenant.TenantID, runID, alerts, correlate.Params{
			MinLinkCount: tenant.MinLinkCount,
			Window:       window,
		}, now)
		if err == nil {
			p.sink.StageOutcome(tenant.TenantID, runID, "correlate", "ok", fmt.Sprintf("clusters=%d", len(clusters)))
			return clusters
		}
	}

	cerr := &core.CorrelationError{Err: err}
	p.sink.StageOutcome(tenant.TenantID, runID, "correlate", "failed", cerr.Error())
	p.logger.Warnw("Correlation produced no clusters this cycle",
		"tenant_id", tenant.TenantID,
		"run_id", runID,
		"error", err)
	return nil
}

// scoreStage recomputes the daily risk score. A failure omits the score
// for the cycle; the next run recomputes it idempotently.
func (p *Pipeline) scoreStage(ctx context.Context, tenant core.TenantSettings, runID string, now time.Time) error {
	riskScore, err := p.scorer.ScoreTenant(ctx, tenant.TenantID, now)
	if err != nil {
		serr := &core.ScoringError{Err: err}
		p.sink.StageOutcome(tenant.TenantID, runID, "score", "failed", serr.Error())
		p.logger.Warnw("Risk score omitted this cycle",
			"tenant_id", tenant.TenantID,
			"run_id", runID,
			"error", err)
		return nil
	}
	p.sink.StageOutcome(tenant.TenantID, runID, "score", "ok",
		fmt.Sprintf("score=%.1f", riskScore.OverallScore))
	return nil
}

// bridgeStage promotes qualifying alerts and cascades resolutions. A
// storage outage here aborts the run without hiding alerts committed
// earlier in it.
func (p *Pipeline) bridgeStage(ctx context.Context, tenant core.TenantSettings, runID string, now time.Time) ([]core.Incident, error) {
	incidents, err := p.bridge.Promote(ctx, tenant.TenantID, incident.Params{
		SeverityThreshold:   tenant.SeverityThreshold,
		RecurrenceThreshold: tenant.RecurrenceThreshold,
	}, now)
	if err != nil {
		return nil, p.fail(tenant.TenantID, runID, "incident", err)
	}
	resolved, err := p.bridge.CascadeResolve(ctx, tenant.TenantID, now)
	if err != nil {
		return nil, p.fail(tenant.TenantID, runID, "incident", err)
	}
	p.sink.StageOutcome(tenant.TenantID, runID, "incident", "ok",
		fmt.Sprintf("created=%d resolved=%d", len(incidents), resolved))
	return incidents, nil
}

// notifyStage fans out alerts and incidents to the tenant's channels.
// Delivery failures live on their NotificationRecords only.
func (p *Pipeline) notifyStage(ctx context.Context, tenant core.TenantSettings, runID string, alerts []core.AlertEvent, incidents []core.Incident) {
	delivered := 0
	for i := range alerts {
		records := p.dispatcher.Dispatch(ctx, tenant.Channels, notify.AlertMessage(&alerts[i]))
		delivered += len(records)
	}
	for i := range incidents {
		severity := p.incidentSeverity(ctx, &incidents[i])
		records := p.dispatcher.Dispatch(ctx, tenant.Channels, notify.IncidentMessage(&incidents[i], severity))
		delivered += len(records)
	}
	if delivered > 0 {
		p.sink.SideEffect(tenant.TenantID, runID, "notify",
			fmt.Sprintf("deliveries=%d", delivered))
	}
}

func (p *Pipeline) incidentSeverity(ctx context.Context, inc *core.Incident) core.Severity {
	severity := core.SeverityHigh
	if len(inc.SourceAlertIDs) == 0 {
		return severity
	}
	a, err := p.alerts.GetAlert(ctx, inc.TenantID, inc.SourceAlertIDs[0])
	if err != nil {
		return severity
	}
	return a.Severity
}

// checkpoint aborts the run between stages once the context is gone.
func (p *Pipeline) checkpoint(ctx context.Context, tenantID, runID string) error {
	if err := ctx.Err(); err != nil {
		p.sink.RunFailed(tenantID, runID, err.Error())
		return err
	}
	return nil
}

// fail marks the run aborted. Called only for persistence failures.
func (p *Pipeline) fail(tenantID, runID, stage string, err error) error {
	metrics.RunsFailed.WithLabelValues(tenantID).Inc()
	p.sink.RunFailed(tenantID, runID, fmt.Sprintf("%s: %v", stage, err))
	p.logger.Errorw("Tenant run aborted",
		"tenant_id", tenantID,
		"run_id", runID,
		"stage", stage,
		"error", err)
	return err
}
