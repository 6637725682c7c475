package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian/alert"
	"guardian/audit"
	"guardian/core"
	"guardian/correlate"
	"guardian/detect"
	"guardian/incident"
	"guardian/notify"
	"guardian/score"
	"guardian/storage"
)

type fixture struct {
	mem      *storage.Memory
	pipeline *Pipeline
	sink     *audit.Sink
	channel  *sentinelChannel
}

// sentinelChannel records deliveries for pipeline-level assertions.
type sentinelChannel struct {
	delivered []notify.Message
}

func (s *sentinelChannel) Name() string { return "webhook" }

func (s *sentinelChannel) Deliver(ctx context.Context, cfg core.ChannelConfig, msg notify.Message) core.DeliveryResult {
	s.delivered = append(s.delivered, msg)
	return core.Sent()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop().Sugar()
	mem := storage.NewMemory()

	registry := notify.NewRegistry()
	channel := &sentinelChannel{}
	registry.Register(channel)

	sink := audit.NewSink(mem, logger, 256)
	t.Cleanup(sink.Close)

	p := New(
		mem, mem, mem,
		detect.NewEvaluator(logger),
		alert.NewEmitter(mem, logger),
		correlate.NewEngine(mem, logger),
		score.NewScorer(mem, mem, mem, mem, logger),
		incident.NewBridge(mem, mem, logger),
		notify.NewDispatcher(registry, mem, logger),
		sink,
		logger,
	)
	return &fixture{mem: mem, pipeline: p, sink: sink, channel: channel}
}

func tenantSettings() core.TenantSettings {
	return core.TenantSettings{
		TenantID:                 "tenant-x",
		Enabled:                  true,
		EvalIntervalSeconds:      300,
		CorrelationWindowMinutes: 60,
		MinLinkCount:             2,
		SeverityThreshold:        core.SeverityCritical,
		RecurrenceThreshold:      100,
		Channels: []core.ChannelConfig{
			{ID: "ch-1", Type: "webhook", Enabled: true, Settings: map[string]string{"url": "https://example.com"}},
		},
	}
}

func seedRule(t *testing.T, mem *storage.Memory, tenantID string) *core.Rule {
	t.Helper()
	now := time.Now().UTC()
	rule := &core.Rule{
		ID:       "rule-r",
		TenantID: tenantID,
		Name:     "failed logins",
		Condition: &core.Condition{
			Kind:  core.ConditionLeaf,
			Field: "outcome",
			Op:    core.OpEq,
			Value: "failure",
		},
		Severity:        core.SeverityHigh,
		CooldownSeconds: 60,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, mem.CreateRule(context.Background(), rule))
	return rule
}

func seedEvents(t *testing.T, mem *storage.Memory, tenantID string, at time.Time, matching, total int) {
	t.Helper()
	for i := 0; i < total; i++ {
		outcome := "success"
		if i < matching {
			outcome = "failure"
		}
		require.NoError(t, mem.InsertEvent(context.Background(), &core.Event{
			ID:         fmt.Sprintf("%s-ev-%d-%d", tenantID, at.Unix(), i),
			TenantID:   tenantID,
			Source:     "auth",
			OccurredAt: at,
			Payload:    map[string]interface{}{"outcome": outcome, "user": "alice"},
		}))
	}
}

func TestEndToEndDebounce(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	seedRule(t, f.mem, tenant.TenantID)
	ctx := context.Background()

	// 10 events, 3 matching within 10 seconds: exactly one alert.
	base := time.Now().UTC()
	seedEvents(t, f.mem, tenant.TenantID, base.Add(-10*time.Second), 3, 10)
	f.pipeline.now = func() time.Time { return base }
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	alerts, err := f.mem.GetAlertsSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, core.SeverityHigh, alerts[0].Severity)

	// Second run inside the cooldown: still one alert.
	later := base.Add(30 * time.Second)
	seedEvents(t, f.mem, tenant.TenantID, later.Add(-5*time.Second), 3, 3)
	f.pipeline.now = func() time.Time { return later }
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	alerts, err = f.mem.GetAlertsSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// After the cooldown expires, three more matches yield one more.
	after := base.Add(120 * time.Second)
	seedEvents(t, f.mem, tenant.TenantID, after.Add(-5*time.Second), 3, 3)
	f.pipeline.now = func() time.Time { return after }
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	alerts, err = f.mem.GetAlertsSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestRunTenantIsolation(t *testing.T) {
	f := newFixture(t)
	tenantA := tenantSettings()
	tenantA.TenantID = "tenant-a"
	ctx := context.Background()

	// Identical rule seeded for both tenants; only A's run executes.
	seedRule(t, f.mem, "tenant-a")
	seedRule(t, f.mem, "tenant-b")
	now := time.Now().UTC()
	seedEvents(t, f.mem, "tenant-a", now.Add(-time.Minute), 2, 4)
	seedEvents(t, f.mem, "tenant-b", now.Add(-time.Minute), 2, 4)

	require.NoError(t, f.pipeline.RunTenant(ctx, tenantA))

	alertsB, err := f.mem.GetAlertsSince(ctx, "tenant-b", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, alertsB)

	alertsA, err := f.mem.GetAlertsSince(ctx, "tenant-a", time.Time{})
	require.NoError(t, err)
	require.Len(t, alertsA, 1)
	assert.Equal(t, "tenant-a", alertsA[0].TenantID)
}

func TestRunScoresAndCorrelates(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	tenant.MinLinkCount = 1
	seedRule(t, f.mem, tenant.TenantID)
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvents(t, f.mem, tenant.TenantID, now.Add(-time.Minute), 2, 5)
	f.pipeline.now = func() time.Time { return now }
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	stored, err := f.mem.GetScore(ctx, tenant.TenantID, core.ScoreDateOf(now))
	require.NoError(t, err)
	assert.Greater(t, stored.OverallScore, 0.0)
	assert.Equal(t, 1, stored.Breakdown.AlertsBySeverity[core.SeverityHigh])
}

func TestRunPromotesAndNotifies(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	tenant.SeverityThreshold = core.SeverityHigh
	seedRule(t, f.mem, tenant.TenantID)
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvents(t, f.mem, tenant.TenantID, now.Add(-time.Minute), 1, 3)
	f.pipeline.now = func() time.Time { return now }
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	incidents, err := f.mem.GetOpenIncidents(ctx, tenant.TenantID)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	// One alert message and one incident message went out.
	require.Len(t, f.channel.delivered, 2)
	assert.Equal(t, core.TargetAlert, f.channel.delivered[0].TargetKind)
	assert.Equal(t, core.TargetIncident, f.channel.delivered[1].TargetKind)

	// The promoted alert was acknowledged by the bridge.
	alerts, err := f.mem.GetAlertsSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, core.AlertStatusAcknowledged, alerts[0].Status)
}

func TestPartialSuccessDurability(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	tenant.SeverityThreshold = core.SeverityHigh
	seedRule(t, f.mem, tenant.TenantID)
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvents(t, f.mem, tenant.TenantID, now.Add(-time.Minute), 1, 3)
	f.pipeline.now = func() time.Time { return now }

	// Storage fails at the incident bridge read: the run aborts, but the
	// alert committed earlier in the run stays durable and visible.
	f.mem.FailOp("alerts.get_open", assert.AnError)
	err := f.pipeline.RunTenant(ctx, tenant)
	require.Error(t, err)
	assert.True(t, core.IsPersistence(err))

	alerts, getErr := f.mem.GetAlertsSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, getErr)
	assert.Len(t, alerts, 1)
	assert.Equal(t, core.AlertStatusOpen, alerts[0].Status)
}

func TestBrokenRuleDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	ctx := context.Background()
	now := time.Now().UTC()

	// An invalid condition tree sneaks into storage; it must be skipped
	// while the healthy rule still evaluates.
	broken := &core.Rule{
		ID:        "rule-broken",
		TenantID:  tenant.TenantID,
		Name:      "broken",
		Condition: &core.Condition{Kind: "mystery"},
		Severity:  core.SeverityHigh,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, f.mem.CreateRule(ctx, broken))
	seedRule(t, f.mem, tenant.TenantID)
	seedEvents(t, f.mem, tenant.TenantID, now.Add(-time.Minute), 1, 2)

	f.pipeline.now = func() time.Time { return now }
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	alerts, err := f.mem.GetAlertsSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "rule-r", alerts[0].RuleID)
}

func TestCorrelationFailureIsContained(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	tenant.MinLinkCount = 1
	seedRule(t, f.mem, tenant.TenantID)
	ctx := context.Background()
	now := time.Now().UTC()

	seedEvents(t, f.mem, tenant.TenantID, now.Add(-time.Minute), 2, 5)
	f.mem.FailOp("clusters.insert", assert.AnError)
	f.pipeline.now = func() time.Time { return now }

	// The run completes; clusters are simply absent this cycle.
	require.NoError(t, f.pipeline.RunTenant(ctx, tenant))

	clusters, err := f.mem.GetClustersSince(ctx, tenant.TenantID, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, clusters)

	score, err := f.mem.GetScore(ctx, tenant.TenantID, core.ScoreDateOf(now))
	require.NoError(t, err)
	assert.Greater(t, score.OverallScore, 0.0)
}

func TestPersistenceFailureAbortsAndAudits(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	seedRule(t, f.mem, tenant.TenantID)
	ctx := context.Background()

	f.mem.FailOp("events.get_between", assert.AnError)
	err := f.pipeline.RunTenant(ctx, tenant)
	require.Error(t, err)
	assert.True(t, core.IsPersistence(err))
	f.mem.FailOp("events.get_between", nil)

	f.sink.Close()
	entries, err := f.mem.GetEntries(ctx, tenant.TenantID, time.Time{}, 100)
	require.NoError(t, err)

	var kinds []core.AuditKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	assert.Contains(t, kinds, core.AuditRunStarted)
	assert.Contains(t, kinds, core.AuditRunFailed)
	assert.NotContains(t, kinds, core.AuditRunFinished)
}

func TestCanceledContextStopsRun(t *testing.T) {
	f := newFixture(t)
	tenant := tenantSettings()
	seedRule(t, f.mem, tenant.TenantID)
	now := time.Now().UTC()
	seedEvents(t, f.mem, tenant.TenantID, now.Add(-time.Minute), 1, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// The evaluator stage itself does not consult the context, so the
	// alert may be emitted, but the run stops at the next checkpoint.
	err := f.pipeline.RunTenant(ctx, tenant)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}
