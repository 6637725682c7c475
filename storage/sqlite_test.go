package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian/core"
)

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(":memory:", zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRule(tenantID, id string) *core.Rule {
	now := time.Now().UTC().Truncate(time.Second)
	return &core.Rule{
		ID:       id,
		TenantID: tenantID,
		Name:     "failed logins",
		Condition: &core.Condition{
			Kind:  core.ConditionLeaf,
			Field: "auth.outcome",
			Op:    core.OpEq,
			Value: "failure",
		},
		Severity:        core.SeverityHigh,
		CooldownSeconds: 300,
		Enabled:         true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestRuleStoreRoundTrip(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteRuleStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	rule := testRule("tenant-a", "rule-1")
	require.NoError(t, store.CreateRule(ctx, rule))

	got, err := store.GetRule(ctx, "tenant-a", "rule-1")
	require.NoError(t, err)
	assert.Equal(t, rule.Name, got.Name)
	assert.Equal(t, rule.Severity, got.Severity)
	assert.Equal(t, core.ConditionLeaf, got.Condition.Kind)
	assert.Equal(t, "auth.outcome", got.Condition.Field)

	rule.Name = "failed logins v2"
	rule.UpdatedAt = rule.UpdatedAt.Add(time.Minute)
	require.NoError(t, store.UpdateRule(ctx, rule))

	got, err = store.GetRule(ctx, "tenant-a", "rule-1")
	require.NoError(t, err)
	assert.Equal(t, "failed logins v2", got.Name)

	require.NoError(t, store.DeleteRule(ctx, "tenant-a", "rule-1"))
	_, err = store.GetRule(ctx, "tenant-a", "rule-1")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleStoreTenantIsolation(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteRuleStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	require.NoError(t, store.CreateRule(ctx, testRule("tenant-a", "rule-a")))
	require.NoError(t, store.CreateRule(ctx, testRule("tenant-b", "rule-b")))

	rulesA, err := store.GetEnabledRules(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, rulesA, 1)
	assert.Equal(t, "rule-a", rulesA[0].ID)

	// Cross-tenant lookups behave as not-found, never as leaks.
	_, err = store.GetRule(ctx, "tenant-a", "rule-b")
	assert.ErrorIs(t, err, ErrRuleNotFound)
	err = store.DeleteRule(ctx, "tenant-a", "rule-b")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleStoreSkipsDisabledRules(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteRuleStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	enabled := testRule("tenant-a", "rule-on")
	disabled := testRule("tenant-a", "rule-off")
	disabled.Enabled = false
	require.NoError(t, store.CreateRule(ctx, enabled))
	require.NoError(t, store.CreateRule(ctx, disabled))

	rules, err := store.GetEnabledRules(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "rule-on", rules[0].ID)
}

func TestEventStoreOrdering(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteEventStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"ev-3", "ev-1", "ev-2"} {
		require.NoError(t, store.InsertEvent(ctx, &core.Event{
			ID:         id,
			TenantID:   "tenant-a",
			Source:     "auth",
			OccurredAt: base.Add(time.Duration(2-i) * time.Minute),
			Payload:    map[string]interface{}{"seq": float64(i)},
		}))
	}

	events, err := store.GetEventsBetween(ctx, "tenant-a", base.Add(-time.Hour), base.Add(time.Hour), 100)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].OccurredAt.Before(events[1].OccurredAt))
	assert.True(t, events[1].OccurredAt.Before(events[2].OccurredAt))
}

func TestAlertStoreDedupeQueries(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteAlertStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	key := core.DedupeKey("rule-1", map[string]string{"user": "alice"})

	open := &core.AlertEvent{
		ID: "al-1", TenantID: "tenant-a", RuleID: "rule-1",
		TriggeredAt: now.Add(-time.Minute), MatchedEventIDs: []string{"ev-1"},
		MatchedFields: map[string]string{"user": "alice"},
		Severity:      core.SeverityHigh, Status: core.AlertStatusOpen,
		DedupeKey: key, UpdatedAt: now.Add(-time.Minute),
	}
	resolved := &core.AlertEvent{
		ID: "al-2", TenantID: "tenant-a", RuleID: "rule-1",
		TriggeredAt: now.Add(-30 * time.Minute), MatchedEventIDs: []string{"ev-0"},
		MatchedFields: map[string]string{"user": "alice"},
		Severity:      core.SeverityHigh, Status: core.AlertStatusResolved,
		DedupeKey: key, UpdatedAt: now.Add(-20 * time.Minute),
	}
	require.NoError(t, store.InsertAlert(ctx, open))
	require.NoError(t, store.InsertAlert(ctx, resolved))

	found, err := store.FindOpenByDedupeKey(ctx, "tenant-a", "rule-1", key, now.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "al-1", found[0].ID)

	// Count is status-agnostic; both rows are inside the hour window.
	count, err := store.CountByDedupeKey(ctx, "tenant-a", key, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.CountByDedupeKey(ctx, "tenant-b", key, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAlertStoreStatusUpdate(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteAlertStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	alert := &core.AlertEvent{
		ID: "al-1", TenantID: "tenant-a", RuleID: "rule-1",
		TriggeredAt: now, MatchedEventIDs: []string{"ev-1"},
		Severity: core.SeverityLow, Status: core.AlertStatusOpen,
		DedupeKey: "k", UpdatedAt: now,
	}
	require.NoError(t, store.InsertAlert(ctx, alert))

	require.NoError(t, store.UpdateAlertStatus(ctx, "tenant-a", "al-1", core.AlertStatusAcknowledged, now.Add(time.Second)))
	got, err := store.GetAlert(ctx, "tenant-a", "al-1")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, got.Status)

	err = store.UpdateAlertStatus(ctx, "tenant-b", "al-1", core.AlertStatusResolved, now)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestClusterStoreInsertAndQuery(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteClusterStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	clusters := []core.CorrelationCluster{
		{ID: "cl-1", TenantID: "tenant-a", RunID: "run-1", CreatedAt: now,
			MemberAlertIDs: []string{"al-1", "al-2"}, ClusterScore: 12, Status: core.ClusterStatusActive},
		{ID: "cl-2", TenantID: "tenant-a", RunID: "run-1", CreatedAt: now,
			MemberAlertIDs: []string{"al-3", "al-4", "al-5"}, ClusterScore: 9, Status: core.ClusterStatusActive},
	}
	require.NoError(t, store.InsertClusters(ctx, clusters))

	got, err := store.GetClustersSince(ctx, "tenant-a", now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.ElementsMatch(t, []string{"al-1", "al-2"}, got[0].MemberAlertIDs)

	other, err := store.GetClustersSince(ctx, "tenant-b", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestRiskScoreUpsertIsIdempotent(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteRiskScoreStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	score := &core.RiskScore{
		ID: "sc-1", TenantID: "tenant-a", ScoreDate: "2026-08-29",
		OverallScore: 42.5,
		Breakdown: core.CategoryBreakdown{
			AlertsBySeverity: map[core.Severity]int{core.SeverityHigh: 3},
			OpenIncidents:    1,
		},
		ComputedAt: now,
	}
	require.NoError(t, store.UpsertScore(ctx, score))

	score.OverallScore = 55.0
	score.ComputedAt = now.Add(time.Minute)
	require.NoError(t, store.UpsertScore(ctx, score))

	got, err := store.GetScore(ctx, "tenant-a", "2026-08-29")
	require.NoError(t, err)
	assert.Equal(t, 55.0, got.OverallScore)
	assert.Equal(t, 3, got.Breakdown.AlertsBySeverity[core.SeverityHigh])

	_, err = store.GetScore(ctx, "tenant-a", "2026-08-28")
	assert.ErrorIs(t, err, ErrScoreNotFound)
}

func TestIncidentStoreLifecycle(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteIncidentStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	incident := &core.Incident{
		ID: "inc-1", TenantID: "tenant-a",
		SourceAlertIDs: []string{"al-1"}, Status: core.IncidentStatusOpen,
		CreatedAt: now,
	}
	require.NoError(t, store.InsertIncident(ctx, incident))

	open, err := store.GetOpenIncidents(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, open, 1)

	require.NoError(t, incident.TransitionTo(core.IncidentStatusResolved, now.Add(time.Hour)))
	require.NoError(t, store.UpdateIncident(ctx, incident))

	open, err = store.GetOpenIncidents(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Empty(t, open)

	got, err := store.GetIncident(ctx, "tenant-a", "inc-1")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, core.IncidentStatusResolved, got.Status)
}

func TestNotificationStoreFailedRecords(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteNotificationStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	record := &core.NotificationRecord{
		ID: "nr-1", TenantID: "tenant-a", TargetID: "al-1",
		TargetKind: core.TargetAlert, Channel: "webhook",
		DeliveryStatus: core.DeliveryStatusPending, CreatedAt: now,
	}
	require.NoError(t, store.InsertRecord(ctx, record))

	attempted := now.Add(time.Second)
	record.DeliveryStatus = core.DeliveryStatusFailed
	record.AttemptCount = 3
	record.LastAttemptedAt = &attempted
	record.LastError = "connection refused"
	require.NoError(t, store.UpdateRecord(ctx, record))

	failed, err := store.GetFailedRecords(ctx, "tenant-a", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].AttemptCount)
	assert.Equal(t, "connection refused", failed[0].LastError)
	require.NotNil(t, failed[0].LastAttemptedAt)
}

func TestAuditStoreAppendOnly(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteAuditStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	entries := []core.AuditLogEntry{
		{ID: "au-1", TenantID: "tenant-a", RunID: "run-1", Kind: core.AuditRunStarted, CreatedAt: now},
		{ID: "au-2", TenantID: "tenant-a", RunID: "run-1", Kind: core.AuditStageOutcome,
			Stage: "detect", Outcome: "ok", CreatedAt: now.Add(time.Second)},
		{ID: "au-3", TenantID: "tenant-b", RunID: "run-2", Kind: core.AuditRunStarted, CreatedAt: now},
	}
	for i := range entries {
		require.NoError(t, store.AppendEntry(ctx, &entries[i]))
	}

	got, err := store.GetEntries(ctx, "tenant-a", now.Add(-time.Minute), 100)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, core.AuditRunStarted, got[0].Kind)
	assert.Equal(t, "detect", got[1].Stage)
}

func TestTenantStoreUpsertAndChannels(t *testing.T) {
	s := testSQLite(t)
	store := NewSQLiteTenantStore(s, zap.NewNop().Sugar())
	ctx := context.Background()

	settings := &core.TenantSettings{
		TenantID: "tenant-a", Enabled: true,
		EvalIntervalSeconds: 300, CorrelationWindowMinutes: 60,
		MinLinkCount: 2, SeverityThreshold: core.SeverityHigh,
		RecurrenceThreshold: 3,
		Channels: []core.ChannelConfig{
			{ID: "ch-1", Type: "webhook", Enabled: true,
				Settings: map[string]string{"url": "https://hooks.example.com/x"}},
		},
	}
	require.NoError(t, store.UpsertTenant(ctx, settings))

	got, err := store.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	require.Len(t, got.Channels, 1)
	assert.Equal(t, "webhook", got.Channels[0].Type)
	assert.Equal(t, "https://hooks.example.com/x", got.Channels[0].Settings["url"])

	settings.RecurrenceThreshold = 5
	require.NoError(t, store.UpsertTenant(ctx, settings))
	got, err = store.GetTenant(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, 5, got.RecurrenceThreshold)

	_, err = store.GetTenant(ctx, "missing")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryFailureInjection(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()

	mem.FailOp("alerts.insert", assert.AnError)
	err := mem.InsertAlert(ctx, &core.AlertEvent{ID: "al-1", TenantID: "tenant-a"})
	require.Error(t, err)
	assert.True(t, core.IsPersistence(err))

	mem.FailOp("alerts.insert", nil)
	require.NoError(t, mem.InsertAlert(ctx, &core.AlertEvent{
		ID: "al-1", TenantID: "tenant-a", Status: core.AlertStatusOpen,
	}))
	open, err := mem.GetOpenAlerts(ctx, "tenant-a")
	require.NoError(t, err)
	assert.Len(t, open, 1)
}
