package incident

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/storage"
)

func openAlert(id string, severity core.Severity, dedupeKey string, triggeredAt time.Time) *core.AlertEvent {
	return &core.AlertEvent{
		ID:          id,
		TenantID:    "tenant-a",
		RuleID:      "rule-1",
		TriggeredAt: triggeredAt,
		Severity:    severity,
		Status:      core.AlertStatusOpen,
		DedupeKey:   dedupeKey,
		UpdatedAt:   triggeredAt,
	}
}

func TestPromoteBySeverityThreshold(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-high", core.SeverityHigh, "k1", now)))
	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-low", core.SeverityLow, "k2", now)))

	created, err := bridge.Promote(ctx, "tenant-a", Params{
		SeverityThreshold:   core.SeverityHigh,
		RecurrenceThreshold: 100,
	}, now)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, []string{"al-high"}, created[0].SourceAlertIDs)
	assert.Equal(t, core.IncidentStatusOpen, created[0].Status)

	// The promoted alert is acknowledged; the low one stays open.
	promoted, err := mem.GetAlert(ctx, "tenant-a", "al-high")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusAcknowledged, promoted.Status)
	low, err := mem.GetAlert(ctx, "tenant-a", "al-low")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, low.Status)
}

func TestPromoteByRecurrence(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	// Three occurrences of the same dedupe key within the lookback; only
	// the latest is still open.
	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-1", core.SeverityLow, "k1", now.Add(-2*time.Hour))))
	require.NoError(t, mem.UpdateAlertStatus(ctx, "tenant-a", "al-1", core.AlertStatusResolved, now.Add(-90*time.Minute)))
	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-2", core.SeverityLow, "k1", now.Add(-time.Hour))))
	require.NoError(t, mem.UpdateAlertStatus(ctx, "tenant-a", "al-2", core.AlertStatusResolved, now.Add(-30*time.Minute)))
	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-3", core.SeverityLow, "k1", now)))

	created, err := bridge.Promote(ctx, "tenant-a", Params{
		SeverityThreshold:   core.SeverityCritical,
		RecurrenceThreshold: 3,
	}, now)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, []string{"al-3"}, created[0].SourceAlertIDs)
}

func TestPromoteBelowBothThresholdsDoesNothing(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-1", core.SeverityMedium, "k1", now)))

	created, err := bridge.Promote(ctx, "tenant-a", Params{
		SeverityThreshold:   core.SeverityHigh,
		RecurrenceThreshold: 3,
	}, now)
	require.NoError(t, err)
	assert.Empty(t, created)
}

func TestPromoteIsBestEffortOnInsertFailure(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-1", core.SeverityCritical, "k1", now)))
	mem.FailOp("incidents.insert", assert.AnError)

	created, err := bridge.Promote(ctx, "tenant-a", Params{SeverityThreshold: core.SeverityHigh}, now)
	require.NoError(t, err)
	assert.Empty(t, created)

	// The source alert stays open and is retried next run.
	alert, err := mem.GetAlert(ctx, "tenant-a", "al-1")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, alert.Status)

	mem.FailOp("incidents.insert", nil)
	created, err = bridge.Promote(ctx, "tenant-a", Params{SeverityThreshold: core.SeverityHigh}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestPromoteDoesNotPromoteTwice(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-1", core.SeverityCritical, "k1", now)))

	first, err := bridge.Promote(ctx, "tenant-a", Params{SeverityThreshold: core.SeverityHigh}, now)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := bridge.Promote(ctx, "tenant-a", Params{SeverityThreshold: core.SeverityHigh}, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestCascadeResolveWhenAllSourcesResolved(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, mem.InsertAlert(ctx, openAlert("al-1", core.SeverityCritical, "k1", now)))
	created, err := bridge.Promote(ctx, "tenant-a", Params{SeverityThreshold: core.SeverityHigh}, now)
	require.NoError(t, err)
	require.Len(t, created, 1)

	// Source still acknowledged: no cascade yet.
	resolved, err := bridge.CascadeResolve(ctx, "tenant-a", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, resolved)

	require.NoError(t, mem.UpdateAlertStatus(ctx, "tenant-a", "al-1", core.AlertStatusResolved, now.Add(2*time.Minute)))
	resolved, err = bridge.CascadeResolve(ctx, "tenant-a", now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	incident, err := mem.GetIncident(ctx, "tenant-a", created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.IncidentStatusResolved, incident.Status)
	require.NotNil(t, incident.ResolvedAt)
}

func TestPromotePropagatesReadFailure(t *testing.T) {
	mem := storage.NewMemory()
	bridge := NewBridge(mem, mem, zap.NewNop().Sugar())
	mem.FailOp("alerts.get_open", assert.AnError)

	_, err := bridge.Promote(context.Background(), "tenant-a", Params{SeverityThreshold: core.SeverityHigh}, time.Now().UTC())
	require.Error(t, err)
	assert.True(t, core.IsPersistence(err))
}
