package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/storage"
)

func testMessage() Message {
	return Message{
		TenantID:   "tenant-a",
		TargetID:   "al-1",
		TargetKind: core.TargetAlert,
		Title:      "[high] Alert from rule rule-1",
		Severity:   core.SeverityHigh,
		OccurredAt: time.Now().UTC(),
	}
}

func enabledChannel(chType string) core.ChannelConfig {
	return core.ChannelConfig{ID: "ch-1", Type: chType, Enabled: true}
}

func TestDispatchSuccessFirstAttempt(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	fake := newFakeChannel("webhook", 0)
	registry.Register(fake)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(), withSleeper((&recordingSleeper{}).sleep))
	records := d.Dispatch(context.Background(), []core.ChannelConfig{enabledChannel("webhook")}, testMessage())

	require.Len(t, records, 1)
	assert.Equal(t, core.DeliveryStatusSent, records[0].DeliveryStatus)
	assert.Equal(t, 1, records[0].AttemptCount)
	assert.Equal(t, 1, fake.deliveredCount())

	stored, err := mem.GetRecord(context.Background(), "tenant-a", records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryStatusSent, stored.DeliveryStatus)
}

func TestDispatchRetriesThenSucceeds(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	fake := newFakeChannel("webhook", 2)
	registry.Register(fake)
	sleeper := &recordingSleeper{}

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(),
		WithBackoff(2*time.Second), withSleeper(sleeper.sleep))
	records := d.Dispatch(context.Background(), []core.ChannelConfig{enabledChannel("webhook")}, testMessage())

	require.Len(t, records, 1)
	assert.Equal(t, core.DeliveryStatusSent, records[0].DeliveryStatus)
	assert.Equal(t, 3, records[0].AttemptCount)

	// Backoff doubles between attempts and never decreases.
	intervals := sleeper.recorded()
	require.Len(t, intervals, 2)
	assert.Equal(t, 2*time.Second, intervals[0])
	assert.Equal(t, 4*time.Second, intervals[1])
}

func TestDispatchBoundedAttemptsThenFailed(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	fake := newFakeChannel("webhook", 100)
	registry.Register(fake)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(),
		WithMaxAttempts(3), withSleeper((&recordingSleeper{}).sleep))
	records := d.Dispatch(context.Background(), []core.ChannelConfig{enabledChannel("webhook")}, testMessage())

	require.Len(t, records, 1)
	assert.Equal(t, core.DeliveryStatusFailed, records[0].DeliveryStatus)
	assert.Equal(t, 3, records[0].AttemptCount)
	assert.Equal(t, 3, fake.callCount())
	assert.Equal(t, "simulated delivery failure", records[0].LastError)

	failed, err := mem.GetFailedRecords(context.Background(), "tenant-a", 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestDispatchSkipsDisabledChannels(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	fake := newFakeChannel("webhook", 0)
	registry.Register(fake)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(), withSleeper((&recordingSleeper{}).sleep))
	disabled := core.ChannelConfig{ID: "ch-1", Type: "webhook", Enabled: false}
	records := d.Dispatch(context.Background(), []core.ChannelConfig{disabled}, testMessage())

	assert.Empty(t, records)
	assert.Zero(t, fake.callCount())
}

func TestDispatchUnknownChannelTypeFailsRecord(t *testing.T) {
	mem := storage.NewMemory()
	d := NewDispatcher(NewRegistry(), mem, zap.NewNop().Sugar(), withSleeper((&recordingSleeper{}).sleep))

	records := d.Dispatch(context.Background(), []core.ChannelConfig{enabledChannel("pager")}, testMessage())
	require.Len(t, records, 1)
	assert.Equal(t, core.DeliveryStatusFailed, records[0].DeliveryStatus)
	assert.Contains(t, records[0].LastError, "unknown channel type")
}

func TestDispatchOneFailingChannelDoesNotBlockOthers(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	broken := newFakeChannel("webhook", 100)
	healthy := newFakeChannel("chat", 0)
	registry.Register(broken)
	registry.Register(healthy)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(), withSleeper((&recordingSleeper{}).sleep))
	records := d.Dispatch(context.Background(), []core.ChannelConfig{
		enabledChannel("webhook"),
		{ID: "ch-2", Type: "chat", Enabled: true},
	}, testMessage())

	require.Len(t, records, 2)
	assert.Equal(t, core.DeliveryStatusFailed, records[0].DeliveryStatus)
	assert.Equal(t, core.DeliveryStatusSent, records[1].DeliveryStatus)
	assert.Equal(t, 1, healthy.deliveredCount())
}

func TestResendRetriesFailedRecord(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	fake := newFakeChannel("webhook", 3)
	registry.Register(fake)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(),
		WithMaxAttempts(3), withSleeper((&recordingSleeper{}).sleep))
	channels := []core.ChannelConfig{enabledChannel("webhook")}
	records := d.Dispatch(context.Background(), channels, testMessage())
	require.Len(t, records, 1)
	require.Equal(t, core.DeliveryStatusFailed, records[0].DeliveryStatus)

	// The fourth call succeeds; manual resend picks it up.
	resent, err := d.Resend(context.Background(), "tenant-a", records[0].ID, channels, testMessage())
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryStatusSent, resent.DeliveryStatus)
	assert.Empty(t, resent.LastError)
}

func TestResendIgnoresSentRecords(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	fake := newFakeChannel("webhook", 0)
	registry.Register(fake)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(), withSleeper((&recordingSleeper{}).sleep))
	channels := []core.ChannelConfig{enabledChannel("webhook")}
	records := d.Dispatch(context.Background(), channels, testMessage())
	require.Len(t, records, 1)

	resent, err := d.Resend(context.Background(), "tenant-a", records[0].ID, channels, testMessage())
	require.NoError(t, err)
	assert.Equal(t, core.DeliveryStatusSent, resent.DeliveryStatus)
	assert.Equal(t, 1, fake.callCount())
}

func TestDispatchCutsOffHungEmailSendAtAttemptTimeout(t *testing.T) {
	mem := storage.NewMemory()
	registry := NewRegistry()
	email := NewEmailChannel(zap.NewNop().Sugar())
	release := make(chan struct{})
	email.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		<-release
		return nil
	}
	defer close(release)
	registry.Register(email)

	d := NewDispatcher(registry, mem, zap.NewNop().Sugar(),
		WithMaxAttempts(2),
		WithAttemptTimeout(50*time.Millisecond),
		withSleeper((&recordingSleeper{}).sleep))

	cfg := core.ChannelConfig{
		ID: "ch-1", Type: "email", Enabled: true,
		Settings: map[string]string{
			"smtp_host": "mail.example.com",
			"smtp_port": "587",
			"from":      "guardian@example.com",
			"to":        "oncall@example.com",
		},
	}

	start := time.Now()
	records := d.Dispatch(context.Background(), []core.ChannelConfig{cfg}, testMessage())

	require.Len(t, records, 1)
	assert.Equal(t, core.DeliveryStatusFailed, records[0].DeliveryStatus)
	assert.Equal(t, 2, records[0].AttemptCount)
	assert.Contains(t, records[0].LastError, "aborted")
	assert.Less(t, time.Since(start), time.Second)
}

func TestWebhookChannelDelivers(t *testing.T) {
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(zap.NewNop().Sugar())
	cfg := core.ChannelConfig{
		ID: "ch-1", Type: "webhook", Enabled: true,
		Settings: map[string]string{"url": srv.URL},
	}
	result := ch.Deliver(context.Background(), cfg, testMessage())
	assert.Equal(t, core.DeliverySent, result.Outcome)
	assert.Equal(t, "application/json", gotContentType)
}

func TestWebhookChannelNon2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(zap.NewNop().Sugar())
	cfg := core.ChannelConfig{
		ID: "ch-1", Type: "webhook", Enabled: true,
		Settings: map[string]string{"url": srv.URL},
	}
	result := ch.Deliver(context.Background(), cfg, testMessage())
	assert.Equal(t, core.DeliveryFailed, result.Outcome)
	assert.Contains(t, result.Err, "502")
}

func TestChatChannelDelivers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewChatChannel(zap.NewNop().Sugar())
	cfg := core.ChannelConfig{
		ID: "ch-1", Type: "chat", Enabled: true,
		Settings: map[string]string{"webhook_url": srv.URL},
	}
	result := ch.Deliver(context.Background(), cfg, testMessage())
	assert.Equal(t, core.DeliverySent, result.Outcome)
}

func TestEmailChannelMissingConfigFails(t *testing.T) {
	ch := NewEmailChannel(zap.NewNop().Sugar())
	cfg := core.ChannelConfig{ID: "ch-1", Type: "email", Enabled: true, Settings: map[string]string{}}
	result := ch.Deliver(context.Background(), cfg, testMessage())
	assert.Equal(t, core.DeliveryFailed, result.Outcome)
}

func TestEmailChannelSendsViaInjectedSender(t *testing.T) {
	ch := NewEmailChannel(zap.NewNop().Sugar())
	var gotAddr, gotFrom string
	var gotTo []string
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotFrom = from
		gotTo = to
		return nil
	}

	cfg := core.ChannelConfig{
		ID: "ch-1", Type: "email", Enabled: true,
		Settings: map[string]string{
			"smtp_host": "mail.example.com",
			"smtp_port": "587",
			"from":      "guardian@example.com",
			"to":        "oncall@example.com, secops@example.com",
		},
	}
	result := ch.Deliver(context.Background(), cfg, testMessage())
	assert.Equal(t, core.DeliverySent, result.Outcome)
	assert.Equal(t, "mail.example.com:587", gotAddr)
	assert.Equal(t, "guardian@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@example.com", "secops@example.com"}, gotTo)
}

func TestEmailChannelAbortsOnContextDeadline(t *testing.T) {
	ch := NewEmailChannel(zap.NewNop().Sugar())
	release := make(chan struct{})
	ch.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		<-release
		return nil
	}
	defer close(release)

	cfg := core.ChannelConfig{
		ID: "ch-1", Type: "email", Enabled: true,
		Settings: map[string]string{
			"smtp_host": "mail.example.com",
			"smtp_port": "587",
			"from":      "guardian@example.com",
			"to":        "oncall@example.com",
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := ch.Deliver(ctx, cfg, testMessage())
	assert.Equal(t, core.DeliveryFailed, result.Outcome)
	assert.Contains(t, result.Err, "aborted")
	assert.Less(t, time.Since(start), time.Second)
}
