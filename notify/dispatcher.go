package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/metrics"
	"guardian/storage"
)

const (
	defaultMaxAttempts    = 3
	defaultBaseBackoff    = 2 * time.Second
	defaultAttemptTimeout = 10 * time.Second
)

// sleeper waits for the backoff interval; injectable so tests run without
// real delays. Returns early with the context error on cancellation.
type sleeper func(ctx context.Context, d time.Duration) error

func realSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Dispatcher fans messages out to every enabled tenant channel with
// bounded retries and exponential backoff. One NotificationRecord tracks
// each target+channel pair; record bookkeeping is best-effort and a
// delivery failure never propagates to the caller.
type Dispatcher struct {
	registry       *Registry
	records        storage.NotificationStore
	logger         *zap.SugaredLogger
	maxAttempts    int
	baseBackoff    time.Duration
	attemptTimeout time.Duration
	sleep          sleeper
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts bounds retries per delivery.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// WithBackoff sets the initial backoff interval; each retry doubles it.
func WithBackoff(base time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if base > 0 {
			d.baseBackoff = base
		}
	}
}

// WithAttemptTimeout bounds each individual delivery attempt.
func WithAttemptTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.attemptTimeout = timeout
		}
	}
}

func withSleeper(s sleeper) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = s }
}

// NewDispatcher creates a notification dispatcher.
func NewDispatcher(registry *Registry, records storage.NotificationStore, logger *zap.SugaredLogger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:       registry,
		records:        records,
		logger:         logger,
		maxAttempts:    defaultMaxAttempts,
		baseBackoff:    defaultBaseBackoff,
		attemptTimeout: defaultAttemptTimeout,
		sleep:          realSleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch delivers one message to every enabled channel of the tenant.
// Each channel gets its own record and retry budget; a slow or failing
// channel never blocks the others beyond its own attempts. The returned
// records reflect the final delivery status per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, channels []core.ChannelConfig, msg Message) []core.NotificationRecord {
	var out []core.NotificationRecord
	for _, cfg := range channels {
		if !cfg.Enabled {
			continue
		}
		record := core.NotificationRecord{
			ID:             uuid.NewString(),
			TenantID:       msg.TenantID,
			TargetID:       msg.TargetID,
			TargetKind:     msg.TargetKind,
			Channel:        cfg.Type,
			DeliveryStatus: core.DeliveryStatusPending,
			CreatedAt:      time.Now().UTC(),
		}
		if err := d.records.InsertRecord(ctx, &record); err != nil {
			d.logger.Warnw("Failed to persist notification record",
				"tenant_id", msg.TenantID,
				"channel", cfg.Type,
				"error", err)
		}

		d.deliverWithRetries(ctx, cfg, msg, &record)

		if err := d.records.UpdateRecord(ctx, &record); err != nil {
			d.logger.Warnw("Failed to update notification record",
				"record_id", record.ID,
				"error", err)
		}
		out = append(out, record)
	}
	return out
}

// Resend retries a terminally failed record once more with the full retry
// budget. Only failed records qualify.
func (d *Dispatcher) Resend(ctx context.Context, tenantID, recordID string, channels []core.ChannelConfig, msg Message) (*core.NotificationRecord, error) {
	record, err := d.records.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		return nil, err
	}
	if record.DeliveryStatus != core.DeliveryStatusFailed {
		return record, nil
	}

	var cfg *core.ChannelConfig
	for i := range channels {
		if channels[i].Type == record.Channel && channels[i].Enabled {
			cfg = &channels[i]
			break
		}
	}
	if cfg == nil {
		return record, nil
	}

	record.DeliveryStatus = core.DeliveryStatusPending
	record.LastError = ""
	d.deliverWithRetries(ctx, *cfg, msg, record)

	if err := d.records.UpdateRecord(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

// deliverWithRetries runs the bounded attempt loop, mutating the record
// in place. Backoff doubles between attempts starting from baseBackoff.
func (d *Dispatcher) deliverWithRetries(ctx context.Context, cfg core.ChannelConfig, msg Message, record *core.NotificationRecord) {
	channel, err := d.registry.Lookup(cfg.Type)
	if err != nil {
		record.DeliveryStatus = core.DeliveryStatusFailed
		record.LastError = err.Error()
		metrics.DeliveryAttempts.WithLabelValues(cfg.Type, string(core.DeliveryFailed)).Inc()
		return
	}

	backoff := d.baseBackoff
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		result := channel.Deliver(attemptCtx, cfg, msg)
		cancel()

		now := time.Now().UTC()
		record.AttemptCount = attempt
		record.LastAttemptedAt = &now
		metrics.DeliveryAttempts.WithLabelValues(cfg.Type, string(result.Outcome)).Inc()

		if result.Outcome == core.DeliverySent {
			record.DeliveryStatus = core.DeliveryStatusSent
			record.LastError = ""
			return
		}

		record.LastError = result.Err
		d.logger.Warnw("Delivery attempt failed",
			"channel", cfg.Type,
			"target_id", msg.TargetID,
			"attempt", attempt,
			"error", result.Err)

		if attempt == d.maxAttempts {
			break
		}
		if err := d.sleep(ctx, backoff); err != nil {
			record.LastError = err.Error()
			break
		}
		backoff *= 2
	}
	record.DeliveryStatus = core.DeliveryStatusFailed
}
