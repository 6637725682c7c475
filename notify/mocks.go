package notify

import (
	"context"
	"sync"
	"time"

	"guardian/core"
)

// fakeChannel is a scriptable adapter for dispatcher tests. It fails the
// first FailuresBeforeSuccess deliveries, then succeeds.
type fakeChannel struct {
	mu                    sync.Mutex
	name                  string
	failuresBeforeSuccess int
	calls                 int
	delivered             []Message
}

func newFakeChannel(name string, failuresBeforeSuccess int) *fakeChannel {
	return &fakeChannel{name: name, failuresBeforeSuccess: failuresBeforeSuccess}
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Deliver(ctx context.Context, cfg core.ChannelConfig, msg Message) core.DeliveryResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failuresBeforeSuccess {
		return core.Failed("simulated delivery failure")
	}
	f.delivered = append(f.delivered, msg)
	return core.Sent()
}

func (f *fakeChannel) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeChannel) deliveredCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// recordingSleeper captures backoff intervals instead of sleeping.
type recordingSleeper struct {
	mu        sync.Mutex
	intervals []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intervals = append(r.intervals, d)
	return nil
}

func (r *recordingSleeper) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.intervals))
	copy(out, r.intervals)
	return out
}
