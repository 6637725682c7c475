// Package scheduler drives tenant evaluation runs: one timer loop per
// enabled tenant, a shared worker pool and a per-tenant lease so no
// tenant ever has two overlapping runs, even across engine instances.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"guardian/core"
	"guardian/metrics"
	"guardian/storage"
	"guardian/util/goroutine"
)

// Runner executes one evaluation run for a tenant. Implemented by the
// pipeline.
type Runner interface {
	RunTenant(ctx context.Context, tenant core.TenantSettings) error
}

// Config tunes the scheduler.
type Config struct {
	// DefaultInterval applies to tenants with no eval interval of their
	// own.
	DefaultInterval time.Duration
	// LeaseTTL bounds how long a crashed run can block its tenant.
	LeaseTTL time.Duration
	// Workers and QueueSize size the run pool.
	Workers   int
	QueueSize int
	// RefreshInterval controls how often the tenant list is re-read.
	RefreshInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultInterval <= 0 {
		c.DefaultInterval = 5 * time.Minute
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 10 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = time.Minute
	}
}

// Scheduler owns the tenant timer loops.
type Scheduler struct {
	tenants storage.TenantStore
	runner  Runner
	lease   Lease
	pool    *WorkerPool
	logger  *zap.SugaredLogger
	cfg     Config

	mu     sync.Mutex
	loops  map[string]context.CancelFunc
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler. Start launches the loops.
func New(ctx context.Context, tenants storage.TenantStore, runner Runner, lease Lease, logger *zap.SugaredLogger, cfg Config) *Scheduler {
	cfg.applyDefaults()
	schedCtx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		tenants: tenants,
		runner:  runner,
		lease:   lease,
		pool:    NewWorkerPool(schedCtx, cfg.Workers, cfg.QueueSize, "scheduler", logger),
		logger:  logger,
		cfg:     cfg,
		loops:   make(map[string]context.CancelFunc),
		ctx:     schedCtx,
		cancel:  cancel,
	}
}

// Start launches the worker pool, the tenant refresh loop and one timer
// loop per enabled tenant.
func (s *Scheduler) Start() error {
	s.pool.Start()
	if err := s.refreshTenants(); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.refreshLoop()
	return nil
}

// Stop cancels every loop and drains the pool.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	s.pool.Stop(30 * time.Second)
}

// TriggerNow schedules an immediate run for one tenant, subject to the
// same lease as scheduled runs.
func (s *Scheduler) TriggerNow(ctx context.Context, tenantID string) error {
	tenant, err := s.tenants.GetTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	return s.pool.Submit(func() { s.runOnce(*tenant) })
}

func (s *Scheduler) refreshLoop() {
	defer s.wg.Done()
	defer goroutine.Recover("scheduler-refresh", s.logger)

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.refreshTenants(); err != nil {
				s.logger.Warnw("Tenant refresh failed", "error", err)
			}
		}
	}
}

// refreshTenants reconciles timer loops with the current tenant list:
// new enabled tenants get a loop, removed or disabled tenants lose
// theirs.
func (s *Scheduler) refreshTenants() error {
	tenants, err := s.tenants.GetTenants(s.ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(tenants))
	for _, tenant := range tenants {
		if !tenant.Enabled {
			continue
		}
		seen[tenant.TenantID] = true
		if _, running := s.loops[tenant.TenantID]; running {
			continue
		}
		loopCtx, cancel := context.WithCancel(s.ctx)
		s.loops[tenant.TenantID] = cancel
		s.wg.Add(1)
		go s.tenantLoop(loopCtx, tenant)
	}
	for tenantID, cancel := range s.loops {
		if !seen[tenantID] {
			cancel()
			delete(s.loops, tenantID)
		}
	}
	return nil
}

func (s *Scheduler) tenantLoop(ctx context.Context, tenant core.TenantSettings) {
	defer s.wg.Done()
	defer goroutine.Recover("scheduler-tenant-loop", s.logger)

	interval := tenant.EvalInterval(s.cfg.DefaultInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Infow("Tenant schedule started",
		"tenant_id", tenant.TenantID,
		"interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Settings may have changed since the loop started; run with
			// the current ones.
			current, err := s.tenants.GetTenant(ctx, tenant.TenantID)
			if err != nil {
				s.logger.Warnw("Failed to load tenant for run",
					"tenant_id", tenant.TenantID,
					"error", err)
				continue
			}
			if next := current.EvalInterval(s.cfg.DefaultInterval); next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.Infow("Tenant schedule adjusted",
					"tenant_id", tenant.TenantID,
					"interval", interval)
			}
			if !current.Enabled {
				continue
			}
			if err := s.pool.Submit(func() { s.runOnce(*current) }); err != nil {
				s.logger.Warnw("Run not scheduled",
					"tenant_id", tenant.TenantID,
					"error", err)
			}
		}
	}
}

// runOnce takes the tenant lease, executes the run and releases the
// lease. A held lease skips the run; the next tick retries.
func (s *Scheduler) runOnce(tenant core.TenantSettings) {
	acquired, err := s.lease.Acquire(s.ctx, tenant.TenantID, s.cfg.LeaseTTL)
	if err != nil {
		s.logger.Errorw("Lease acquisition failed",
			"tenant_id", tenant.TenantID,
			"error", err)
		return
	}
	if !acquired {
		metrics.LeaseConflicts.WithLabelValues(tenant.TenantID).Inc()
		s.logger.Debugw("Run skipped, lease held elsewhere", "tenant_id", tenant.TenantID)
		return
	}
	defer func() {
		if err := s.lease.Release(s.ctx, tenant.TenantID); err != nil {
			s.logger.Warnw("Lease release failed",
				"tenant_id", tenant.TenantID,
				"error", err)
		}
	}()

	if err := s.runner.RunTenant(s.ctx, tenant); err != nil {
		s.logger.Errorw("Tenant run failed",
			"tenant_id", tenant.TenantID,
			"error", err)
	}
}
