// Package audit records run outcomes and side effects on an append-only
// trail. The sink is asynchronous with a bounded queue: when the queue is
// full, entries are dropped and counted rather than blocking the
// pipeline.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/metrics"
	"guardian/storage"
	"guardian/util/goroutine"
)

const defaultQueueSize = 1024

// Sink buffers audit entries and persists them from a single consumer
// goroutine. Entry order is preserved per sink.
type Sink struct {
	store  storage.AuditStore
	logger *zap.SugaredLogger
	queue  chan core.AuditLogEntry
	done   chan struct{}
	once   sync.Once
}

// NewSink creates and starts an audit sink. queueSize <= 0 uses the
// default.
func NewSink(store storage.AuditStore, logger *zap.SugaredLogger, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &Sink{
		store:  store,
		logger: logger,
		queue:  make(chan core.AuditLogEntry, queueSize),
		done:   make(chan struct{}),
	}
	go s.consume()
	return s
}

func (s *Sink) consume() {
	defer goroutine.Recover("audit-sink", s.logger)
	defer close(s.done)
	for entry := range s.queue {
		// Persistence failures here are logged, not propagated: the audit
		// trail is an observer, never a gate on the pipeline.
		if err := s.store.AppendEntry(context.Background(), &entry); err != nil {
			s.logger.Errorw("Failed to persist audit entry",
				"tenant_id", entry.TenantID,
				"run_id", entry.RunID,
				"kind", entry.Kind,
				"error", err)
		}
	}
}

// Record enqueues an entry without blocking. A full queue drops the entry
// and increments the drop counter.
func (s *Sink) Record(entry core.AuditLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	select {
	case s.queue <- entry:
	default:
		metrics.AuditEntriesDropped.Inc()
		s.logger.Warnw("Audit queue full, entry dropped",
			"tenant_id", entry.TenantID,
			"kind", entry.Kind)
	}
}

// RunStarted records the start of a tenant run.
func (s *Sink) RunStarted(tenantID, runID string) {
	s.Record(core.AuditLogEntry{
		TenantID: tenantID,
		RunID:    runID,
		Kind:     core.AuditRunStarted,
	})
}

// RunFinished records a completed tenant run.
func (s *Sink) RunFinished(tenantID, runID, detail string) {
	s.Record(core.AuditLogEntry{
		TenantID: tenantID,
		RunID:    runID,
		Kind:     core.AuditRunFinished,
		Detail:   detail,
	})
}

// RunFailed records a run aborted by a persistence failure.
func (s *Sink) RunFailed(tenantID, runID, detail string) {
	s.Record(core.AuditLogEntry{
		TenantID: tenantID,
		RunID:    runID,
		Kind:     core.AuditRunFailed,
		Detail:   detail,
	})
}

// StageOutcome records the outcome of one pipeline stage.
func (s *Sink) StageOutcome(tenantID, runID, stage, outcome, detail string) {
	s.Record(core.AuditLogEntry{
		TenantID: tenantID,
		RunID:    runID,
		Kind:     core.AuditStageOutcome,
		Stage:    stage,
		Outcome:  outcome,
		Detail:   detail,
	})
}

// RuleSkipped records a rule excluded from a cycle by an evaluation
// error.
func (s *Sink) RuleSkipped(tenantID, runID, ruleID, reason string) {
	s.Record(core.AuditLogEntry{
		TenantID: tenantID,
		RunID:    runID,
		Kind:     core.AuditRuleSkipped,
		Stage:    "detect",
		Outcome:  ruleID,
		Detail:   reason,
	})
}

// SideEffect records a side effect such as a notification fan-out.
func (s *Sink) SideEffect(tenantID, runID, stage, detail string) {
	s.Record(core.AuditLogEntry{
		TenantID: tenantID,
		RunID:    runID,
		Kind:     core.AuditSideEffect,
		Stage:    stage,
		Detail:   detail,
	})
}

// Close stops accepting entries and waits for the queue to drain.
func (s *Sink) Close() {
	s.once.Do(func() {
		close(s.queue)
		<-s.done
	})
}
