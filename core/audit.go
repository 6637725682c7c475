package core

import "time"

// AuditKind classifies an audit log entry.
type AuditKind string

const (
	AuditRunStarted   AuditKind = "run_started"
	AuditRunFinished  AuditKind = "run_finished"
	AuditRunFailed    AuditKind = "run_failed"
	AuditStageOutcome AuditKind = "stage_outcome"
	AuditSideEffect   AuditKind = "side_effect"
	AuditRuleSkipped  AuditKind = "rule_skipped"
)

// AuditLogEntry is an append-only record of a run, stage outcome or side
// effect. Entries are immutable once written.
type AuditLogEntry struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	RunID     string    `json:"run_id"`
	Kind      AuditKind `json:"kind"`
	Stage     string    `json:"stage,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
