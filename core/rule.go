package core

import (
	"time"
)

// Rule is a stored condition definition that produces alerts when matched
// against events. A rule belongs to exactly one tenant; its condition
// references only known fields, enforced at save time.
type Rule struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenant_id"`
	Name             string     `json:"name"`
	Description      string     `json:"description,omitempty"`
	Condition        *Condition `json:"condition"`
	Severity         Severity   `json:"severity"`
	CooldownSeconds  int        `json:"cooldown_seconds"`
	Enabled          bool       `json:"enabled"`
	ScheduleInterval int        `json:"schedule_interval,omitempty"` // seconds; 0 = tenant default
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Cooldown returns the debounce window as a duration.
func (r *Rule) Cooldown() time.Duration {
	return time.Duration(r.CooldownSeconds) * time.Second
}

// Validate checks the rule's own shape. Field-registry checks against the
// known-field schema happen in the rules package at save time.
func (r *Rule) Validate() error {
	if r == nil {
		return &ValidationError{Field: "rule", Reason: "rule is nil"}
	}
	if r.TenantID == "" {
		return &ValidationError{Field: "tenant_id", Reason: "rule must belong to a tenant"}
	}
	if r.Name == "" {
		return &ValidationError{Field: "name", Reason: "rule name is required"}
	}
	if !r.Severity.IsValid() {
		return &ValidationError{Field: "severity", Reason: "unknown severity: " + string(r.Severity)}
	}
	if r.CooldownSeconds < 0 {
		return &ValidationError{Field: "cooldown_seconds", Reason: "cooldown cannot be negative"}
	}
	return r.Condition.Validate()
}
