package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

// AlertStatus is the lifecycle state of an alert event.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// IsValid reports whether s is a known alert status.
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusOpen, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	}
	return false
}

// alertTransitions defines allowed alert state transitions.
var alertTransitions = map[AlertStatus][]AlertStatus{
	AlertStatusOpen:         {AlertStatusAcknowledged, AlertStatusResolved},
	AlertStatusAcknowledged: {AlertStatusResolved},
	AlertStatusResolved:     {},
}

// AlertEvent is produced by the alert emitter when a rule matches events.
// At most one open AlertEvent exists per (rule_id, dedupe_key) inside the
// rule's cooldown window. Created exclusively by the emitter; mutated to
// acknowledged/resolved by the incident bridge or manual action.
type AlertEvent struct {
	ID              string            `json:"id"`
	TenantID        string            `json:"tenant_id"`
	RuleID          string            `json:"rule_id"`
	TriggeredAt     time.Time         `json:"triggered_at"`
	MatchedEventIDs []string          `json:"matched_event_ids"`
	MatchedFields   map[string]string `json:"matched_fields,omitempty"`
	Severity        Severity          `json:"severity"`
	Status          AlertStatus       `json:"status"`
	DedupeKey       string            `json:"dedupe_key"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// TransitionTo validates and executes an alert state transition.
func (a *AlertEvent) TransitionTo(newStatus AlertStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid alert status: %s", newStatus)
	}
	allowed, exists := alertTransitions[a.Status]
	if !exists {
		return fmt.Errorf("unknown current alert status: %s", a.Status)
	}
	for _, s := range allowed {
		if s == newStatus {
			a.Status = newStatus
			return nil
		}
	}
	return fmt.Errorf("invalid alert transition: %s -> %s", a.Status, newStatus)
}

// CanTransitionTo checks a transition without executing it.
func (a *AlertEvent) CanTransitionTo(newStatus AlertStatus) bool {
	for _, s := range alertTransitions[a.Status] {
		if s == newStatus {
			return true
		}
	}
	return false
}

// DedupeKey derives the debounce identifier for an alert from the rule ID
// and the normalized matched field values. The derivation is reproducible:
// fields are sorted by name before hashing so identical matches always
// produce identical keys.
func DedupeKey(ruleID string, matchedFields map[string]string) string {
	keys := make([]string, 0, len(matchedFields))
	for k := range matchedFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(ruleID)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(matchedFields[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
