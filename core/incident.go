package core

import (
	"fmt"
	"time"
)

// IncidentStatus is the lifecycle state of an incident.
type IncidentStatus string

const (
	IncidentStatusOpen          IncidentStatus = "open"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IsValid reports whether s is a known incident status.
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusOpen, IncidentStatusInvestigating, IncidentStatusResolved:
		return true
	}
	return false
}

var incidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentStatusOpen:          {IncidentStatusInvestigating, IncidentStatusResolved},
	IncidentStatusInvestigating: {IncidentStatusResolved},
	IncidentStatusResolved:      {},
}

// Incident is created by the incident bridge when an alert meets the
// promotion criteria (severity at or above threshold, or recurrence count
// at or above the configured minimum).
type Incident struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	SourceAlertIDs []string       `json:"source_alert_ids"`
	Status         IncidentStatus `json:"status"`
	CreatedAt      time.Time      `json:"created_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// TransitionTo validates and executes an incident state transition. The
// resolved timestamp is stamped on entry to the resolved state.
func (i *Incident) TransitionTo(newStatus IncidentStatus, now time.Time) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid incident status: %s", newStatus)
	}
	allowed, exists := incidentTransitions[i.Status]
	if !exists {
		return fmt.Errorf("unknown current incident status: %s", i.Status)
	}
	for _, s := range allowed {
		if s == newStatus {
			i.Status = newStatus
			if newStatus == IncidentStatusResolved {
				resolved := now
				i.ResolvedAt = &resolved
			}
			return nil
		}
	}
	return fmt.Errorf("invalid incident transition: %s -> %s", i.Status, newStatus)
}

// IsFinalState reports whether the incident can no longer transition.
func (i *Incident) IsFinalState() bool {
	return len(incidentTransitions[i.Status]) == 0
}
