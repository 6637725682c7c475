// Package alert turns rule matches into persisted alert events, enforcing
// the debounce invariant: at most one open alert per (rule, dedupe key)
// inside the rule's cooldown window.
package alert

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/detect"
	"guardian/metrics"
	"guardian/storage"
)

// Emitter owns alert creation. No other component inserts alerts.
type Emitter struct {
	alerts storage.AlertStore
	logger *zap.SugaredLogger
}

// NewEmitter creates an alert emitter.
func NewEmitter(alerts storage.AlertStore, logger *zap.SugaredLogger) *Emitter {
	return &Emitter{alerts: alerts, logger: logger}
}

// Result reports what one emit pass did.
type Result struct {
	Emitted    []core.AlertEvent
	Suppressed int
}

// Emit collapses the matches of one rule into candidate alerts keyed by
// dedupe key, suppresses candidates that already have an open alert inside
// the cooldown window, and persists the rest. A storage failure aborts the
// pass; everything already inserted stays durable.
func (e *Emitter) Emit(ctx context.Context, rule *core.Rule, matches []detect.Match, now time.Time) (*Result, error) {
	result := &Result{}
	if len(matches) == 0 {
		return result, nil
	}

	candidates := groupByDedupeKey(rule.ID, matches)
	since := now.Add(-rule.Cooldown())

	for _, cand := range candidates {
		open, err := e.alerts.FindOpenByDedupeKey(ctx, rule.TenantID, rule.ID, cand.key, since)
		if err != nil {
			return result, err
		}
		if len(open) > 0 {
			result.Suppressed++
			metrics.AlertsSuppressed.WithLabelValues(rule.TenantID).Inc()
			e.logger.Debugw("Alert suppressed by cooldown",
				"tenant_id", rule.TenantID,
				"rule_id", rule.ID,
				"dedupe_key", cand.key)
			continue
		}

		alert := core.AlertEvent{
			ID:              uuid.NewString(),
			TenantID:        rule.TenantID,
			RuleID:          rule.ID,
			TriggeredAt:     now,
			MatchedEventIDs: cand.eventIDs,
			MatchedFields:   cand.fields,
			Severity:        rule.Severity,
			Status:          core.AlertStatusOpen,
			DedupeKey:       cand.key,
			UpdatedAt:       now,
		}
		if err := e.alerts.InsertAlert(ctx, &alert); err != nil {
			return result, err
		}
		result.Emitted = append(result.Emitted, alert)
		metrics.AlertsEmitted.WithLabelValues(rule.TenantID, string(rule.Severity)).Inc()
	}

	return result, nil
}

type candidate struct {
	key      string
	fields   map[string]string
	eventIDs []string
}

// groupByDedupeKey collapses matches with identical resolved field values
// into one candidate carrying every matched event ID. Candidate order is
// deterministic so repeated runs over the same window emit identically.
func groupByDedupeKey(ruleID string, matches []detect.Match) []candidate {
	byKey := make(map[string]*candidate)
	var order []string
	for _, m := range matches {
		key := core.DedupeKey(ruleID, m.Fields)
		c, ok := byKey[key]
		if !ok {
			c = &candidate{key: key, fields: m.Fields}
			byKey[key] = c
			order = append(order, key)
		}
		c.eventIDs = append(c.eventIDs, m.EventID)
	}

	out := make([]candidate, 0, len(order))
	for _, key := range order {
		c := byKey[key]
		sort.Strings(c.eventIDs)
		out = append(out, *c)
	}
	return out
}
