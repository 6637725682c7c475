// Package detect implements the condition evaluator: it matches enabled
// rules against a bounded window of one tenant's events. Evaluation is
// pure and deterministic; identical (rule, window) inputs always yield
// identical ordered match lists.
package detect

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"guardian/core"
	"guardian/metrics"
)

// compiledCacheSize bounds the compiled-condition cache. Condition trees
// are small; this comfortably covers the rule sets seen in practice.
const compiledCacheSize = 1024

// Match pairs one matched event with the rule that matched it. Fields
// holds the normalized values of every field the condition references,
// resolved from the matched event; the alert emitter derives the dedupe
// key from them.
type Match struct {
	EventID string
	RuleID  string
	Fields  map[string]string
}

type compiledRule struct {
	pred      predicate
	fields    []string
	updatedAt time.Time
}

// Evaluator compiles rule conditions once and evaluates them against
// event windows. Compiled predicates are cached per rule ID and
// invalidated when the rule's UpdatedAt changes.
type Evaluator struct {
	cache  *lru.Cache[string, *compiledRule]
	logger *zap.SugaredLogger
}

// NewEvaluator creates an evaluator with a bounded compile cache.
func NewEvaluator(logger *zap.SugaredLogger) *Evaluator {
	cache, _ := lru.New[string, *compiledRule](compiledCacheSize)
	return &Evaluator{
		cache:  cache,
		logger: logger,
	}
}

// EvaluateRule returns the ordered matches of one rule over an event
// window, preserving event arrival order. A panic while evaluating is
// recovered and returned as an EvaluationError so one bad rule never
// takes down the cycle.
func (e *Evaluator) EvaluateRule(rule *core.Rule, events []core.Event) (matches []Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = &core.EvaluationError{RuleID: rule.ID, Err: fmt.Errorf("panic during evaluation: %v", r)}
		}
	}()

	compiled, cerr := e.compiled(rule)
	if cerr != nil {
		return nil, &core.EvaluationError{RuleID: rule.ID, Err: cerr}
	}

	for _, event := range events {
		if event.TenantID != rule.TenantID {
			// Hard tenant isolation: never match across tenants even if a
			// caller hands us a mixed window.
			continue
		}
		if !compiled.pred(event.Payload) {
			continue
		}
		matches = append(matches, Match{
			EventID: event.ID,
			RuleID:  rule.ID,
			Fields:  resolveFields(event.Payload, compiled.fields),
		})
	}

	metrics.RulesEvaluated.WithLabelValues(rule.TenantID).Inc()
	return matches, nil
}

// EvaluateAll sweeps every enabled rule over the window with per-rule
// isolation: a failing rule is reported through onError and skipped,
// every other rule still evaluates. Each surviving rule's matches are
// handed to visit in rule order; a visit error aborts the sweep.
func (e *Evaluator) EvaluateAll(rules []core.Rule, events []core.Event, onError func(ruleID string, err error), visit func(rule *core.Rule, matches []Match) error) error {
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled {
			continue
		}
		matches, err := e.EvaluateRule(rule, events)
		if err != nil {
			metrics.RuleEvaluationErrors.WithLabelValues(rule.TenantID).Inc()
			e.logger.Warnw("Rule skipped for this cycle",
				"rule_id", rule.ID,
				"tenant_id", rule.TenantID,
				"error", err)
			if onError != nil {
				onError(rule.ID, err)
			}
			continue
		}
		if err := visit(rule, matches); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateCache drops the compiled predicate for a rule. Called by the
// rule store after updates.
func (e *Evaluator) InvalidateCache(ruleID string) {
	e.cache.Remove(ruleID)
}

func (e *Evaluator) compiled(rule *core.Rule) (*compiledRule, error) {
	if cached, ok := e.cache.Get(rule.ID); ok && cached.updatedAt.Equal(rule.UpdatedAt) {
		return cached, nil
	}

	if err := rule.Condition.Validate(); err != nil {
		return nil, err
	}

	compiled := &compiledRule{
		pred:      compile(rule.Condition),
		fields:    rule.Condition.Fields(),
		updatedAt: rule.UpdatedAt,
	}
	e.cache.Add(rule.ID, compiled)
	return compiled, nil
}

// resolveFields renders the referenced field values of a matched event as
// canonical strings. Missing fields are recorded as empty strings so the
// dedupe key shape stays stable for a given rule.
func resolveFields(payload map[string]interface{}, fields []string) map[string]string {
	resolved := make(map[string]string, len(fields))
	for _, f := range fields {
		value, ok := core.LookupField(payload, f)
		if !ok {
			resolved[f] = ""
			continue
		}
		resolved[f] = core.NormalizeFieldValue(value)
	}
	return resolved
}
