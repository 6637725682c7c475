package detect

import (
	"strings"

	"guardian/core"
)

// predicate is a compiled condition node evaluated against an event
// payload. Compilation front-loads all shape checks so evaluation is a
// pure tree walk with no error paths.
type predicate func(payload map[string]interface{}) bool

// compile turns a validated condition tree into a predicate. The tree
// must already have passed core validation; an unexpected variant here is
// a programming error and compiles to a constant-false predicate.
func compile(c *core.Condition) predicate {
	switch c.Kind {
	case core.ConditionLeaf:
		return compileLeaf(c)
	case core.ConditionAnd:
		children := compileChildren(c.Children)
		return func(payload map[string]interface{}) bool {
			for _, child := range children {
				if !child(payload) {
					return false
				}
			}
			return true
		}
	case core.ConditionOr:
		children := compileChildren(c.Children)
		return func(payload map[string]interface{}) bool {
			for _, child := range children {
				if child(payload) {
					return true
				}
			}
			return false
		}
	case core.ConditionNot:
		child := compile(c.Child)
		return func(payload map[string]interface{}) bool {
			return !child(payload)
		}
	default:
		return func(map[string]interface{}) bool { return false }
	}
}

func compileChildren(nodes []*core.Condition) []predicate {
	preds := make([]predicate, len(nodes))
	for i, n := range nodes {
		preds[i] = compile(n)
	}
	return preds
}

func compileLeaf(c *core.Condition) predicate {
	field := c.Field
	op := c.Op
	want := c.Value

	return func(payload map[string]interface{}) bool {
		got, ok := core.LookupField(payload, field)
		if !ok {
			// Missing fields evaluate to false, never error.
			return false
		}
		return compare(op, got, want)
	}
}

// compare applies a leaf operator. Numeric comparisons use float64
// semantics; string comparisons are case-sensitive.
func compare(op core.Operator, got, want interface{}) bool {
	switch op {
	case core.OpEq:
		return valuesEqual(got, want)
	case core.OpNeq:
		return !valuesEqual(got, want)
	case core.OpGt, core.OpGte, core.OpLt, core.OpLte:
		gf, gok := toFloat(got)
		wf, wok := toFloat(want)
		if !gok || !wok {
			return false
		}
		switch op {
		case core.OpGt:
			return gf > wf
		case core.OpGte:
			return gf >= wf
		case core.OpLt:
			return gf < wf
		default:
			return gf <= wf
		}
	case core.OpContains:
		gs, gok := got.(string)
		ws, wok := want.(string)
		if !gok || !wok {
			return false
		}
		return strings.Contains(gs, ws)
	case core.OpIn:
		list, ok := want.([]interface{})
		if !ok {
			return false
		}
		for _, candidate := range list {
			if valuesEqual(got, candidate) {
				return true
			}
		}
		return false
	}
	return false
}

// valuesEqual compares numerically when both sides are numeric, otherwise
// by exact (case-sensitive) string form.
func valuesEqual(got, want interface{}) bool {
	if gf, gok := toFloat(got); gok {
		if wf, wok := toFloat(want); wok {
			return gf == wf
		}
	}
	gs, gok := got.(string)
	ws, wok := want.(string)
	if gok && wok {
		return gs == ws
	}
	gb, gok := got.(bool)
	wb, wok := want.(bool)
	if gok && wok {
		return gb == wb
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
