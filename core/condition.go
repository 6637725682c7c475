package core

import (
	"encoding/json"
	"fmt"
)

// ConditionKind tags the variant of a condition tree node.
type ConditionKind string

const (
	ConditionLeaf ConditionKind = "leaf"
	ConditionAnd  ConditionKind = "and"
	ConditionOr   ConditionKind = "or"
	ConditionNot  ConditionKind = "not"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpEq       Operator = "eq"
	OpNeq      Operator = "neq"
	OpGt       Operator = "gt"
	OpGte      Operator = "gte"
	OpLt       Operator = "lt"
	OpLte      Operator = "lte"
	OpContains Operator = "contains"
	OpIn       Operator = "in"
)

var knownOperators = map[Operator]bool{
	OpEq: true, OpNeq: true, OpGt: true, OpGte: true,
	OpLt: true, OpLte: true, OpContains: true, OpIn: true,
}

// IsValid reports whether op is a recognized operator.
func (op Operator) IsValid() bool {
	return knownOperators[op]
}

// Condition is a boolean expression tree over event payload fields.
// Exactly one variant is populated depending on Kind:
//
//	leaf: Field, Op, Value
//	and/or: Children (at least one)
//	not: Child
//
// Unrecognized variants and operators are rejected at parse time so the
// evaluator only ever sees well-formed trees.
type Condition struct {
	Kind     ConditionKind `json:"type"`
	Field    string        `json:"field,omitempty"`
	Op       Operator      `json:"op,omitempty"`
	Value    interface{}   `json:"value,omitempty"`
	Children []*Condition  `json:"conditions,omitempty"`
	Child    *Condition    `json:"condition,omitempty"`
}

// Validate checks the structural shape of the tree: known variants, known
// operators, non-empty field paths and well-formed children. Field names
// are checked against the known-field registry separately at save time.
func (c *Condition) Validate() error {
	if c == nil {
		return &ValidationError{Field: "condition", Reason: "condition tree is empty"}
	}

	switch c.Kind {
	case ConditionLeaf:
		if c.Field == "" {
			return &ValidationError{Field: "condition.field", Reason: "leaf condition requires a field path"}
		}
		if !c.Op.IsValid() {
			return &ValidationError{Field: "condition.op", Reason: fmt.Sprintf("unknown operator %q", c.Op)}
		}
		if c.Value == nil {
			return &ValidationError{Field: "condition.value", Reason: "leaf condition requires a value"}
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]interface{}); !ok {
				return &ValidationError{Field: "condition.value", Reason: "operator \"in\" requires a list value"}
			}
		}
		if len(c.Children) > 0 || c.Child != nil {
			return &ValidationError{Field: "condition", Reason: "leaf condition cannot have children"}
		}
		return nil

	case ConditionAnd, ConditionOr:
		if len(c.Children) == 0 {
			return &ValidationError{Field: "condition.conditions", Reason: fmt.Sprintf("%s condition requires at least one child", c.Kind)}
		}
		for _, child := range c.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil

	case ConditionNot:
		if c.Child == nil {
			return &ValidationError{Field: "condition.condition", Reason: "not condition requires a child"}
		}
		return c.Child.Validate()

	default:
		return &ValidationError{Field: "condition.type", Reason: fmt.Sprintf("unknown condition type %q", c.Kind)}
	}
}

// Fields returns every field path referenced by the tree, in depth-first
// order with duplicates removed. The order is deterministic so derived
// dedupe keys are reproducible.
func (c *Condition) Fields() []string {
	var fields []string
	seen := make(map[string]bool)
	c.walk(func(leaf *Condition) {
		if !seen[leaf.Field] {
			seen[leaf.Field] = true
			fields = append(fields, leaf.Field)
		}
	})
	return fields
}

func (c *Condition) walk(fn func(leaf *Condition)) {
	if c == nil {
		return
	}
	switch c.Kind {
	case ConditionLeaf:
		fn(c)
	case ConditionAnd, ConditionOr:
		for _, child := range c.Children {
			child.walk(fn)
		}
	case ConditionNot:
		c.Child.walk(fn)
	}
}

// ParseCondition decodes a JSON expression tree and validates its shape.
func ParseCondition(data []byte) (*Condition, error) {
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &ValidationError{Field: "condition", Reason: fmt.Sprintf("malformed condition JSON: %v", err)}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
