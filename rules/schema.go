package rules

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"guardian/core"
)

// ruleSchema validates the structural shape of rule input before any
// domain checks run. It mirrors the condition AST: tagged variants with
// exactly the keys each variant allows.
const ruleSchema = `{
	"type": "object",
	"required": ["tenant_id", "name", "condition", "severity"],
	"properties": {
		"id": {"type": "string"},
		"tenant_id": {"type": "string", "minLength": 1},
		"name": {"type": "string", "minLength": 1},
		"description": {"type": "string"},
		"condition": {"$ref": "#/definitions/condition"},
		"severity": {"enum": ["low", "medium", "high", "critical"]},
		"cooldown_seconds": {"type": "integer", "minimum": 0},
		"enabled": {"type": "boolean"},
		"schedule_interval": {"type": "integer", "minimum": 0}
	},
	"definitions": {
		"condition": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"enum": ["leaf", "and", "or", "not"]},
				"field": {"type": "string"},
				"op": {"enum": ["eq", "neq", "gt", "gte", "lt", "lte", "contains", "in"]},
				"value": {},
				"conditions": {
					"type": "array",
					"items": {"$ref": "#/definitions/condition"},
					"minItems": 1
				},
				"condition": {"$ref": "#/definitions/condition"}
			}
		}
	}
}`

// Validator checks rule input end to end: JSON schema shape, condition
// tree structure and known-field membership.
type Validator struct {
	schema   *gojsonschema.Schema
	registry *FieldRegistry
}

// NewValidator compiles the rule schema. The registry may not be nil.
func NewValidator(registry *FieldRegistry) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ruleSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule schema: %w", err)
	}
	return &Validator{schema: schema, registry: registry}, nil
}

// ValidateJSON validates raw rule JSON and returns the parsed rule. All
// failures are ValidationErrors suitable for API responses.
func (v *Validator) ValidateJSON(data []byte) (*core.Rule, error) {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, &core.ValidationError{Field: "rule", Reason: fmt.Sprintf("malformed rule JSON: %v", err)}
	}
	if !result.Valid() {
		first := result.Errors()[0]
		return nil, &core.ValidationError{Field: first.Field(), Reason: first.Description()}
	}

	var rule core.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, &core.ValidationError{Field: "rule", Reason: fmt.Sprintf("failed to decode rule: %v", err)}
	}
	if err := v.ValidateRule(&rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// ValidateRule runs the domain checks on an already-decoded rule.
func (v *Validator) ValidateRule(rule *core.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	for _, field := range rule.Condition.Fields() {
		if !v.registry.Known(field) {
			return &core.ValidationError{
				Field:  "condition.field",
				Reason: fmt.Sprintf("unknown field %q; known fields: %v", field, v.registry.Fields()),
			}
		}
	}
	return nil
}
