package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConditionAcceptsNestedTree(t *testing.T) {
	cond, err := ParseCondition([]byte(`{
		"type": "and",
		"conditions": [
			{"type": "leaf", "field": "auth.outcome", "op": "eq", "value": "failure"},
			{"type": "or", "conditions": [
				{"type": "leaf", "field": "region", "op": "in", "value": ["us-east-1", "eu-west-1"]},
				{"type": "not", "condition": {"type": "leaf", "field": "user", "op": "contains", "value": "svc-"}}
			]}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, ConditionAnd, cond.Kind)
	assert.Len(t, cond.Children, 2)
}

func TestParseConditionRejectsUnknownOperator(t *testing.T) {
	_, err := ParseCondition([]byte(`{"type": "leaf", "field": "user", "op": "regex", "value": ".*"}`))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestParseConditionRejectsUnknownKind(t *testing.T) {
	_, err := ParseCondition([]byte(`{"type": "xor", "conditions": [{"type": "leaf", "field": "user", "op": "eq", "value": "x"}]}`))
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestValidateRejectsEmptyBranches(t *testing.T) {
	cases := map[string]*Condition{
		"and without children": {Kind: ConditionAnd},
		"or without children":  {Kind: ConditionOr},
		"not without child":    {Kind: ConditionNot},
		"leaf without field":   {Kind: ConditionLeaf, Op: OpEq, Value: "x"},
		"leaf without value":   {Kind: ConditionLeaf, Field: "user", Op: OpEq},
		"in with scalar value": {Kind: ConditionLeaf, Field: "user", Op: OpIn, Value: "x"},
	}
	for name, cond := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, cond.Validate())
		})
	}
}

func TestValidateRejectsInvalidNestedChild(t *testing.T) {
	cond := &Condition{
		Kind: ConditionAnd,
		Children: []*Condition{
			{Kind: ConditionLeaf, Field: "user", Op: OpEq, Value: "alice"},
			{Kind: ConditionLeaf, Field: "user", Op: Operator("like"), Value: "x"},
		},
	}
	err := cond.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "like")
}

func TestFieldsDeduplicatesInOrder(t *testing.T) {
	cond := &Condition{
		Kind: ConditionAnd,
		Children: []*Condition{
			{Kind: ConditionLeaf, Field: "source_ip", Op: OpEq, Value: "10.0.0.1"},
			{Kind: ConditionLeaf, Field: "user", Op: OpEq, Value: "alice"},
			{Kind: ConditionNot, Child: &Condition{Kind: ConditionLeaf, Field: "source_ip", Op: OpEq, Value: "10.0.0.2"}},
		},
	}
	assert.Equal(t, []string{"source_ip", "user"}, cond.Fields())
}

func TestRuleValidate(t *testing.T) {
	valid := &Rule{
		TenantID:  "tenant-a",
		Name:      "failed logins",
		Condition: &Condition{Kind: ConditionLeaf, Field: "auth.outcome", Op: OpEq, Value: "failure"},
		Severity:  SeverityHigh,
	}
	require.NoError(t, valid.Validate())

	missingTenant := *valid
	missingTenant.TenantID = ""
	assert.Error(t, missingTenant.Validate())

	badSeverity := *valid
	badSeverity.Severity = "urgent"
	assert.Error(t, badSeverity.Validate())

	negativeCooldown := *valid
	negativeCooldown.CooldownSeconds = -1
	assert.Error(t, negativeCooldown.Validate())
}
