package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestValidateRuleCommandAcceptsValidFile(t *testing.T) {
	dir := t.TempDir()
	path := writeRuleFile(t, dir, "rule.yaml", `
tenant_id: tenant-a
name: failed logins
condition:
  type: leaf
  field: auth.outcome
  op: eq
  value: failure
severity: high
`)

	cmd := newValidateRuleCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{path})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "OK")
}

func TestValidateRuleCommandRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	good := writeRuleFile(t, dir, "good.json", `{
		"tenant_id": "tenant-a",
		"name": "ok",
		"condition": {"type": "leaf", "field": "user", "op": "eq", "value": "alice"},
		"severity": "low"
	}`)
	bad := writeRuleFile(t, dir, "bad.yaml", `
tenant_id: tenant-a
name: typo
condition:
  type: leaf
  field: not_a_field
  op: eq
  value: x
severity: low
`)

	cmd := newValidateRuleCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs([]string{good, bad})

	require.Error(t, cmd.Execute())
	assert.Contains(t, out.String(), "OK")
	assert.Contains(t, errOut.String(), "INVALID")
	assert.Contains(t, errOut.String(), "not_a_field")
}
