// Package rules owns rule input: schema validation, known-field checks
// and the YAML rule-file loader. Every rule is validated here before it
// reaches storage; the evaluator only ever sees well-formed rules.
package rules

import (
	"sort"
	"strings"
	"sync"
)

// FieldRegistry is the set of event payload field paths rules may
// reference. Conditions referencing unknown fields are rejected at save
// time so typos surface immediately instead of silently never matching.
type FieldRegistry struct {
	mu     sync.RWMutex
	fields map[string]bool
}

// defaultFields covers the payload shape produced by the ingest sources.
var defaultFields = []string{
	"source_ip",
	"destination_ip",
	"user",
	"resource_id",
	"region",
	"outcome",
	"event_type",
	"severity",
	"auth.outcome",
	"auth.method",
	"network.port",
	"network.protocol",
	"process.name",
	"process.pid",
}

// NewFieldRegistry creates a registry seeded with the default fields.
func NewFieldRegistry(extra ...string) *FieldRegistry {
	r := &FieldRegistry{fields: make(map[string]bool)}
	for _, f := range defaultFields {
		r.fields[f] = true
	}
	for _, f := range extra {
		r.Register(f)
	}
	return r
}

// Register adds a field path.
func (r *FieldRegistry) Register(field string) {
	field = strings.TrimSpace(field)
	if field == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fields[field] = true
}

// Known reports whether the field path is registered.
func (r *FieldRegistry) Known(field string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fields[field]
}

// Fields returns the registered paths sorted for stable output.
func (r *FieldRegistry) Fields() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
