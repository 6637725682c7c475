package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event is an append-only telemetry record. The payload is opaque to the
// engine except for field-path resolution during evaluation.
type Event struct {
	ID         string                 `json:"id"`
	TenantID   string                 `json:"tenant_id"`
	Source     string                 `json:"source"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// LookupField resolves a dotted field path into a payload map. A missing
// segment or a non-map intermediate returns (nil, false), never an error:
// absent fields make leaf conditions evaluate to false.
func LookupField(payload map[string]interface{}, path string) (interface{}, bool) {
	if payload == nil || path == "" {
		return nil, false
	}

	segments := strings.Split(path, ".")
	current := interface{}(payload)
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// NormalizeFieldValue renders a payload value as a canonical string for
// dedupe keys and correlation dimensions. Numeric values are rendered
// without trailing zeros so 5 and 5.0 normalize identically.
func NormalizeFieldValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
