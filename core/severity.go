package core

import "strings"

// Severity classifies rules, alerts and incidents.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRanks orders severities for threshold comparisons.
var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// severityWeights feeds cluster scoring and risk scoring.
var severityWeights = map[Severity]float64{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	_, ok := severityRanks[s]
	return ok
}

// Rank returns the ordering rank of the severity. Unknown severities rank
// lowest so a malformed value never satisfies a promotion threshold.
func (s Severity) Rank() int {
	return severityRanks[s]
}

// Weight returns the numeric weight used by cluster and risk scoring.
// Unknown severities weigh zero.
func (s Severity) Weight() float64 {
	return severityWeights[s]
}

// AtLeast reports whether s is at or above the given threshold.
func (s Severity) AtLeast(threshold Severity) bool {
	return s.Rank() >= threshold.Rank()
}

// ParseSeverity normalizes a severity string. Unknown values return
// SeverityLow and false.
func ParseSeverity(raw string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(raw)))
	if s.IsValid() {
		return s, true
	}
	return SeverityLow, false
}
