package storage

import "errors"

// Storage error constants
var (
	// ErrRuleNotFound is returned when a rule is not found
	ErrRuleNotFound = errors.New("rule not found")

	// ErrTenantNotFound is returned when a tenant is not found
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrAlertNotFound is returned when an alert event is not found
	ErrAlertNotFound = errors.New("alert event not found")

	// ErrIncidentNotFound is returned when an incident is not found
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrScoreNotFound is returned when a risk score is not found
	ErrScoreNotFound = errors.New("risk score not found")

	// ErrRecordNotFound is returned when a notification record is not found
	ErrRecordNotFound = errors.New("notification record not found")

	// ErrDuplicateRule is returned when creating a rule that already exists
	ErrDuplicateRule = errors.New("rule already exists")

	// ErrDatabaseClosed is returned when using a closed database connection
	ErrDatabaseClosed = errors.New("database is closed")
)

// IsNotFound reports whether err is one of the not-found sentinels.
// Not-found conditions are expected lookups, not persistence failures.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrTenantNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrIncidentNotFound) ||
		errors.Is(err, ErrScoreNotFound) ||
		errors.Is(err, ErrRecordNotFound)
}
