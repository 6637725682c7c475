package core

import (
	"errors"
	"fmt"
)

// The error taxonomy below mirrors the containment policy of the
// evaluation pipeline: only PersistenceError aborts a tenant run; every
// other category is contained to its stage or item.

// ValidationError reports a malformed rule or condition at save time.
// It is returned before persistence and never reaches evaluation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// EvaluationError reports a failure while evaluating a single rule. The
// rule is skipped for the cycle; all other rules still evaluate.
type EvaluationError struct {
	RuleID string
	Err    error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s evaluation failed: %v", e.RuleID, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// CorrelationError reports a correlation stage failure. The stage emits
// zero clusters for the run and self-heals next cycle.
type CorrelationError struct {
	Err error
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("correlation failed: %v", e.Err)
}

func (e *CorrelationError) Unwrap() error { return e.Err }

// ScoringError reports a risk scoring failure. The score is omitted for
// the cycle and recomputed on the next run.
type ScoringError struct {
	Err error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("risk scoring failed: %v", e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }

// DeliveryError reports a single failed notification attempt. It is
// retried per backoff policy and recorded on the NotificationRecord only;
// it never propagates into the pipeline.
type DeliveryError struct {
	Channel string
	Attempt int
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed on attempt %d: %v", e.Channel, e.Attempt, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// PersistenceError reports that storage is unavailable. The current run
// aborts, is marked failed in the audit log, and the next scheduled run
// retries from a clean slate.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
