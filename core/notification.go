package core

import "time"

// DeliveryStatus is the persisted state of a notification delivery.
type DeliveryStatus string

const (
	DeliveryStatusPending DeliveryStatus = "pending"
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusFailed  DeliveryStatus = "failed"
)

// TargetKind distinguishes notification targets.
type TargetKind string

const (
	TargetAlert    TargetKind = "alert"
	TargetIncident TargetKind = "incident"
)

// DeliveryOutcome is the result of a single channel delivery attempt.
// Delivery failures are modeled as values, never as pipeline errors.
type DeliveryOutcome string

const (
	DeliverySent    DeliveryOutcome = "sent"
	DeliveryFailed  DeliveryOutcome = "failed"
	DeliveryPending DeliveryOutcome = "pending"
)

// DeliveryResult carries the outcome of one delivery attempt.
type DeliveryResult struct {
	Outcome DeliveryOutcome
	Err     string
}

// Sent returns a successful delivery result.
func Sent() DeliveryResult {
	return DeliveryResult{Outcome: DeliverySent}
}

// Failed returns a failed delivery result with a reason.
func Failed(reason string) DeliveryResult {
	return DeliveryResult{Outcome: DeliveryFailed, Err: reason}
}

// NotificationRecord tracks one attempted delivery per target and channel.
// Owned by the notification dispatcher; terminal failures are only
// retried through an explicit manual resend.
type NotificationRecord struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenant_id"`
	TargetID        string         `json:"target_id"`
	TargetKind      TargetKind     `json:"target_kind"`
	Channel         string         `json:"channel"`
	DeliveryStatus  DeliveryStatus `json:"delivery_status"`
	AttemptCount    int            `json:"attempt_count"`
	LastAttemptedAt *time.Time     `json:"last_attempted_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}
