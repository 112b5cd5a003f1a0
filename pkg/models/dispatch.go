package models

import "time"

// ErrorKind classifies a dispatch failure and drives the retry policy.
type ErrorKind string

const (
	ErrorKindTransient       ErrorKind = "transient"
	ErrorKindRateLimited     ErrorKind = "rate_limited"
	ErrorKindValidation      ErrorKind = "validation"
	ErrorKindExternalService ErrorKind = "external_service"
	ErrorKindConsent         ErrorKind = "consent_compliance"
	ErrorKindSystem          ErrorKind = "system"
)

// DispatchCommand is what the pipeline emits to the external executor.
// The pipeline does not know how the executor fulfills it, only whether
// a CompletionEvent later reports ack or fail.
type DispatchCommand struct {
	QueueItemID   string        `json:"queue_item_id"`
	TenantID      string        `json:"tenant_id"`
	LeadID        string        `json:"lead_id"`
	Contact       Contact       `json:"contact"`
	PriorityClass PriorityClass `json:"priority_class"`
	Attempt       int           `json:"attempt"`
	IssuedAt      time.Time     `json:"issued_at"`
}

type CompletionOutcome string

const (
	OutcomeAck  CompletionOutcome = "ack"
	OutcomeFail CompletionOutcome = "fail"
)

// CompletionEvent flows back from the executor after an attempt.
type CompletionEvent struct {
	QueueItemID string            `json:"queue_item_id"`
	TenantID    string            `json:"tenant_id"`
	Outcome     CompletionOutcome `json:"outcome"`
	ErrorKind   ErrorKind         `json:"error_kind,omitempty"`
	ReportedAt  time.Time         `json:"reported_at"`
}
