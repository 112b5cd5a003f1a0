package models

import "time"

// DeadLetterRecord is the terminal failure record. Records are never
// auto-deleted; resolution is an explicit audited admin action and does
// not re-enqueue the item.
type DeadLetterRecord struct {
	ID             string          `bson:"_id" json:"id"`
	QueueItemID    string          `bson:"queue_item_id" json:"queue_item_id"`
	TenantID       string          `bson:"tenant_id" json:"tenant_id"`
	LeadID         string          `bson:"lead_id" json:"lead_id"`
	FinalErrorKind ErrorKind       `bson:"final_error_kind" json:"final_error_kind"`
	AttemptHistory []AttemptRecord `bson:"attempt_history" json:"attempt_history"`
	ManualReview   bool            `bson:"manual_review" json:"manual_review"`
	EnteredAt      time.Time       `bson:"entered_at" json:"entered_at"`
	Resolved       bool            `bson:"resolved" json:"resolved"`
	ResolvedBy     string          `bson:"resolved_by,omitempty" json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time      `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	ResolveReason  string          `bson:"resolve_reason,omitempty" json:"resolve_reason,omitempty"`
}
