package admin

import "time"

// ControlAuditLog records who performed a control action, when, and
// why. Every pause, resume, emergency trigger, cancellation, and
// dead-letter resolution writes one.
type ControlAuditLog struct {
	ID             string    `json:"id"`
	Action         string    `json:"action"`
	TargetTenantID string    `json:"target_tenant_id,omitempty"`
	TargetID       string    `json:"target_id,omitempty"`
	Actor          string    `json:"actor"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

type PauseRequest struct {
	// TenantID empty means the global pause flag.
	TenantID string `json:"tenant_id"`
	Actor    string `json:"actor" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

type EmergencyRequest struct {
	Mode            string `json:"mode" binding:"required"`
	Reason          string `json:"reason" binding:"required"`
	Actor           string `json:"actor" binding:"required"`
	DurationSeconds int    `json:"duration_seconds" binding:"required"`
}

type ClearEmergencyRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason"`
}

type ResolveDeadLetterRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

type CancelRequest struct {
	Actor  string `json:"actor" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}
