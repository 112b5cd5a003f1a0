package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultDispatchTopic   = "lead_dispatch_commands"
	DefaultCompletionTopic = "lead_dispatch_completions"
)

const (
	CacheKeyPrefixRateLimit = "rl:"
	CacheKeyPrefixControl   = "ctrl:"
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	APIKeyHeader = "X-API-Key"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

const (
	DeadLetterCollection = "dead_letters"
)

const (
	EmergencyModeDrain = "drain"
	EmergencyModeHalt  = "halt"
)

const (
	AuditActionPause     = "pause"
	AuditActionResume    = "resume"
	AuditActionEmergency = "emergency"
	AuditActionClear     = "emergency_clear"
	AuditActionResolve   = "dead_letter_resolve"
	AuditActionCancel    = "queue_item_cancel"
)
