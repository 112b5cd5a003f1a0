package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	EnvelopeTypeDispatchCommand = "dispatch.command"
	EnvelopeTypeCompletion      = "dispatch.completion"
)

// MessageMetadata travels with every broker message.
type MessageMetadata struct {
	TraceID    string                 `json:"trace_id,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// MessageEnvelope is the wire format for all broker topics. Payload
// holds the type-specific body; Type tells the consumer how to decode
// it.
type MessageEnvelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	TenantID   string          `json:"tenant_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Metadata   MessageMetadata `json:"metadata"`
	Payload    json.RawMessage `json:"payload"`
}

func NewDispatchCommandEnvelope(cmd DispatchCommand, traceID string) (MessageEnvelope, error) {
	body, err := json.Marshal(cmd)
	if err != nil {
		return MessageEnvelope{}, fmt.Errorf("failed to marshal dispatch command: %w", err)
	}

	return MessageEnvelope{
		ID:         uuid.NewString(),
		Type:       EnvelopeTypeDispatchCommand,
		TenantID:   cmd.TenantID,
		OccurredAt: time.Now().UTC(),
		Metadata:   MessageMetadata{TraceID: traceID},
		Payload:    body,
	}, nil
}

func NewCompletionEnvelope(ev CompletionEvent, traceID string) (MessageEnvelope, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return MessageEnvelope{}, fmt.Errorf("failed to marshal completion event: %w", err)
	}

	return MessageEnvelope{
		ID:         uuid.NewString(),
		Type:       EnvelopeTypeCompletion,
		TenantID:   ev.TenantID,
		OccurredAt: time.Now().UTC(),
		Metadata:   MessageMetadata{TraceID: traceID},
		Payload:    body,
	}, nil
}

func (e MessageEnvelope) DecodeDispatchCommand() (DispatchCommand, error) {
	if e.Type != EnvelopeTypeDispatchCommand {
		return DispatchCommand{}, fmt.Errorf("envelope type %q is not a dispatch command", e.Type)
	}
	var cmd DispatchCommand
	if err := json.Unmarshal(e.Payload, &cmd); err != nil {
		return DispatchCommand{}, fmt.Errorf("failed to unmarshal dispatch command: %w", err)
	}
	return cmd, nil
}

func (e MessageEnvelope) DecodeCompletion() (CompletionEvent, error) {
	if e.Type != EnvelopeTypeCompletion {
		return CompletionEvent{}, fmt.Errorf("envelope type %q is not a completion event", e.Type)
	}
	var ev CompletionEvent
	if err := json.Unmarshal(e.Payload, &ev); err != nil {
		return CompletionEvent{}, fmt.Errorf("failed to unmarshal completion event: %w", err)
	}
	return ev, nil
}
