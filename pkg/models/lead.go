package models

import "time"

type Source string

const (
	SourceAdPlatform Source = "ad_platform"
	SourceCRM        Source = "crm"
	SourceForm       Source = "form"
	SourceDirectAPI  Source = "direct_api"
	SourceOther      Source = "other"
)

type Urgency string

const (
	UrgencyEmergency Urgency = "emergency"
	UrgencyHigh      Urgency = "high"
	UrgencyMedium    Urgency = "medium"
	UrgencyLow       Urgency = "low"
)

type ConsentState string

const (
	ConsentVerified ConsentState = "verified"
	ConsentImplied  ConsentState = "implied"
	ConsentUnknown  ConsentState = "unknown"
	ConsentDenied   ConsentState = "denied"
)

type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// HasChannel reports whether at least one reachable channel is present.
func (c Contact) HasChannel() bool {
	return c.Phone != "" || c.Email != ""
}

// LeadEvent is the canonical representation of one inbound lead.
// It is immutable after creation; corrections produce a new event
// referencing the original via SupersedesID.
type LeadEvent struct {
	ID            string       `json:"id"`
	TenantID      string       `json:"tenant_id"`
	Source        Source       `json:"source"`
	Contact       Contact      `json:"contact"`
	Urgency       Urgency      `json:"urgency"`
	ConsentState  ConsentState `json:"consent_state"`
	ReceivedAt    time.Time    `json:"received_at"`
	RawPayloadRef string       `json:"raw_payload_ref,omitempty"`
	SupersedesID  string       `json:"supersedes_id,omitempty"`
}
