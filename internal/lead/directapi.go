package lead

import (
	"encoding/json"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// directAPIPayload is the canonical lead shape accepted on the
// API-key-authenticated path. Enum fields are validated strictly since
// the caller claims to speak the canonical format.
type directAPIPayload struct {
	TenantID     string         `json:"tenant_id"`
	Contact      models.Contact `json:"contact"`
	Urgency      string         `json:"urgency"`
	ConsentState string         `json:"consent_state"`
	SupersedesID string         `json:"supersedes_id"`
}

type DirectAPINormalizer struct{}

func (n *DirectAPINormalizer) Source() models.Source {
	return models.SourceDirectAPI
}

func (n *DirectAPINormalizer) Normalize(raw []byte) (models.LeadEvent, error) {
	var p directAPIPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.LeadEvent{}, errors.Wrap(err, errors.ErrMalformedPayload)
	}
	if p.TenantID == "" {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "tenant_id is required")
	}
	if p.Urgency != "" && parseUrgency(p.Urgency) == "" {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "invalid urgency: "+p.Urgency)
	}
	if p.ConsentState != "" && models.ConsentState(p.ConsentState) != parseConsent(p.ConsentState) {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "invalid consent_state: "+p.ConsentState)
	}

	consent := models.ConsentUnknown
	if p.ConsentState != "" {
		consent = models.ConsentState(p.ConsentState)
	}

	return models.LeadEvent{
		TenantID:     p.TenantID,
		Contact:      p.Contact,
		Urgency:      parseUrgency(p.Urgency),
		ConsentState: consent,
		SupersedesID: p.SupersedesID,
	}, nil
}
