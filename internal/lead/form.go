package lead

import (
	"encoding/json"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// formPayload is a website contact form submission. Forms never declare
// urgency, so it is left unset and the classifier falls back to its
// safe default tier. A checked marketing-consent box is implied
// consent, not verified.
type formPayload struct {
	TenantID string `json:"tenant_id"`
	Fields   struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"fields"`
	MarketingConsent *bool `json:"marketing_consent"`
}

type FormNormalizer struct{}

func (n *FormNormalizer) Source() models.Source {
	return models.SourceForm
}

func (n *FormNormalizer) Normalize(raw []byte) (models.LeadEvent, error) {
	var p formPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.LeadEvent{}, errors.Wrap(err, errors.ErrMalformedPayload)
	}
	if p.TenantID == "" {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "tenant_id is required")
	}

	consent := models.ConsentUnknown
	if p.MarketingConsent != nil {
		if *p.MarketingConsent {
			consent = models.ConsentImplied
		} else {
			consent = models.ConsentDenied
		}
	}

	return models.LeadEvent{
		TenantID: p.TenantID,
		Contact: models.Contact{
			Name:  p.Fields.Name,
			Phone: p.Fields.Phone,
			Email: p.Fields.Email,
		},
		ConsentState: consent,
	}, nil
}
