package lead

import (
	"encoding/json"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// adPlatformPayload is the webhook shape pushed by paid-acquisition
// platforms. Urgency arrives as the platform's priority label; consent
// is a tri-state opt-in flag (absent means the platform did not collect
// it).
type adPlatformPayload struct {
	TenantID   string `json:"tenant_id"`
	CampaignID string `json:"campaign_id"`
	Lead       struct {
		FullName    string `json:"full_name"`
		PhoneNumber string `json:"phone_number"`
		Email       string `json:"email"`
	} `json:"lead"`
	Priority string `json:"priority"`
	OptIn    *bool  `json:"opt_in"`
}

type AdPlatformNormalizer struct{}

func (n *AdPlatformNormalizer) Source() models.Source {
	return models.SourceAdPlatform
}

func (n *AdPlatformNormalizer) Normalize(raw []byte) (models.LeadEvent, error) {
	var p adPlatformPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.LeadEvent{}, errors.Wrap(err, errors.ErrMalformedPayload)
	}
	if p.TenantID == "" {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "tenant_id is required")
	}

	consent := models.ConsentUnknown
	if p.OptIn != nil {
		if *p.OptIn {
			consent = models.ConsentImplied
		} else {
			consent = models.ConsentDenied
		}
	}

	urgency := parseUrgency(p.Priority)
	if urgency == "" {
		switch p.Priority {
		case "urgent":
			urgency = models.UrgencyEmergency
		case "normal":
			urgency = models.UrgencyMedium
		}
	}

	return models.LeadEvent{
		TenantID: p.TenantID,
		Contact: models.Contact{
			Name:  p.Lead.FullName,
			Phone: p.Lead.PhoneNumber,
			Email: p.Lead.Email,
		},
		Urgency:      urgency,
		ConsentState: consent,
	}, nil
}
