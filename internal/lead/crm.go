package lead

import (
	"encoding/json"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// crmPayload is the shape emitted by CRM sync integrations. CRMs track
// explicit opt-in status, so consent maps to the verified/denied ends
// of the scale. ReplacesLeadID carries corrections of earlier records.
type crmPayload struct {
	OrgID   string `json:"org_id"`
	Contact struct {
		Name  string `json:"name"`
		Phone string `json:"phone"`
		Email string `json:"email"`
	} `json:"contact"`
	Urgency        string `json:"urgency"`
	OptInStatus    string `json:"opt_in_status"`
	ReplacesLeadID string `json:"replaces_lead_id"`
}

type CRMNormalizer struct{}

func (n *CRMNormalizer) Source() models.Source {
	return models.SourceCRM
}

func (n *CRMNormalizer) Normalize(raw []byte) (models.LeadEvent, error) {
	var p crmPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return models.LeadEvent{}, errors.Wrap(err, errors.ErrMalformedPayload)
	}
	if p.OrgID == "" {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "org_id is required")
	}

	var consent models.ConsentState
	switch p.OptInStatus {
	case "confirmed":
		consent = models.ConsentVerified
	case "assumed":
		consent = models.ConsentImplied
	case "revoked":
		consent = models.ConsentDenied
	default:
		consent = models.ConsentUnknown
	}

	return models.LeadEvent{
		TenantID: p.OrgID,
		Contact: models.Contact{
			Name:  p.Contact.Name,
			Phone: p.Contact.Phone,
			Email: p.Contact.Email,
		},
		Urgency:      parseUrgency(p.Urgency),
		ConsentState: consent,
		SupersedesID: p.ReplacesLeadID,
	}, nil
}
