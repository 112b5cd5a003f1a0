package lead

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// Normalizer converts one source's raw payload shape into the canonical
// lead fields. Implementations are pure: identity and timestamps are
// stamped by the Registry, not here.
type Normalizer interface {
	Source() models.Source
	Normalize(raw []byte) (models.LeadEvent, error)
}

type Registry struct {
	normalizers map[models.Source]Normalizer
	now         func() time.Time
	newID       func() string
}

func NewRegistry() *Registry {
	r := &Registry{
		normalizers: make(map[models.Source]Normalizer),
		now:         time.Now,
		newID:       uuid.NewString,
	}
	r.Register(&AdPlatformNormalizer{})
	r.Register(&CRMNormalizer{})
	r.Register(&FormNormalizer{})
	r.Register(&DirectAPINormalizer{})
	return r
}

func (r *Registry) Register(n Normalizer) {
	r.normalizers[n.Source()] = n
}

// Normalize dispatches to the source's normalizer, then stamps the
// event's identity, receipt time, and the audit reference to the raw
// payload.
func (r *Registry) Normalize(source models.Source, raw []byte) (models.LeadEvent, error) {
	n, ok := r.normalizers[source]
	if !ok {
		return models.LeadEvent{}, errors.ErrMalformedPayload.WithDetail("message", "unsupported source: "+string(source))
	}

	event, err := n.Normalize(raw)
	if err != nil {
		return models.LeadEvent{}, err
	}

	if !event.Contact.HasChannel() {
		return models.LeadEvent{}, errors.ErrMissingContact
	}

	event.ID = r.newID()
	event.Source = source
	event.ReceivedAt = r.now().UTC()
	event.RawPayloadRef = payloadRef(raw)
	return event, nil
}

func payloadRef(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func parseUrgency(s string) models.Urgency {
	switch models.Urgency(s) {
	case models.UrgencyEmergency, models.UrgencyHigh, models.UrgencyMedium, models.UrgencyLow:
		return models.Urgency(s)
	default:
		return ""
	}
}

func parseConsent(s string) models.ConsentState {
	switch models.ConsentState(s) {
	case models.ConsentVerified, models.ConsentImplied, models.ConsentUnknown, models.ConsentDenied:
		return models.ConsentState(s)
	default:
		return models.ConsentUnknown
	}
}
