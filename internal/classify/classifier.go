package classify

import (
	"time"

	"leadflow/internal/config"
	"leadflow/pkg/models"
)

// defaultTable is the built-in urgency policy table. An urgency with
// no mapping lands in P2, never in P0.
var defaultTable = map[models.Urgency]struct {
	class models.PriorityClass
	delay time.Duration
}{
	models.UrgencyEmergency: {models.PriorityP0, 0},
	models.UrgencyHigh:      {models.PriorityP1, 30 * time.Second},
	models.UrgencyMedium:    {models.PriorityP2, 5 * time.Minute},
	models.UrgencyLow:       {models.PriorityP3, 30 * time.Minute},
}

type Classifier struct {
	cfg config.ClassifierConfig
}

func NewClassifier(cfg config.ClassifierConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify maps an event's urgency to a priority class and initial
// scheduling delay. Deterministic given the urgency and tenant.
func (c *Classifier) Classify(event models.LeadEvent) (models.PriorityClass, time.Duration) {
	entry, ok := defaultTable[event.Urgency]
	if !ok {
		entry = defaultTable[models.UrgencyMedium]
	}

	class := entry.class
	delay := entry.delay

	if override, ok := c.cfg.DelayOverrides[string(event.Urgency)]; ok {
		delay = override
	}
	if tenantOverrides, ok := c.cfg.TenantDelayOverrides[event.TenantID]; ok {
		if override, ok := tenantOverrides[string(event.Urgency)]; ok {
			delay = override
		}
	}

	return class, delay
}
