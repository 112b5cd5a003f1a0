package failure

import (
	"time"

	"leadflow/internal/config"
	"leadflow/pkg/models"
)

const externalServiceMaxAttempts = 3

// Decision is the outcome of classifying one dispatch failure.
type Decision struct {
	Retry bool
	// Delay before the item becomes eligible again; meaningful only
	// when Retry is true.
	Delay time.Duration
	// Escalate marks system errors that have failed repeatedly and
	// need an operator alert.
	Escalate bool
	// ManualReview flags the dead-letter record for human follow-up.
	ManualReview bool
}

type Classifier struct {
	cfg config.FailureConfig
}

func NewClassifier(cfg config.FailureConfig) *Classifier {
	return &Classifier{cfg: cfg}
}

// MaxAttempts returns the attempt ceiling for a tenant.
func (c *Classifier) MaxAttempts(tenantID string) int {
	if ceiling, ok := c.cfg.TenantMaxAttempts[tenantID]; ok && ceiling >= 1 {
		return ceiling
	}
	if c.cfg.MaxAttempts >= 1 {
		return c.cfg.MaxAttempts
	}
	return 3
}

// ClassifyAndSchedule decides retry versus dead for a failed dispatch
// attempt. item.Attempt is the number of attempts already made,
// including the one that just failed. Exceeding the ceiling forces
// dead regardless of the kind's nominal retryability.
func (c *Classifier) ClassifyAndSchedule(item *models.QueueItem, kind models.ErrorKind) Decision {
	escalate := kind == models.ErrorKindSystem && item.Attempt >= 2

	if !Retryable(kind) {
		return Decision{
			Retry:        false,
			Escalate:     escalate,
			ManualReview: kind == models.ErrorKindConsent,
		}
	}

	ceiling := c.MaxAttempts(item.Lead.TenantID)
	if kind == models.ErrorKindExternalService && ceiling > externalServiceMaxAttempts {
		ceiling = externalServiceMaxAttempts
	}

	if item.Attempt >= ceiling {
		return Decision{Retry: false, Escalate: escalate}
	}

	return Decision{
		Retry:    true,
		Delay:    ComputeBackoff(kind, item.Attempt),
		Escalate: escalate,
	}
}
