package failure

import (
	"math/rand"
	"time"

	"leadflow/pkg/models"
)

const (
	backoffBase      = 5 * time.Second
	backoffMax       = 5 * time.Minute
	jitterMax        = time.Second
	rateLimitedDelay = 60 * time.Second
)

// retryable is the error taxonomy policy table. Validation and
// consent/compliance failures are terminal immediately.
var retryable = map[models.ErrorKind]bool{
	models.ErrorKindTransient:       true,
	models.ErrorKindRateLimited:     true,
	models.ErrorKindValidation:      false,
	models.ErrorKindExternalService: true,
	models.ErrorKindConsent:         false,
	models.ErrorKindSystem:          true,
}

func Retryable(kind models.ErrorKind) bool {
	return retryable[kind]
}

// ComputeBackoff returns the delay before the next retry. attempt is
// the 1-indexed number of attempts already made. Rate-limit failures
// use a fixed delay; everything else backs off exponentially with
// jitter.
func ComputeBackoff(kind models.ErrorKind, attempt int) time.Duration {
	if kind == models.ErrorKindRateLimited {
		return rateLimitedDelay
	}

	if attempt < 1 {
		attempt = 1
	}

	delay := backoffBase << (attempt - 1)
	if delay > backoffMax || delay <= 0 {
		delay = backoffMax
	}

	return delay + time.Duration(rand.Int63n(int64(jitterMax)))
}
