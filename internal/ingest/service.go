package ingest

import (
	"context"
	"time"

	"leadflow/internal/classify"
	"leadflow/internal/compliance"
	"leadflow/internal/lead"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/errors"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/models"
	"leadflow/pkg/tracing"
)

// Service runs the admission path for one submitted payload:
// normalize, compliance gate, classify, enqueue. Rejections at any
// stage are returned synchronously so the endpoint can answer the
// source.
type Service struct {
	registry   *lead.Registry
	compliance *compliance.Service
	classifier *classify.Classifier
	queue      *queue.Service
	limiter    *ratelimit.Limiter
	ipCap      int64
	logger     logger.Logger
}

func NewService(registry *lead.Registry, gate *compliance.Service, classifier *classify.Classifier, q *queue.Service, limiter *ratelimit.Limiter, ipCap int64, log logger.Logger) *Service {
	return &Service{
		registry:   registry,
		compliance: gate,
		classifier: classifier,
		queue:      q,
		limiter:    limiter,
		ipCap:      ipCap,
		logger:     log,
	}
}

// CheckIP applies the shared per-source-IP ingestion cap before any
// payload parsing happens.
func (s *Service) CheckIP(ctx context.Context, ip string) error {
	if decision := s.limiter.CheckIP(ctx, ip, s.ipCap); decision.Outcome != ratelimit.OutcomeAdmit {
		metrics.RateLimitRequestsTotal.WithLabelValues("blocked").Inc()
		return errors.ErrRateLimited.WithDetail("reason", decision.Reason)
	}
	metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
	return nil
}

func (s *Service) Submit(ctx context.Context, source models.Source, raw []byte) (*models.QueueItem, error) {
	ctx, span := tracing.GetTracer("ingestion-service").Start(ctx, "ingest.submit")
	defer span.End()

	start := time.Now()

	event, err := s.registry.Normalize(source, raw)
	if err != nil {
		kind := "malformed_payload"
		if errors.Is(err, errors.ErrMissingContact) {
			kind = "missing_contact"
		}
		metrics.NormalizationErrorsTotal.WithLabelValues(string(source), kind).Inc()
		s.recordOutcome(source, "rejected", start)
		s.logger.InfowCtx(ctx, "Payload rejected during normalization",
			"source", source,
			"kind", kind,
		)
		return nil, err
	}

	ctx = logging.WithLeadID(ctx, event.ID)
	ctx = logging.WithTenantID(ctx, event.TenantID)

	if err := s.compliance.CheckConsent(ctx, event); err != nil {
		s.recordOutcome(source, "rejected", start)
		return nil, err
	}

	class, delay := s.classifier.Classify(event)

	item, err := s.queue.Enqueue(ctx, event, class, delay)
	if err != nil {
		status := "rejected"
		if errors.IsRateLimited(err) {
			status = "throttled"
		}
		s.recordOutcome(source, status, start)
		return nil, err
	}

	s.recordOutcome(source, "admitted", start)
	return item, nil
}

func (s *Service) recordOutcome(source models.Source, status string, start time.Time) {
	metrics.LeadsReceivedTotal.WithLabelValues(string(source), status).Inc()
	metrics.IngestionDuration.WithLabelValues(string(source), status).
		Observe(float64(time.Since(start).Milliseconds()))
}
