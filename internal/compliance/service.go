package compliance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"leadflow/internal/logger"
	"leadflow/pkg/cel"
	"leadflow/pkg/errors"
	"leadflow/pkg/logging"
	"leadflow/pkg/metrics"
	"leadflow/pkg/models"
	"leadflow/pkg/tracing"
)

// Service is the consent/compliance gate in front of the queue. It
// fails closed: tenants with no stored policy are treated as requiring
// explicit consent, and a deny rule that cannot be evaluated blocks the
// lead.
type Service struct {
	repo            Repository
	evaluator       *cel.Evaluator
	logger          logger.Logger
	reloadInterval  time.Duration

	mu        sync.RWMutex
	policies  map[string]TenantPolicy
	denyRules []DenyRule
}

func NewService(repo Repository, reloadInterval time.Duration, log logger.Logger) (*Service, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Service{
		repo:           repo,
		evaluator:      evaluator,
		logger:         log,
		reloadInterval: reloadInterval,
		policies:       make(map[string]TenantPolicy),
	}, nil
}

// CheckConsent admits or rejects an event. It never mutates the event;
// rejections are logged for audit with the lead and tenant ids.
func (s *Service) CheckConsent(ctx context.Context, event models.LeadEvent) error {
	ctx, span := tracing.GetTracer("ingestion-service").Start(ctx, "compliance.check_consent")
	defer span.End()

	ctx = logging.WithLeadID(ctx, event.ID)
	ctx = logging.WithTenantID(ctx, event.TenantID)

	if event.ConsentState == models.ConsentDenied {
		s.reject(ctx, event, "consent_denied")
		return errors.ErrConsentDenied
	}

	if event.ConsentState == models.ConsentUnknown && s.requiresExplicitConsent(event.TenantID) {
		s.reject(ctx, event, "consent_required")
		return errors.ErrConsentRequired
	}

	for _, rule := range s.activeDenyRules(event.TenantID) {
		matched, err := s.evaluator.EvaluateDeny(ctx, rule.Expression, event)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Deny rule evaluation error, blocking lead",
				"rule_id", rule.ID,
				"rule_name", rule.Name,
				"error", err,
			)
			s.reject(ctx, event, "rule_evaluation_error")
			return errors.ErrComplianceBlock.WithDetail("rule", rule.Name)
		}
		if matched {
			s.reject(ctx, event, "deny_rule")
			return errors.ErrComplianceBlock.WithDetail("rule", rule.Name)
		}
	}

	return nil
}

func (s *Service) reject(ctx context.Context, event models.LeadEvent, reason string) {
	metrics.ComplianceRejectionsTotal.WithLabelValues(event.TenantID, reason).Inc()
	s.logger.InfowCtx(ctx, "Lead rejected by compliance gate",
		"reason", reason,
		"source", event.Source,
		"consent_state", event.ConsentState,
	)
}

func (s *Service) requiresExplicitConsent(tenantID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[tenantID]
	if !ok {
		return true
	}
	return policy.RequireExplicitConsent
}

func (s *Service) activeDenyRules(tenantID string) []DenyRule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]DenyRule, 0, len(s.denyRules))
	for _, rule := range s.denyRules {
		if rule.TenantID == "" || rule.TenantID == tenantID {
			rules = append(rules, rule)
		}
	}
	return rules
}

func (s *Service) ReloadPolicies(ctx context.Context) error {
	policies, err := s.repo.GetTenantPolicies(ctx)
	if err != nil {
		return fmt.Errorf("failed to load tenant policies: %w", err)
	}

	rules, err := s.repo.GetActiveDenyRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load deny rules: %w", err)
	}

	byTenant := make(map[string]TenantPolicy, len(policies))
	for _, p := range policies {
		byTenant[p.TenantID] = p
	}

	s.mu.Lock()
	s.policies = byTenant
	s.denyRules = rules
	s.mu.Unlock()

	s.logger.InfowCtx(ctx, "Reloaded compliance policies",
		"policies_count", len(policies),
		"deny_rules_count", len(rules),
	)
	return nil
}

func (s *Service) StartReloader(ctx context.Context) error {
	ticker := time.NewTicker(s.reloadInterval)
	defer ticker.Stop()

	if err := s.ReloadPolicies(ctx); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to reload compliance policies",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := s.ReloadPolicies(ctx); err != nil {
				s.logger.ErrorwCtx(ctx, "Failed to reload compliance policies",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
