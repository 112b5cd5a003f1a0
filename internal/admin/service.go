package admin

import (
	"context"
	"time"

	"leadflow/internal/constants"
	"leadflow/internal/failure"
	"leadflow/internal/logger"
	"leadflow/internal/queue"
	"leadflow/internal/ratelimit"
	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

// Service is the operator surface: queue introspection, dead-letter
// review, pause flags, and the emergency switch. Every state change is
// written to the control audit log.
type Service struct {
	queue       *queue.Service
	limiter     *ratelimit.Limiter
	control     ratelimit.ControlStore
	deadLetters failure.DeadLetterStore
	audit       AuditRepository
	logger      logger.Logger
	now         func() time.Time
}

func NewService(q *queue.Service, limiter *ratelimit.Limiter, control ratelimit.ControlStore, deadLetters failure.DeadLetterStore, audit AuditRepository, log logger.Logger) *Service {
	return &Service{
		queue:       q,
		limiter:     limiter,
		control:     control,
		deadLetters: deadLetters,
		audit:       audit,
		logger:      log,
		now:         time.Now,
	}
}

func (s *Service) QueueDepth(ctx context.Context) ([]queue.DepthEntry, error) {
	return s.queue.Depth(ctx)
}

func (s *Service) ErrorStats(ctx context.Context) ([]queue.ErrorStat, error) {
	return s.queue.ErrorStats(ctx)
}

func (s *Service) TenantOccupancy(ctx context.Context, tenantID string) (ratelimit.Occupancy, error) {
	return s.limiter.Occupancy(ctx, tenantID)
}

type DeadLetterPage struct {
	Items []models.DeadLetterRecord `json:"items"`
	Total int64                     `json:"total"`
}

func (s *Service) ListDeadLetters(ctx context.Context, tenantID string, limit, offset int64) (DeadLetterPage, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	items, err := s.deadLetters.List(ctx, tenantID, limit, offset)
	if err != nil {
		return DeadLetterPage{}, err
	}
	total, err := s.deadLetters.Count(ctx, tenantID)
	if err != nil {
		return DeadLetterPage{}, err
	}
	if items == nil {
		items = []models.DeadLetterRecord{}
	}
	return DeadLetterPage{Items: items, Total: total}, nil
}

func (s *Service) GetDeadLetter(ctx context.Context, id string) (models.DeadLetterRecord, error) {
	return s.deadLetters.Get(ctx, id)
}

// ResolveDeadLetter marks a record reviewed. Resolution is bookkeeping
// only; nothing is re-enqueued.
func (s *Service) ResolveDeadLetter(ctx context.Context, id string, req ResolveDeadLetterRequest) error {
	record, err := s.deadLetters.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.deadLetters.Resolve(ctx, id, req.ResolvedBy, req.Reason, s.now()); err != nil {
		return err
	}

	return s.recordAudit(ctx, ControlAuditLog{
		Action:         constants.AuditActionResolve,
		TargetTenantID: record.TenantID,
		TargetID:       id,
		Actor:          req.ResolvedBy,
		Reason:         req.Reason,
	})
}

// Pause sets the pause flag; already-paused is not an error.
func (s *Service) Pause(ctx context.Context, req PauseRequest) error {
	if err := s.control.SetPaused(ctx, req.TenantID, true); err != nil {
		return err
	}
	return s.recordAudit(ctx, ControlAuditLog{
		Action:         constants.AuditActionPause,
		TargetTenantID: req.TenantID,
		Actor:          req.Actor,
		Reason:         req.Reason,
	})
}

func (s *Service) Resume(ctx context.Context, req PauseRequest) error {
	if err := s.control.SetPaused(ctx, req.TenantID, false); err != nil {
		return err
	}
	return s.recordAudit(ctx, ControlAuditLog{
		Action:         constants.AuditActionResume,
		TargetTenantID: req.TenantID,
		Actor:          req.Actor,
		Reason:         req.Reason,
	})
}

func (s *Service) TriggerEmergency(ctx context.Context, req EmergencyRequest) (ratelimit.EmergencyState, error) {
	if req.Mode != constants.EmergencyModeDrain && req.Mode != constants.EmergencyModeHalt {
		return ratelimit.EmergencyState{}, errors.ErrValidation.WithDetail("message", "mode must be drain or halt")
	}
	if req.DurationSeconds <= 0 {
		return ratelimit.EmergencyState{}, errors.ErrValidation.WithDetail("message", "duration_seconds must be positive")
	}

	ttl := time.Duration(req.DurationSeconds) * time.Second
	state := ratelimit.EmergencyState{
		Mode:      req.Mode,
		Reason:    req.Reason,
		ExpiresAt: s.now().Add(ttl),
	}

	if err := s.control.SetEmergency(ctx, state, ttl); err != nil {
		return ratelimit.EmergencyState{}, err
	}

	s.logger.WarnwCtx(ctx, "Emergency mode activated",
		"mode", req.Mode,
		"actor", req.Actor,
		"expires_at", state.ExpiresAt,
	)

	return state, s.recordAudit(ctx, ControlAuditLog{
		Action: constants.AuditActionEmergency,
		Actor:  req.Actor,
		Reason: req.Reason,
	})
}

func (s *Service) EmergencyStatus(ctx context.Context) (ratelimit.EmergencyState, error) {
	return s.control.GetEmergency(ctx)
}

func (s *Service) ClearEmergency(ctx context.Context, req ClearEmergencyRequest) error {
	if err := s.control.ClearEmergency(ctx); err != nil {
		return err
	}
	return s.recordAudit(ctx, ControlAuditLog{
		Action: constants.AuditActionClear,
		Actor:  req.Actor,
		Reason: req.Reason,
	})
}

// CancelItem withdraws a queued item. Items already claimed, dead, or
// completed return a conflict.
func (s *Service) CancelItem(ctx context.Context, id string, req CancelRequest) error {
	if err := s.queue.Cancel(ctx, id); err != nil {
		return err
	}
	return s.recordAudit(ctx, ControlAuditLog{
		Action:   constants.AuditActionCancel,
		TargetID: id,
		Actor:    req.Actor,
		Reason:   req.Reason,
	})
}

func (s *Service) AuditLogs(ctx context.Context, limit, offset int) ([]ControlAuditLog, error) {
	if limit <= 0 {
		limit = constants.DefaultLimit
	}
	if limit > constants.MaxLimit {
		limit = constants.MaxLimit
	}
	return s.audit.List(ctx, limit, offset)
}

func (s *Service) recordAudit(ctx context.Context, entry ControlAuditLog) error {
	entry.CreatedAt = s.now()
	if err := s.audit.Insert(ctx, &entry); err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to write control audit log",
			"action", entry.Action,
			"error", err,
		)
		return err
	}
	return nil
}
