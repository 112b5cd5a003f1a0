package admin

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type AuditRepository interface {
	Insert(ctx context.Context, entry *ControlAuditLog) error
	List(ctx context.Context, limit, offset int) ([]ControlAuditLog, error)
}

type PostgresAuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) AuditRepository {
	return &PostgresAuditRepository{db: db}
}

func (r *PostgresAuditRepository) Insert(ctx context.Context, entry *ControlAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO control_audit_logs (id, action, target_tenant_id, target_id, actor, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.Action, entry.TargetTenantID, entry.TargetID,
		entry.Actor, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func (r *PostgresAuditRepository) List(ctx context.Context, limit, offset int) ([]ControlAuditLog, error) {
	query := `
		SELECT id, action, target_tenant_id, target_id, actor, reason, created_at
		FROM control_audit_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []ControlAuditLog
	for rows.Next() {
		var entry ControlAuditLog
		if err := rows.Scan(
			&entry.ID, &entry.Action, &entry.TargetTenantID, &entry.TargetID,
			&entry.Actor, &entry.Reason, &entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MemoryAuditRepository is the in-memory mirror used by tests.
type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []ControlAuditLog
}

func NewMemoryAuditRepository() *MemoryAuditRepository {
	return &MemoryAuditRepository{}
}

func (r *MemoryAuditRepository) Insert(_ context.Context, entry *ControlAuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *MemoryAuditRepository) List(_ context.Context, limit, offset int) ([]ControlAuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sorted := append([]ControlAuditLog{}, r.entries...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	if offset >= len(sorted) {
		return nil, nil
	}
	sorted = sorted[offset:]
	if limit > 0 && limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}
