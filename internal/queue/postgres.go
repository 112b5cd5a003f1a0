package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"leadflow/pkg/errors"
	"leadflow/pkg/models"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

const itemColumns = `id, tenant_id, lead, priority_class, not_before, attempt, state, last_error_kind, attempt_history, enqueued_at, claimed_by`

func (r *PostgresRepository) Insert(ctx context.Context, item *models.QueueItem) error {
	lead, err := json.Marshal(item.Lead)
	if err != nil {
		return fmt.Errorf("failed to marshal lead: %w", err)
	}
	history, err := json.Marshal(item.AttemptHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal attempt history: %w", err)
	}

	query := `
		INSERT INTO queue_items (id, tenant_id, lead, received_at, priority_class, not_before, attempt, state, attempt_history, enqueued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		item.ID,
		item.Lead.TenantID,
		lead,
		item.Lead.ReceivedAt,
		int(item.PriorityClass),
		item.NotBefore,
		item.Attempt,
		string(item.State),
		history,
		item.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.QueueItem, error) {
	query := fmt.Sprintf(`SELECT %s FROM queue_items WHERE id = $1`, itemColumns)
	return r.scanItem(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) ActiveTenants(ctx context.Context, class models.PriorityClass, now time.Time) ([]string, error) {
	query := `
		SELECT DISTINCT tenant_id
		FROM queue_items
		WHERE priority_class = $1 AND state = 'queued' AND not_before <= $2
		ORDER BY tenant_id ASC
	`

	rows, err := r.db.QueryContext(ctx, query, int(class), now)
	if err != nil {
		return nil, fmt.Errorf("failed to query active tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, tenant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return tenants, nil
}

// ClaimOne relies on FOR UPDATE SKIP LOCKED in the subselect so that
// concurrent workers never pick the same row; the outer conditional
// UPDATE is the atomic queued → dispatched transition.
func (r *PostgresRepository) ClaimOne(ctx context.Context, workerID, tenantID string, class models.PriorityClass, now time.Time) (*models.QueueItem, error) {
	query := fmt.Sprintf(`
		UPDATE queue_items
		SET state = 'dispatched', claimed_by = $1, updated_at = now()
		WHERE id = (
			SELECT id FROM queue_items
			WHERE tenant_id = $2 AND priority_class = $3 AND state = 'queued' AND not_before <= $4
			ORDER BY received_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, itemColumns)

	item, err := r.scanItem(r.db.QueryRowContext(ctx, query, workerID, tenantID, int(class), now))
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func (r *PostgresRepository) MarkAttempt(ctx context.Context, id string) (int, error) {
	query := `
		UPDATE queue_items
		SET attempt = attempt + 1, updated_at = now()
		WHERE id = $1 AND state = 'dispatched'
		RETURNING attempt
	`

	var attempt int
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&attempt); err != nil {
		if err == sql.ErrNoRows {
			return 0, errors.ErrConflict.WithDetail("message", "item is not dispatched")
		}
		return 0, fmt.Errorf("failed to mark attempt: %w", err)
	}
	return attempt, nil
}

func (r *PostgresRepository) Ack(ctx context.Context, id string) error {
	query := `
		UPDATE queue_items
		SET state = 'completed', claimed_by = NULL, updated_at = now()
		WHERE id = $1 AND state = 'dispatched'
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to ack queue item: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkRetrying(ctx context.Context, id string, record models.AttemptRecord, notBefore time.Time) error {
	history, err := json.Marshal([]models.AttemptRecord{record})
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}

	query := `
		UPDATE queue_items
		SET state = 'retrying',
		    last_error_kind = $2,
		    attempt_history = attempt_history || $3::jsonb,
		    not_before = $4,
		    claimed_by = NULL,
		    updated_at = now()
		WHERE id = $1 AND state = 'dispatched'
	`

	res, err := r.db.ExecContext(ctx, query, id, string(record.ErrorKind), history, notBefore)
	if err != nil {
		return fmt.Errorf("failed to mark item retrying: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	return nil
}

func (r *PostgresRepository) MarkDead(ctx context.Context, id string, record models.AttemptRecord) error {
	history, err := json.Marshal([]models.AttemptRecord{record})
	if err != nil {
		return fmt.Errorf("failed to marshal attempt record: %w", err)
	}

	query := `
		UPDATE queue_items
		SET state = 'dead',
		    last_error_kind = $2,
		    attempt_history = attempt_history || $3::jsonb,
		    claimed_by = NULL,
		    updated_at = now()
		WHERE id = $1 AND state = 'dispatched'
	`

	res, err := r.db.ExecContext(ctx, query, id, string(record.ErrorKind), history)
	if err != nil {
		return fmt.Errorf("failed to mark item dead: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	return nil
}

func (r *PostgresRepository) Release(ctx context.Context, id string, notBefore time.Time) error {
	query := `
		UPDATE queue_items
		SET state = 'queued', not_before = $2, claimed_by = NULL, updated_at = now()
		WHERE id = $1 AND state = 'dispatched'
	`

	res, err := r.db.ExecContext(ctx, query, id, notBefore)
	if err != nil {
		return fmt.Errorf("failed to release queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrConflict.WithDetail("message", "item is not dispatched")
	}
	return nil
}

func (r *PostgresRepository) Cancel(ctx context.Context, id string) error {
	query := `
		UPDATE queue_items
		SET state = 'cancelled', updated_at = now()
		WHERE id = $1 AND state = 'queued'
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to cancel queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ErrConflict.WithDetail("message", "item is not cancellable")
	}
	return nil
}

func (r *PostgresRepository) RequeueDue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE queue_items
		SET state = 'queued', updated_at = now()
		WHERE state = 'retrying' AND not_before <= $1
	`

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue due items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count requeued items: %w", err)
	}
	return n, nil
}

func (r *PostgresRepository) Depth(ctx context.Context) ([]DepthEntry, error) {
	query := `
		SELECT tenant_id, priority_class, COUNT(*)
		FROM queue_items
		WHERE state IN ('queued', 'retrying')
		GROUP BY tenant_id, priority_class
		ORDER BY tenant_id, priority_class
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue depth: %w", err)
	}
	defer rows.Close()

	var entries []DepthEntry
	for rows.Next() {
		var entry DepthEntry
		var class int
		if err := rows.Scan(&entry.TenantID, &class, &entry.Count); err != nil {
			return nil, fmt.Errorf("failed to scan depth entry: %w", err)
		}
		entry.Class = models.PriorityClass(class)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return entries, nil
}

func (r *PostgresRepository) ErrorStats(ctx context.Context) ([]ErrorStat, error) {
	query := `
		SELECT tenant_id, last_error_kind, COUNT(*)
		FROM queue_items
		WHERE last_error_kind IS NOT NULL AND state IN ('retrying', 'dead')
		GROUP BY tenant_id, last_error_kind
		ORDER BY tenant_id, last_error_kind
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query error stats: %w", err)
	}
	defer rows.Close()

	var stats []ErrorStat
	for rows.Next() {
		var stat ErrorStat
		var kind string
		if err := rows.Scan(&stat.TenantID, &kind, &stat.Count); err != nil {
			return nil, fmt.Errorf("failed to scan error stat: %w", err)
		}
		stat.ErrorKind = models.ErrorKind(kind)
		stats = append(stats, stat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRepository) scanItem(row rowScanner) (*models.QueueItem, error) {
	var item models.QueueItem
	var lead, history []byte
	var class int
	var state string
	var lastErrorKind, claimedBy sql.NullString

	err := row.Scan(
		&item.ID,
		new(string), // tenant_id, redundant with lead payload
		&lead,
		&class,
		&item.NotBefore,
		&item.Attempt,
		&state,
		&lastErrorKind,
		&history,
		&item.EnqueuedAt,
		&claimedBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan queue item: %w", err)
	}

	if err := json.Unmarshal(lead, &item.Lead); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lead: %w", err)
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &item.AttemptHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal attempt history: %w", err)
		}
	}

	item.PriorityClass = models.PriorityClass(class)
	item.State = models.ItemState(state)
	item.LastErrorKind = models.ErrorKind(lastErrorKind.String)
	item.ClaimedBy = claimedBy.String
	return &item, nil
}
