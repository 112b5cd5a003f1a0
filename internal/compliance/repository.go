package compliance

import (
	"context"
	"database/sql"
	"fmt"
)

type Repository interface {
	GetTenantPolicies(ctx context.Context) ([]TenantPolicy, error)
	GetActiveDenyRules(ctx context.Context) ([]DenyRule, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetTenantPolicies(ctx context.Context) ([]TenantPolicy, error) {
	query := `
		SELECT tenant_id, require_explicit_consent, created_at, updated_at
		FROM tenant_policies
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant policies: %w", err)
	}
	defer rows.Close()

	var policies []TenantPolicy
	for rows.Next() {
		var p TenantPolicy
		if err := rows.Scan(
			&p.TenantID,
			&p.RequireExplicitConsent,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tenant policy: %w", err)
		}
		policies = append(policies, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return policies, nil
}

func (r *PostgresRepository) GetActiveDenyRules(ctx context.Context) ([]DenyRule, error) {
	query := `
		SELECT id, tenant_id, name, expression, enabled, created_at, updated_at
		FROM compliance_deny_rules
		WHERE enabled = true
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query deny rules: %w", err)
	}
	defer rows.Close()

	var rules []DenyRule
	for rows.Next() {
		var rule DenyRule
		if err := rows.Scan(
			&rule.ID,
			&rule.TenantID,
			&rule.Name,
			&rule.Expression,
			&rule.Enabled,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deny rule: %w", err)
		}
		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return rules, nil
}
