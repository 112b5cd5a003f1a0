package compliance

import "time"

type TenantPolicy struct {
	TenantID               string
	RequireExplicitConsent bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// DenyRule blocks leads matching a CEL expression, e.g. jurisdictional
// restrictions on phone prefixes. An empty TenantID applies the rule to
// every tenant.
type DenyRule struct {
	ID         string
	TenantID   string
	Name       string
	Expression string // CEL expression that must evaluate to bool
	Enabled    bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
