package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"leadflow/pkg/models"
)

// Evaluator compiles and runs tenant-authored deny-rule expressions
// against a lead. Expressions see the lead's scalar fields plus the
// contact map, e.g. `contact.phone.startsWith("+44")` or
// `urgency == "low" && consent_state == "implied"`.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("id", cel.StringType),
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("source", cel.StringType),
		cel.Variable("urgency", cel.StringType),
		cel.Variable("consent_state", cel.StringType),
		cel.Variable("received_at", cel.TimestampType),
		cel.Variable("contact", cel.MapType(cel.StringType, cel.StringType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("deny-rule expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// EvaluateDeny returns true when the expression matches the lead, i.e.
// the lead must be rejected.
func (e *Evaluator) EvaluateDeny(ctx context.Context, expression string, event models.LeadEvent) (bool, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("deny-rule expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("failed to create CEL program: %w", err)
	}

	vars := map[string]interface{}{
		"id":            event.ID,
		"tenant_id":     event.TenantID,
		"source":        string(event.Source),
		"urgency":       string(event.Urgency),
		"consent_state": string(event.ConsentState),
		"received_at":   event.ReceivedAt,
		"contact": map[string]string{
			"name":  event.Contact.Name,
			"phone": event.Contact.Phone,
			"email": event.Contact.Email,
		},
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
