package config

import (
	"fmt"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateDispatch(cfg.Dispatch); err != nil {
		errors = append(errors, err)
	}

	if err := validateFailure(cfg.Failure); err != nil {
		errors = append(errors, err)
	}

	if err := validateRateLimit(cfg.RateLimit); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateDispatch(cfg DispatchConfig) error {
	if cfg.Workers < 1 {
		return &ValidationError{
			Field:   "dispatch.workers",
			Message: fmt.Sprintf("worker pool size must be at least 1, got %d", cfg.Workers),
		}
	}

	if cfg.DispatchTimeout <= 0 {
		return &ValidationError{
			Field:   "dispatch.dispatch_timeout",
			Message: "dispatch timeout must be positive",
		}
	}

	return nil
}

func validateFailure(cfg FailureConfig) error {
	if cfg.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "failure.max_attempts",
			Message: fmt.Sprintf("attempt ceiling must be at least 1, got %d", cfg.MaxAttempts),
		}
	}

	for tenant, ceiling := range cfg.TenantMaxAttempts {
		if ceiling < 1 {
			return &ValidationError{
				Field:   "failure.tenant_max_attempts." + tenant,
				Message: "attempt ceiling must be at least 1",
			}
		}
	}

	return nil
}

func validateRateLimit(cfg RateLimitConfig) error {
	if err := validateTenantLimits("rate_limit.defaults", cfg.Defaults); err != nil {
		return err
	}

	for tenant, limits := range cfg.Tenants {
		if err := validateTenantLimits("rate_limit.tenants."+tenant, limits); err != nil {
			return err
		}
	}

	return nil
}

func validateTenantLimits(field string, limits TenantLimits) error {
	if limits.PerMinute < 0 || limits.PerHour < 0 || limits.PerDay < 0 {
		return &ValidationError{
			Field:   field,
			Message: "window ceilings must not be negative",
		}
	}

	if limits.BudgetPerDay < 0 || limits.DispatchCost < 0 {
		return &ValidationError{
			Field:   field,
			Message: "budget values must not be negative",
		}
	}

	return nil
}
