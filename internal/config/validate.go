package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// DECISION_ENGINE_URL is required when rule-based resolution is enabled
	if cfg.ProfileRulesEnabled {
		if cfg.DecisionEngineURL == "" {
			errs = append(errs, ValidationError{
				Field:   "DECISION_ENGINE_URL",
				Message: "required when PROFILE_RULES_ENABLED is not false",
			})
		} else if err := validateHTTPURL(cfg.DecisionEngineURL); err != nil {
			errs = append(errs, ValidationError{
				Field:   "DECISION_ENGINE_URL",
				Message: err.Error(),
			})
		}
	}

	// RULE_TIMEOUT must be a valid positive duration
	if cfg.RuleTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.RuleTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "RULE_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "RULE_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	// DB_OP_TIMEOUT must be a valid positive duration
	if cfg.DBOpTimeoutStr != "" {
		d, err := time.ParseDuration(cfg.DBOpTimeoutStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "DB_OP_TIMEOUT",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "DB_OP_TIMEOUT",
				Message: "must be positive",
			})
		}
	}

	// ANALYTICS_ENABLED requires a Redis address
	if cfg.AnalyticsEnabled && cfg.RedisAddr == "" {
		errs = append(errs, ValidationError{
			Field:   "REDIS_ADDR",
			Message: "required when ANALYTICS_ENABLED is true",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
