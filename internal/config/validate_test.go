package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		DatabaseURL:         "postgres://app@db:5432/eventline",
		DecisionEngineURL:   "https://rules.internal",
		RuleTimeoutStr:      "5s",
		DBOpTimeoutStr:      "5s",
		ProfileRulesEnabled: true,
	}
}

func TestValidate_OK(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 1 || errs[0].Field != "DATABASE_URL" {
		t.Fatalf("errors = %v", errs)
	}
}

func TestValidate_EngineURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		enabled bool
		wantErr bool
	}{
		{"required when rules enabled", "", true, true},
		{"optional when rules disabled", "", false, false},
		{"rejects non-http scheme", "ftp://rules.internal", true, true},
		{"rejects missing host", "https://", true, true},
		{"accepts http", "http://rules.internal:8080", true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.DecisionEngineURL = tc.url
			cfg.ProfileRulesEnabled = tc.enabled

			err := Validate(cfg)
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidate_Durations(t *testing.T) {
	cfg := validConfig()
	cfg.RuleTimeoutStr = "sometime"
	cfg.DBOpTimeoutStr = "-5s"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(errs) != 2 {
		t.Fatalf("got %d errors, want 2: %v", len(errs), errs)
	}
	msg := err.Error()
	if !strings.Contains(msg, "RULE_TIMEOUT") || !strings.Contains(msg, "DB_OP_TIMEOUT") {
		t.Fatalf("message missing fields: %s", msg)
	}
	if !strings.Contains(msg, "2 validation errors") {
		t.Fatalf("multi-error header missing: %s", msg)
	}
}

func TestValidate_AnalyticsNeedsRedis(t *testing.T) {
	cfg := validConfig()
	cfg.AnalyticsEnabled = true

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR") {
		t.Fatalf("error = %v, want REDIS_ADDR mention", err)
	}

	cfg.RedisAddr = "redis:6379"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error with redis addr set: %v", err)
	}
}
