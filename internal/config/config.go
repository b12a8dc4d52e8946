package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the eventline application.
// Values are loaded from environment variables; see printUsage() in
// cmd/eventline for the full list.
type Config struct {
	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// DecisionEngineURL is the base URL of the external rule engine.
	DecisionEngineURL string `json:"decision_engine_url"`

	RuleTimeout    time.Duration `json:"-"`
	RuleTimeoutStr string        `json:"rule_timeout"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsAddr    string `json:"metrics_addr"`
	MetricsPath    string `json:"metrics_path"`

	// ProfileRulesEnabled gates rule-based profile resolution; when false
	// the fixed default profile per parent type is used.
	ProfileRulesEnabled    bool   `json:"profile_rules_enabled"`
	DefaultPOProfileName   string `json:"default_po_profile_name"`
	DefaultShipmentProfile string `json:"default_shipment_profile_name"`

	AnalyticsEnabled      bool          `json:"analytics_enabled"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:            os.Getenv("DATABASE_URL"),
		RedisAddr:              os.Getenv("REDIS_ADDR"),
		HTTPAddr:               os.Getenv("HTTP_ADDR"),
		DecisionEngineURL:      os.Getenv("DECISION_ENGINE_URL"),
		RuleTimeoutStr:         os.Getenv("RULE_TIMEOUT"),
		DBOpTimeoutStr:         os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:   os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:   os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:         os.Getenv("METRICS_ENABLED") == "true",
		MetricsAddr:            os.Getenv("METRICS_ADDR"),
		MetricsPath:            os.Getenv("METRICS_PATH"),
		ProfileRulesEnabled:    os.Getenv("PROFILE_RULES_ENABLED") != "false",
		DefaultPOProfileName:   os.Getenv("DEFAULT_PO_PROFILE_NAME"),
		DefaultShipmentProfile: os.Getenv("DEFAULT_SHIPMENT_PROFILE_NAME"),
		AnalyticsEnabled:       os.Getenv("ANALYTICS_ENABLED") == "true",
		AnalyticsRetentionStr:  os.Getenv("ANALYTICS_RETENTION"),
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		} else {
			log.Printf("config: invalid DB_MAX_OPEN_CONNS %q (must be a positive integer), using default 25", maxOpenStr)
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		} else {
			log.Printf("config: invalid DB_MAX_IDLE_CONNS %q (must be a positive integer), using default 5", maxIdleStr)
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.RuleTimeoutStr == "" {
		cfg.RuleTimeoutStr = "5s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsAddr == "" {
		cfg.MetricsAddr = ":9090"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.DefaultPOProfileName == "" {
		cfg.DefaultPOProfileName = "PO_EVENTS_DEFAULT_V1"
	}
	if cfg.DefaultShipmentProfile == "" {
		cfg.DefaultShipmentProfile = "SHIPMENT_EVENTS_DEFAULT_V1"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.RuleTimeoutStr); err == nil {
		cfg.RuleTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxLifetimeStr); err == nil {
		cfg.DBConnMaxLifetime = d
	}
	if d, err := time.ParseDuration(cfg.DBConnMaxIdleTimeStr); err == nil {
		cfg.DBConnMaxIdleTime = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL            string `json:"database_url"`
		RedisAddr              string `json:"redis_addr,omitempty"`
		HTTPAddr               string `json:"http_addr"`
		DecisionEngineURL      string `json:"decision_engine_url"`
		RuleTimeout            string `json:"rule_timeout"`
		DBOpTimeout            string `json:"db_op_timeout"`
		DBMaxOpenConns         int    `json:"db_max_open_conns"`
		DBMaxIdleConns         int    `json:"db_max_idle_conns"`
		DBConnMaxLifetime      string `json:"db_conn_max_lifetime"`
		DBConnMaxIdleTime      string `json:"db_conn_max_idle_time"`
		HTTPShutdownTimeout    string `json:"http_shutdown_timeout"`
		MetricsEnabled         bool   `json:"metrics_enabled"`
		MetricsAddr            string `json:"metrics_addr"`
		MetricsPath            string `json:"metrics_path"`
		ProfileRulesEnabled    bool   `json:"profile_rules_enabled"`
		DefaultPOProfileName   string `json:"default_po_profile_name"`
		DefaultShipmentProfile string `json:"default_shipment_profile_name"`
		AnalyticsEnabled       bool   `json:"analytics_enabled"`
		AnalyticsRetention     string `json:"analytics_retention"`
	}{
		DatabaseURL:            maskSecret(c.DatabaseURL),
		RedisAddr:              c.RedisAddr,
		HTTPAddr:               c.HTTPAddr,
		DecisionEngineURL:      c.DecisionEngineURL,
		RuleTimeout:            c.RuleTimeoutStr,
		DBOpTimeout:            c.DBOpTimeoutStr,
		DBMaxOpenConns:         c.DBMaxOpenConns,
		DBMaxIdleConns:         c.DBMaxIdleConns,
		DBConnMaxLifetime:      c.DBConnMaxLifetimeStr,
		DBConnMaxIdleTime:      c.DBConnMaxIdleTimeStr,
		HTTPShutdownTimeout:    c.HTTPShutdownTimeoutStr,
		MetricsEnabled:         c.MetricsEnabled,
		MetricsAddr:            c.MetricsAddr,
		MetricsPath:            c.MetricsPath,
		ProfileRulesEnabled:    c.ProfileRulesEnabled,
		DefaultPOProfileName:   c.DefaultPOProfileName,
		DefaultShipmentProfile: c.DefaultShipmentProfile,
		AnalyticsEnabled:       c.AnalyticsEnabled,
		AnalyticsRetention:     c.AnalyticsRetentionStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
