package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/eventline/internal/analytics"
	"github.com/djlord-it/eventline/internal/api"
	"github.com/djlord-it/eventline/internal/config"
	"github.com/djlord-it/eventline/internal/domain"
	"github.com/djlord-it/eventline/internal/lock"
	"github.com/djlord-it/eventline/internal/metrics"
	"github.com/djlord-it/eventline/internal/rules"
	"github.com/djlord-it/eventline/internal/store/postgres"
	"github.com/djlord-it/eventline/internal/timeline"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`eventline - event timeline dependency resolution and scheduling engine

Usage:
  eventline <command>

Commands:
  serve      Start the HTTP API
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  DATABASE_URL                   PostgreSQL connection string (required)
  REDIS_ADDR                     Redis address for activity analytics (optional)
  HTTP_ADDR                      HTTP server address (default: ":8080")

  DECISION_ENGINE_URL            Rule engine base URL (required unless rules disabled)
  RULE_TIMEOUT                   Rule engine request timeout (default: "5s")
  PROFILE_RULES_ENABLED          Rule-based profile resolution (default: "true")
  DEFAULT_PO_PROFILE_NAME        Profile used for purchase orders when rules are
                                 disabled (default: "PO_EVENTS_DEFAULT_V1")
  DEFAULT_SHIPMENT_PROFILE_NAME  Profile used for shipments when rules are
                                 disabled (default: "SHIPMENT_EVENTS_DEFAULT_V1")

  DB_OP_TIMEOUT                  Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS              Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS              Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME           Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME          Max connection idle time (default: "5m")

  HTTP_SHUTDOWN_TIMEOUT          Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED                Enable Prometheus metrics (default: "false")
  METRICS_ADDR                   Metrics server address (default: ":9090")
  METRICS_PATH                   Metrics endpoint path (default: "/metrics")

  ANALYTICS_ENABLED              Enable Redis activity counters (default: "false")
  ANALYTICS_RETENTION            Activity counter retention (default: "720h")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		return exitRuntimeError
	}
	defer db.Close()

	// Configure connection pool
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	log.Printf("eventline: db pool configured (max_open=%d, max_idle=%d, max_lifetime=%s, max_idle_time=%s)",
		cfg.DBMaxOpenConns, cfg.DBMaxIdleConns, cfg.DBConnMaxLifetime, cfg.DBConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
		return exitRuntimeError
	}

	store := postgres.New(db, cfg.DBOpTimeout)

	// Initialize metrics sink (optional)
	var metricsServer *http.Server
	var sink metrics.Sink = metrics.NewNoopSink()

	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("eventline: metrics enabled (addr=%s, path=%s)", cfg.MetricsAddr, cfg.MetricsPath)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metricsMux,
		}
		go func() {
			log.Printf("eventline: metrics server listening on %s", cfg.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("eventline: metrics server error: %v", err)
			}
		}()
	} else {
		log.Println("eventline: METRICS_ENABLED not set; metrics disabled")
	}

	// Wire the rule resolver against the external decision engine
	ruleCfg := rules.DefaultConfig()
	ruleCfg.Enabled = cfg.ProfileRulesEnabled
	ruleCfg.DefaultProfiles = map[domain.ParentType]string{
		domain.ParentPurchaseOrder: cfg.DefaultPOProfileName,
		domain.ParentShipment:      cfg.DefaultShipmentProfile,
	}
	decisionClient := rules.NewDecisionClient(cfg.DecisionEngineURL, cfg.RuleTimeout)
	resolver := rules.New(ruleCfg, decisionClient, store)

	validator := lock.NewValidator(db)
	svc := timeline.New(store, resolver, validator, sink)

	// Wire analytics if enabled and Redis is configured
	if cfg.AnalyticsEnabled && cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		activityCfg := analytics.DefaultConfig()
		activityCfg.Retention = cfg.AnalyticsRetention
		svc = svc.WithActivity(analytics.NewRedisSink(redisClient), activityCfg)
		log.Printf("eventline: analytics enabled (redis=%s, retention=%s)", cfg.RedisAddr, cfg.AnalyticsRetention)
	} else {
		log.Println("eventline: analytics disabled")
	}

	apiHandler := api.NewHandler(svc, store).WithHealthChecker(db)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: apiHandler,
	}

	go func() {
		log.Printf("eventline: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("eventline: http server error: %v", err)
		}
	}()

	log.Printf("eventline: started (http=%s, rules_enabled=%t)", cfg.HTTPAddr, cfg.ProfileRulesEnabled)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("eventline: received signal %v, shutting down", received)

	log.Println("eventline: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("eventline: http server shutdown error: %v", err)
	}
	log.Println("eventline: http server stopped")

	if metricsServer != nil {
		log.Println("eventline: stopping metrics server...")
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Printf("eventline: metrics server shutdown error: %v", err)
		}
		log.Println("eventline: metrics server stopped")
	}

	log.Println("eventline: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("eventline version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
