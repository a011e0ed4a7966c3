// Package config handles environment variable loading for ports, database strings, etc.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the application.
type Config struct {
	// Database connection string
	DatabaseURL string

	// HTTP server port for the controller
	HTTPPort int

	// Worker-specific configuration
	WorkerID           string
	WorkerConcurrency  int
	WorkerPollInterval time.Duration
	WorkerMaxBackoff   time.Duration

	// Re-check delay for conditional actions whose trigger conditions
	// are not currently satisfied.
	RecheckInterval time.Duration

	// Capability call timeout per execution attempt.
	ExecTimeout time.Duration

	// Scheduler sweep configuration
	SweepInterval    time.Duration
	ExecutionTimeout time.Duration

	// Approval window before undecided requests expire
	ApprovalWindow time.Duration

	// OTLP collector endpoint for traces
	OTELEndpoint string

	// Shopify Admin API credentials for the capability adapter
	ShopDomain   string
	ShopifyToken string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dbUrl := os.Getenv("DATABASE_URL")
	if dbUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	port, err := intEnv("PORT", 6161)
	if err != nil {
		return nil, err
	}

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		workerID = hostname
	}

	concurrency, err := intEnv("WORKER_CONCURRENCY", 4)
	if err != nil {
		return nil, err
	}

	pollInterval, err := durationEnv("WORKER_POLL_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, err
	}

	maxBackoff, err := durationEnv("WORKER_MAX_BACKOFF", 30*time.Second)
	if err != nil {
		return nil, err
	}

	recheck, err := durationEnv("RECHECK_INTERVAL", 1*time.Minute)
	if err != nil {
		return nil, err
	}

	execTimeout, err := durationEnv("EXEC_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, err
	}

	sweepInterval, err := durationEnv("SWEEP_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	executionTimeout, err := durationEnv("EXECUTION_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	approvalWindow, err := durationEnv("APPROVAL_WINDOW", 1*time.Hour)
	if err != nil {
		return nil, err
	}

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "localhost:4317"
	}

	return &Config{
		DatabaseURL:        dbUrl,
		HTTPPort:           port,
		WorkerID:           workerID,
		WorkerConcurrency:  concurrency,
		WorkerPollInterval: pollInterval,
		WorkerMaxBackoff:   maxBackoff,
		RecheckInterval:    recheck,
		ExecTimeout:        execTimeout,
		SweepInterval:      sweepInterval,
		ExecutionTimeout:   executionTimeout,
		ApprovalWindow:     approvalWindow,
		OTELEndpoint:       otelEndpoint,
		ShopDomain:         os.Getenv("SHOPIFY_SHOP_DOMAIN"),
		ShopifyToken:       os.Getenv("SHOPIFY_ACCESS_TOKEN"),
	}, nil
}

func intEnv(name string, def int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
