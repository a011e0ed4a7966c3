// Package main is the entry point for the crewflow worker. The worker
// claims due actions, re-checks conditional triggers, executes the bound
// capability, and drives the retry and recurrence paths.
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"crewflow/internal/capability"
	"crewflow/internal/capability/shopify"
	"crewflow/internal/config"
	"crewflow/internal/executor"
	"crewflow/internal/logger"
	"crewflow/internal/observability"
	"crewflow/internal/store/postgres"
	"crewflow/internal/trigger"
	"crewflow/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "crewflow-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	registry := capability.NewStaticRegistry()
	if cfg.ShopDomain != "" && cfg.ShopifyToken != "" {
		registerShopifyCapabilities(registry, shopify.NewClient(cfg.ShopDomain, cfg.ShopifyToken))
		log.Printf("Registered Shopify capabilities for %s", cfg.ShopDomain)
	} else {
		log.Println("No Shopify credentials configured; store capabilities disabled")
	}

	exec := executor.New(registry, cfg.ExecTimeout)

	agent := worker.New(store, exec, metricSource(), worker.AgentConfig{
		ID:              cfg.WorkerID,
		Concurrency:     cfg.WorkerConcurrency,
		PollInterval:    cfg.WorkerPollInterval,
		MaxBackoff:      cfg.WorkerMaxBackoff,
		RecheckInterval: cfg.RecheckInterval,
	}, slogger)

	log.Printf("Worker %s started with concurrency %d", cfg.WorkerID, cfg.WorkerConcurrency)
	go agent.Run(ctx)

	// Metrics
	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			log.Printf("Failed to shutdown metrics: %v", err)
		}
	}()

	// Dedicated metrics server on port 6162
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Worker metrics listening on :6162")
		if err := http.ListenAndServe(":6162", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	<-agent.Done()
}

// registerShopifyCapabilities binds the Shopify Admin API operations the
// commerce agents propose against.
func registerShopifyCapabilities(registry *capability.StaticRegistry, client *shopify.Client) {
	// Inventory agent
	registry.Register("inventory-agent", "sync_catalog",
		client.Bind(http.MethodGet, "/products/{product_id}.json"))
	registry.Register("inventory-agent", "update_inventory",
		client.Bind(http.MethodPost, "/inventory_levels/set.json"))

	// Pricing agent
	registry.Register("pricing-agent", "update_price",
		client.Bind(http.MethodPut, "/products/{product_id}.json"))
	registry.Register("pricing-agent", "apply_discount",
		client.Bind(http.MethodPost, "/price_rules.json"))

	// Fulfillment agent
	registry.Register("fulfillment-agent", "fulfill_order",
		client.Bind(http.MethodPost, "/orders/{order_id}/fulfillments.json"))
	registry.Register("fulfillment-agent", "cancel_order",
		client.Bind(http.MethodPost, "/orders/{order_id}/cancel.json"))

	// Marketing agent
	registry.Register("marketing-agent", "publish_product",
		client.Bind(http.MethodPut, "/products/{product_id}.json"))
}

// metricSource supplies observations for conditional actions' claim-time
// re-checks. The static snapshot comes from TRIGGER_METRICS, a JSON
// object of metric name to value; deployments with a live monitoring
// pipeline replace this with their own source.
func metricSource() trigger.MetricSource {
	raw := os.Getenv("TRIGGER_METRICS")
	if raw == "" {
		return trigger.MetricMap{}
	}
	var m trigger.MetricMap
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		log.Printf("Invalid TRIGGER_METRICS, conditional actions will defer: %v", err)
		return trigger.MetricMap{}
	}
	return m
}
