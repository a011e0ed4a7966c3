// Package main is the entry point for the crewflow controller.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewflow/internal/actions"
	"crewflow/internal/config"
	"crewflow/internal/controller"
	"crewflow/internal/gate"
	"crewflow/internal/logger"
	"crewflow/internal/observability"
	"crewflow/internal/quota"
	"crewflow/internal/scheduler"
	"crewflow/internal/store/postgres"
	"crewflow/internal/trigger"
)

func main() {
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New()

	ctx := context.Background()
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(store.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "crewflow-controller", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

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

	// Backlog gauge queries the DB only when scraped.
	if err := observability.RegisterBacklogGauge(store); err != nil {
		log.Printf("Failed to register backlog gauge: %v", err)
	}

	// Scheduling core
	approvalGate := gate.New(store, slogger, gate.WithWindow(cfg.ApprovalWindow))
	quotas := quota.New(store)
	evaluator := trigger.NewEvaluator(slogger)
	service := actions.New(store, approvalGate, quotas, evaluator, slogger)

	sched := scheduler.New(store, approvalGate, scheduler.Config{
		SweepInterval:    cfg.SweepInterval,
		ExecutionTimeout: cfg.ExecutionTimeout,
	}, slogger)
	sched.Start(ctx)
	defer sched.Stop()

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := controller.New(addr, service, store, store, metricsHandler)

	go func() {
		log.Printf("CrewFlow Controller starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down controller...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
