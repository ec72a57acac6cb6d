// Package main is the entry point for the kabuto coordinator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adimian/kabuto/internal/config"
	"github.com/adimian/kabuto/internal/coordinator"
	"github.com/adimian/kabuto/internal/lifecycle"
	"github.com/adimian/kabuto/internal/logger"
	"github.com/adimian/kabuto/internal/observability"
	"github.com/adimian/kabuto/internal/queue"
	"github.com/adimian/kabuto/internal/registry"
	"github.com/adimian/kabuto/internal/store/postgres"
)

func main() {
	// Parse flags
	migrateFlag := flag.Bool("migrate", false, "Run database migrations before starting")
	configPath := flag.String("config", "", "Path to config file (default: kabuto.yaml in current directory)")
	flag.Parse()

	// Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("database_url is required")
	}
	slogger := logger.New(cfg.LogLevel)

	// Setup Database
	ctx := context.Background()
	store, err := postgres.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer store.Close()

	// Run migrations if requested
	if *migrateFlag {
		log.Println("Running database migrations...")
		if err := postgres.Migrate(store.DB()); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
	}

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "kabuto-coordinator", cfg.OTELEndpoint)
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
	if err := observability.RegisterJobGauges(store); err != nil {
		log.Printf("Failed to register job gauges: %v", err)
	}

	// Message broker
	broker := queue.New(cfg.AMQPURL, slogger)

	// Image builder
	builder, err := registry.NewDockerBuilder(registry.Config{
		URL:      cfg.RegistryURL,
		Username: cfg.RegistryUsername,
		Password: cfg.RegistryPassword,
	}, slogger)
	if err != nil {
		log.Fatalf("Failed to create image builder: %v", err)
	}

	manager := lifecycle.New(store, broker, lifecycle.Config{
		WorkDir:      cfg.WorkingDir,
		JobsQueue:    cfg.JobsQueue,
		KillExchange: cfg.KillExchange,
	}, slogger)

	// Metrics server on a dedicated port so scrapes bypass auth.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		log.Println("Coordinator metrics listening on :6161")
		if err := http.ListenAndServe(":6161", mux); err != nil {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	// Start Server
	addr := fmt.Sprintf(":%d", cfg.HTTPPort)
	srv := coordinator.New(addr, store, manager, builder, slogger)

	go func() {
		log.Printf("Kabuto coordinator starting on %s", addr)
		if err := srv.Run(ctx); err != nil {
			log.Printf("Server stopped: %v", err)
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down coordinator...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	log.Println("Server exited properly")
}
