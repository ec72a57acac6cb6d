// Package main is the entry point for the kabuto worker. The worker
// consumes the dispatch queue, runs each job in a container and reports
// logs and results back to the coordinator.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/adimian/kabuto/internal/config"
	"github.com/adimian/kabuto/internal/logger"
	"github.com/adimian/kabuto/internal/observability"
	"github.com/adimian/kabuto/internal/queue"
	"github.com/adimian/kabuto/internal/worker"
	"github.com/adimian/kabuto/internal/worker/runtime"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file (default: kabuto.yaml in current directory)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	slogger := logger.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Tracing
	shutdownTracer, err := observability.InitTracer(ctx, "kabuto-worker", cfg.OTELEndpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Printf("Failed to shutdown tracer: %v", err)
		}
	}()

	// Select runtime based on configuration
	var rt runtime.Runtime
	switch cfg.Runtime {
	case "exec":
		rt = runtime.NewExecRuntime()
		log.Println("Using exec runtime")
	case "docker":
		fallthrough
	default:
		dockerRT, err := runtime.NewDockerRuntime()
		if err != nil {
			log.Fatalf("Failed to create Docker runtime: %v", err)
		}
		rt = dockerRT
		log.Println("Using docker runtime")
	}

	hostname, _ := os.Hostname()
	broker := queue.New(cfg.AMQPURL, slogger)
	agent := worker.New(broker, rt, worker.AgentConfig{
		ID:             hostname,
		CoordinatorURL: cfg.CoordinatorURL,
		JobsQueue:      cfg.JobsQueue,
		KillExchange:   cfg.KillExchange,
		WorkDir:        cfg.WorkerWorkDir,
	}, slogger)

	agentDone := make(chan error, 1)
	go func() {
		log.Printf("Worker consuming queue %q", cfg.JobsQueue)
		agentDone <- agent.Run(ctx)
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

	// Start a dedicated metrics server on port 6162
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

	select {
	case <-quit:
		log.Println("Shutting down worker...")
		cancel()
		<-agentDone
	case err := <-agentDone:
		if err != nil {
			log.Fatalf("Worker stopped: %v", err)
		}
	}
}
