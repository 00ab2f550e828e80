package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"datafactory/internal/config"
	"datafactory/internal/core"
	"datafactory/internal/database"
	"datafactory/internal/dedup"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/storage"
	"datafactory/internal/telemetry"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

func main() {
	config.LoadEnvFile()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	var db *gorm.DB
	var registry dedup.Registry
	if cfg.DatabaseURL != "" {
		db, err = database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		registry = dedup.NewGormRegistry(db)
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	if err := store.CreateBucket(context.Background(), cfg.OutputBucket); err != nil {
		log.Printf("Warning: could not ensure output bucket %s: %v", cfg.OutputBucket, err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)

	runner := generator.NewProcessRunner(cfg.GeneratorsPath)

	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	// Each processor gets its own scratch subtree so concurrent tasks never
	// share filesystem state.
	processors := make([]*core.TaskProcessor, concurrency)
	for i := range processors {
		scratch := filepath.Join(cfg.ScratchDir, fmt.Sprintf("worker-%d", i))
		processors[i] = core.NewTaskProcessor(db, registry, store, runner, receiver, metrics, scratch, cfg.OutputBucket, cfg.KeyNamespace)
		go processors[i].Start()
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok")) //nolint:errcheck
	})
	r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: r}
	go func() {
		log.Printf("metrics listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	log.Printf("Worker started with %d processor(s). Waiting for tasks.", concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutdown signal received, stopping...")

	receiver.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}

	log.Println("Worker process stopped.")
}
