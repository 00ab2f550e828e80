package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path/filepath"

	"datafactory/internal/core"
	"datafactory/internal/database"
	"datafactory/internal/dedup"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/storage"
	"datafactory/internal/telemetry"
	"datafactory/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Local single-shot runner: processes one task end to end against a sqlite
// registry and a filesystem object store. Useful for developing generators
// without RabbitMQ, S3, or postgres.
func main() {
	var (
		root       = flag.String("root", "./datafactory-local", "local working directory")
		generators = flag.String("generators", "/opt/generators", "path to generator installations")
		taskType   = flag.String("type", "", "generator type to run")
		numSamples = flag.Int("num-samples", 10, "number of samples to generate")
		startIndex = flag.Int("start-index", 0, "global index of the first sample")
		seed       = flag.Int64("seed", 0, "generator seed (0 = random)")
		format     = flag.String("format", "", "output format (\"tar\" to also pack an archive)")
		noDedup    = flag.Bool("no-dedup", false, "skip dedup against the local registry")
	)
	flag.Parse()

	if *taskType == "" {
		log.Fatal("-type is required")
	}

	if err := os.MkdirAll(filepath.Join(*root, "db"), os.ModePerm); err != nil {
		log.Fatalf("Failed to create working directory: %v", err)
	}

	db, err := database.NewDatabase("sqlite://" + filepath.Join(*root, "db", "datafactory.db"))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	store, err := storage.NewLocalObjectStore(filepath.Join(*root, "objects"))
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	const bucket = "local-dataset"
	if err := store.CreateBucket(context.Background(), bucket); err != nil {
		log.Fatalf("Failed to create bucket: %v", err)
	}

	task := models.TaskMessage{
		Type:         *taskType,
		NumSamples:   *numSamples,
		StartIndex:   *startIndex,
		OutputFormat: *format,
		OutputBucket: bucket,
		Dedup:        !*noDedup,
	}
	if *seed > 0 {
		task.Seed = seed
	}
	if err := task.Validate(); err != nil {
		log.Fatalf("Invalid task: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	if err := queue.PublishGenerateTask(context.Background(), task); err != nil {
		log.Fatalf("Failed to publish task: %v", err)
	}
	queue.Close() // Processor exits once the queued task is drained.

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	runner := generator.NewProcessRunner(*generators)

	proc := core.NewTaskProcessor(
		db,
		dedup.NewGormRegistry(db),
		store,
		runner,
		queue,
		metrics,
		filepath.Join(*root, "scratch"),
		bucket,
		"data/v1",
	)
	proc.Start()

	log.Println("Done.")
}
