package main

import (
	"context"
	"flag"
	"log"

	"datafactory/internal/config"
	"datafactory/internal/messaging"
	"datafactory/pkg/models"
)

// Publishes generation tasks to the worker queue. Typically driven by a
// scheduler that fans a dataset build out into fixed-size index ranges.
func main() {
	var (
		taskType   = flag.String("type", "", "generator type to run")
		numSamples = flag.Int("num-samples", 10, "number of samples per task")
		startIndex = flag.Int("start-index", 0, "global index of the first sample")
		tasks      = flag.Int("tasks", 1, "number of consecutive tasks to enqueue")
		seed       = flag.Int64("seed", 0, "generator seed (0 = random per task)")
		format     = flag.String("format", "", "output format (\"tar\" to also pack an archive)")
		bucket     = flag.String("bucket", "", "override the worker's output bucket")
		noDedup    = flag.Bool("no-dedup", false, "skip dedup for these tasks")
	)
	config.LoadEnvFile() // also parses the flags above

	if *taskType == "" {
		log.Fatal("-type is required")
	}
	if *tasks <= 0 {
		log.Fatal("-tasks must be positive")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer publisher.Close()

	ctx := context.Background()
	for i := 0; i < *tasks; i++ {
		task := models.TaskMessage{
			Type:         *taskType,
			NumSamples:   *numSamples,
			StartIndex:   *startIndex + i**numSamples,
			OutputFormat: *format,
			OutputBucket: *bucket,
			Dedup:        !*noDedup,
		}
		if *seed > 0 {
			task.Seed = seed
		}
		if err := task.Validate(); err != nil {
			log.Fatalf("Invalid task: %v", err)
		}

		if err := publisher.PublishGenerateTask(ctx, task); err != nil {
			log.Fatalf("Failed to publish task %d: %v", i, err)
		}
		log.Printf("Enqueued %s task: %d samples starting at index %d", task.Type, task.NumSamples, task.StartIndex)
	}
}
