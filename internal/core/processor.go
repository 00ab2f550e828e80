package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"datafactory/internal/database"
	"datafactory/internal/dedup"
	"datafactory/internal/generator"
	"datafactory/internal/messaging"
	"datafactory/internal/storage"
	"datafactory/internal/telemetry"
	"datafactory/pkg/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskProcessor drives the whole pipeline for each task message: generate,
// locate and rename samples, dedup with regeneration, upload. Execution is
// single-threaded per task; parallelism comes from running several
// processors, each with scratch space keyed by process identity. There is
// no recovery inside the handler: errors propagate to the queue layer,
// which owns redelivery and dead-lettering.
type TaskProcessor struct {
	db       *gorm.DB
	registry dedup.Registry
	runner   generator.Runner
	receiver messaging.Receiver
	metrics  *telemetry.Metrics

	coordinator *Coordinator
	uploader    *Uploader

	scratchDir string
}

// NewTaskProcessor wires the pipeline. db and registry may be nil, in
// which case task bookkeeping and dedup are skipped.
func NewTaskProcessor(
	db *gorm.DB,
	registry dedup.Registry,
	store storage.ObjectStore,
	runner generator.Runner,
	receiver messaging.Receiver,
	metrics *telemetry.Metrics,
	scratchDir string,
	outputBucket string,
	keyNamespace string,
) *TaskProcessor {
	return &TaskProcessor{
		db:          db,
		registry:    registry,
		runner:      runner,
		receiver:    receiver,
		metrics:     metrics,
		coordinator: NewCoordinator(runner, registry, metrics, scratchDir),
		uploader:    NewUploader(store, outputBucket, keyNamespace),
		scratchDir:  scratchDir,
	}
}

func (proc *TaskProcessor) Start() {
	slog.Info("starting task processor")

	for task := range proc.receiver.Tasks() {
		proc.ProcessTask(task)
	}
}

func (proc *TaskProcessor) Stop() {
	slog.Info("stopping task processor")

	proc.receiver.Close()
}

func (proc *TaskProcessor) ProcessTask(task messaging.Task) {
	ctx := context.Background()

	if task.Type() != messaging.GenerateQueue {
		slog.Error("received unknown task type", "queue", task.Type())
		if err := task.Reject(); err != nil {
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	var payload models.TaskMessage
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		slog.Error("error unmarshalling generate task", "error", err)
		if err := task.Reject(); err != nil { // Discard malformed message
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err := payload.Validate(); err != nil {
		slog.Error("invalid generate task", "error", err)
		if err := task.Reject(); err != nil { // No side effects before validation
			slog.Error("error rejecting message from queue", "error", err)
		}
		return
	}

	if err := proc.processGenerateTask(ctx, payload); err != nil {
		slog.Error("error processing task", "queue", task.Type(), "error", err)
		if err := task.Nack(); err != nil {
			slog.Error("error reporting processing failure on message from queue", "error", err)
		}
	} else {
		slog.Info("successfully processed task", "queue", task.Type())
		if err := task.Ack(); err != nil {
			slog.Error("error acknowledging message from queue", "error", err)
		}
	}
}

func (proc *TaskProcessor) processGenerateTask(ctx context.Context, task models.TaskMessage) error {
	if task.Seed == nil {
		seed := randomSeed()
		task.Seed = &seed
		slog.Info("no seed provided, using random seed", "seed", seed)
	}

	var runId uuid.UUID
	if proc.db != nil {
		runId = database.CreateTaskRun(ctx, proc.db, task.Type, task.NumSamples, task.StartIndex, *task.Seed)
	}

	start := time.Now()
	result, err := proc.processSamples(ctx, task)
	proc.metrics.ObserveTaskDuration(task.Type, time.Since(start))

	if err != nil {
		if proc.db != nil {
			database.FinalizeTaskRun(ctx, proc.db, runId, database.TaskFailed, 0, err)
		}
		return err
	}

	proc.metrics.TaskSucceeded(task.Type)
	proc.metrics.SamplesUploaded(task.Type, len(result.SampleIds))
	if proc.db != nil {
		database.FinalizeTaskRun(ctx, proc.db, runId, database.TaskCompleted, result.SamplesUploaded, nil)
	}

	slog.Info("task complete", "generator", task.Type, "samples_uploaded", result.SamplesUploaded)

	return nil
}

func (proc *TaskProcessor) processSamples(ctx context.Context, task models.TaskMessage) (models.TaskResult, error) {
	outputDir := filepath.Join(proc.scratchDir, fmt.Sprintf("output_%s_%d", task.Type, os.Getpid()))
	defer os.RemoveAll(outputDir)

	if err := proc.runner.Run(ctx, task, outputDir); err != nil {
		return models.TaskResult{}, err
	}

	questionsDir, err := FindQuestionsDir(outputDir)
	if err != nil {
		return models.TaskResult{}, err
	}

	taskDirs, err := FindDomainTaskDirs(questionsDir)
	if err != nil {
		return models.TaskResult{}, err
	}

	var uploadedSamples []models.UploadedSample
	var tarFiles []string
	foundAnyTaskDir := false

	for _, domainTaskDir := range taskDirs {
		slog.Info("found domain task directory", "dir", domainTaskDir)

		sampleIds, err := RenameSamples(domainTaskDir, task.StartIndex)
		if err != nil {
			return models.TaskResult{}, err
		}
		if len(sampleIds) == 0 {
			continue
		}

		foundAnyTaskDir = true

		if task.Dedup {
			if proc.registry == nil {
				slog.Warn("no dedup registry configured, skipping dedup")
			} else {
				before := len(sampleIds)
				slog.Info("dedup enabled, checking samples", "count", before)

				sampleIds, err = proc.coordinator.DedupSamples(ctx, domainTaskDir, sampleIds, task)
				if err != nil {
					return models.TaskResult{}, err
				}
				slog.Info("dedup finished", "unique", len(sampleIds), "checked", before)

				if len(sampleIds) == 0 {
					slog.Warn("all samples were duplicates, skipping upload")
					continue
				}
			}
		}

		batchUploaded, batchTar, err := proc.uploader.UploadSamples(ctx, domainTaskDir, sampleIds, task)
		if err != nil {
			return models.TaskResult{}, err
		}

		uploadedSamples = append(uploadedSamples, batchUploaded...)
		if batchTar != "" {
			tarFiles = append(tarFiles, batchTar)
		}
	}

	if !foundAnyTaskDir {
		return models.TaskResult{}, fmt.Errorf("%w: no task directories with files found in %s", ErrNoSamples, questionsDir)
	}

	sampleIds := make([]string, len(uploadedSamples))
	for i, s := range uploadedSamples {
		sampleIds[i] = s.SampleId
	}

	return models.TaskResult{
		Generator:       task.Type,
		SamplesUploaded: len(uploadedSamples),
		SampleIds:       sampleIds,
		TarFiles:        tarFiles,
	}, nil
}
