package core

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"

	"datafactory/internal/dedup"
	"datafactory/internal/generator"
	"datafactory/internal/telemetry"
	"datafactory/pkg/models"
)

// MaxDedupRounds bounds both the number of check/regenerate rounds and the
// number of generator attempts within one round.
const MaxDedupRounds = 3

// Coordinator turns duplicate samples into fresh, hash-distinct
// replacements. Duplicates are regenerated in one batched generator
// invocation per round, amortizing the subprocess cost, and the i-th
// regenerated directory replaces the i-th duplicate slot. Positional
// pairing assumes the generator emits samples in a stable order; if it does
// not, a replacement can land in the wrong slot. Known limitation.
type Coordinator struct {
	runner     generator.Runner
	registry   dedup.Registry
	metrics    *telemetry.Metrics
	scratchDir string
}

func NewCoordinator(runner generator.Runner, registry dedup.Registry, metrics *telemetry.Metrics, scratchDir string) *Coordinator {
	return &Coordinator{
		runner:     runner,
		registry:   registry,
		metrics:    metrics,
		scratchDir: scratchDir,
	}
}

func randomSeed() int64 {
	return rand.Int64N(1<<31-1) + 1
}

// DedupSamples checks every renamed sample against the registry and batch
// regenerates the duplicates, re-checking only the replaced ids each round.
// Samples still duplicate after MaxDedupRounds are deleted and dropped.
// Returns the sample ids that hold a registered (or absent) hash, in the
// order they cleared.
func (c *Coordinator) DedupSamples(ctx context.Context, domainTaskDir string, sampleIds []string, task models.TaskMessage) ([]string, error) {
	totalDuplicates := 0
	totalRetries := 0

	pending := sampleIds
	var unique []string

	for round := 0; round <= MaxDedupRounds; round++ {
		var duplicates []string

		for _, sampleId := range pending {
			sampleDir := filepath.Join(domainTaskDir, sampleId)

			// Sample dir was cleaned up (e.g. regeneration failed), skip it.
			if _, err := os.Stat(sampleDir); os.IsNotExist(err) {
				slog.Warn("sample dir missing, skipping", "sample_id", sampleId)
				totalDuplicates++
				continue
			}

			paramHash, err := ReadParamHash(sampleDir)
			if err != nil {
				return nil, err
			}
			if paramHash == "" {
				slog.Warn("no param_hash for sample, skipping dedup check", "sample_id", sampleId)
				unique = append(unique, sampleId)
				continue
			}

			ok, err := c.registry.CheckAndRegister(ctx, task.Type, paramHash, sampleId)
			if err != nil {
				return nil, fmt.Errorf("dedup check failed for sample %s: %w", sampleId, err)
			}
			if ok {
				slog.Info("dedup ok", "sample_id", sampleId, "param_hash", paramHash)
				unique = append(unique, sampleId)
			} else {
				slog.Warn("duplicate sample", "sample_id", sampleId, "param_hash", paramHash)
				duplicates = append(duplicates, sampleId)
				totalDuplicates++
			}
		}

		if len(duplicates) == 0 {
			break
		}

		// Last round was the final check, no more retries.
		if round == MaxDedupRounds {
			for _, sampleId := range duplicates {
				slog.Warn("dropping sample after exhausting dedup retries", "sample_id", sampleId, "max_rounds", MaxDedupRounds)
				os.RemoveAll(filepath.Join(domainTaskDir, sampleId))
			}
			break
		}

		totalRetries++
		slog.Info("batch regenerating duplicates", "round", round+1, "duplicates", len(duplicates))
		c.batchRegenerate(ctx, duplicates, domainTaskDir, task)
		pending = duplicates // Re-check only the regenerated ones.
	}

	c.metrics.DuplicatesFound(task.Type, totalDuplicates)
	for i := 0; i < totalRetries; i++ {
		c.metrics.RetryRound(task.Type)
	}
	c.metrics.DedupSkipped(task.Type, len(sampleIds)-len(unique))

	return unique, nil
}

// batchRegenerate replaces the sample directories for duplicateIds with
// fresh generator output, one subprocess call for the whole batch. Retries
// with a different seed if the generator crashes or produces nothing. On
// final failure the old directories are cleaned up so the caller can skip
// them; failure here is absorbed, not surfaced.
func (c *Coordinator) batchRegenerate(ctx context.Context, duplicateIds []string, domainTaskDir string, task models.TaskMessage) {
	count := len(duplicateIds)

	for attempt := 0; attempt < MaxDedupRounds; attempt++ {
		newSeed := randomSeed()
		retryOutputDir := filepath.Join(c.scratchDir, fmt.Sprintf("dedup_retry_%s_%d_%d", task.Type, os.Getpid(), newSeed))

		slog.Info("batch regenerating samples", "count", count, "seed", newSeed, "attempt", attempt+1, "max_attempts", MaxDedupRounds)

		retryTask := models.TaskMessage{
			Type:         task.Type,
			NumSamples:   count,
			StartIndex:   0,
			Seed:         &newSeed,
			OutputFormat: task.OutputFormat,
			OutputBucket: task.OutputBucket,
		}

		newSampleDirs, err := c.regenerateOnce(ctx, retryTask, retryOutputDir)
		if err != nil {
			slog.Warn("batch regeneration attempt failed", "attempt", attempt+1, "error", err)
			os.RemoveAll(retryOutputDir)
			continue
		}
		if len(newSampleDirs) == 0 {
			slog.Warn("batch regenerate produced no output, retrying with new seed")
			os.RemoveAll(retryOutputDir)
			continue
		}

		// Map regenerated samples back to duplicate ids, 1:1 in order.
		for i, sampleId := range duplicateIds {
			targetDir := filepath.Join(domainTaskDir, sampleId)
			if err := os.RemoveAll(targetDir); err != nil {
				slog.Warn("failed to clear duplicate sample dir", "sample_id", sampleId, "error", err)
				continue
			}

			if i < len(newSampleDirs) {
				if err := os.Rename(newSampleDirs[i], targetDir); err != nil {
					slog.Warn("failed to move regenerated sample into place", "sample_id", sampleId, "error", err)
				}
			} else {
				slog.Warn("not enough regenerated samples", "sample_id", sampleId)
			}
		}

		os.RemoveAll(retryOutputDir)
		return
	}

	// All attempts exhausted, clean up so the caller can skip these samples.
	slog.Warn("batch regeneration failed, dropping samples", "attempts", MaxDedupRounds, "count", count)
	for _, sampleId := range duplicateIds {
		os.RemoveAll(filepath.Join(domainTaskDir, sampleId))
	}
}

func (c *Coordinator) regenerateOnce(ctx context.Context, retryTask models.TaskMessage, retryOutputDir string) ([]string, error) {
	if err := c.runner.Run(ctx, retryTask, retryOutputDir); err != nil {
		return nil, err
	}
	return CollectSampleDirs(retryOutputDir)
}
