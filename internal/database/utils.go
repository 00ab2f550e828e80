package database

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func CreateTaskRun(ctx context.Context, txn *gorm.DB, generatorType string, numSamples, startIndex int, seed int64) uuid.UUID {
	id := uuid.New()
	run := TaskRun{
		Id:            id,
		GeneratorType: generatorType,
		NumSamples:    numSamples,
		StartIndex:    startIndex,
		Seed:          seed,
		Status:        TaskRunning,
		CreationTime:  time.Now().UTC(),
	}

	if err := txn.WithContext(ctx).Create(&run).Error; err != nil {
		slog.Error("error creating task run record", "generator", generatorType, "error", err)
	}
	return id
}

func FinalizeTaskRun(ctx context.Context, txn *gorm.DB, runId uuid.UUID, status string, samplesUploaded int, taskErr error) {
	updates := map[string]any{
		"status":           status,
		"samples_uploaded": samplesUploaded,
		"completion_time":  sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if taskErr != nil {
		updates["error"] = taskErr.Error()
	}

	if err := txn.WithContext(ctx).Model(&TaskRun{Id: runId}).Updates(updates).Error; err != nil {
		slog.Error("error updating task run status", "run_id", runId, "status", status, "error", err)
	}
}
