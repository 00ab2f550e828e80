package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DedupRecord registers ownership of one param_hash by one sample. The
// composite primary key makes the insert first-writer-wins: a second insert
// for the same (generator_name, param_hash) fails with a duplicate-key
// error regardless of which task issued it.
type DedupRecord struct {
	GeneratorName string `gorm:"primaryKey;size:255"`
	ParamHash     string `gorm:"primaryKey;size:255"`
	SampleId      string `gorm:"size:64;not null"`

	CreationTime time.Time
}

const (
	TaskRunning   string = "RUNNING"
	TaskCompleted string = "COMPLETED"
	TaskFailed    string = "FAILED"
)

// TaskRun records the outcome of one processed task message. Written
// best-effort; the pipeline never fails a task over bookkeeping.
type TaskRun struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	GeneratorType string `gorm:"size:255;not null"`
	NumSamples    int
	StartIndex    int
	Seed          int64

	Status          string `gorm:"size:20;not null"`
	SamplesUploaded int    `gorm:"default:0"`
	Error           string

	CreationTime   time.Time
	CompletionTime sql.NullTime
}
