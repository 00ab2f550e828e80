package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTask marks task messages that fail validation. Tasks carrying
// this error are rejected without retry so they cannot pollute the dedup
// registry or the output bucket.
var ErrInvalidTask = errors.New("invalid task message")

// TaskMessage describes one sample-generation task. Immutable once
// validated; the queue delivers it at least once.
type TaskMessage struct {
	Type         string `json:"type"`
	NumSamples   int    `json:"num_samples"`
	StartIndex   int    `json:"start_index"`
	Seed         *int64 `json:"seed,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
	OutputBucket string `json:"output_bucket,omitempty"`
	Dedup        bool   `json:"dedup"`
}

func (t *TaskMessage) Validate() error {
	if t.Type == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidTask)
	}
	if t.NumSamples <= 0 {
		return fmt.Errorf("%w: num_samples must be positive, got %d", ErrInvalidTask, t.NumSamples)
	}
	if t.StartIndex < 0 {
		return fmt.Errorf("%w: start_index must be non-negative, got %d", ErrInvalidTask, t.StartIndex)
	}
	if t.Seed != nil && *t.Seed <= 0 {
		return fmt.Errorf("%w: seed must be positive, got %d", ErrInvalidTask, *t.Seed)
	}
	return nil
}

// UploadedSample records one sample directory transferred to bulk storage.
type UploadedSample struct {
	SampleId      string `json:"sample_id"`
	FilesUploaded int    `json:"files_uploaded"`
}

// TaskResult summarizes a completed task. Constructed once, never mutated.
type TaskResult struct {
	Generator       string   `json:"generator"`
	SamplesUploaded int      `json:"samples_uploaded"`
	SampleIds       []string `json:"sample_ids"`
	TarFiles        []string `json:"tar_files,omitempty"`
}
