package generator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"datafactory/pkg/models"
)

// ProcessError reports a generator subprocess that exited abnormally.
// Fatal at task level; the regeneration coordinator treats it as retryable
// within its round budget.
type ProcessError struct {
	Generator string
	Err       error
	Stderr    string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("generator %s failed: %v", e.Generator, e.Err)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Runner invokes the external sample generator. The contract is fixed:
// sample count, optional seed, output directory, run in the generator's
// own working directory.
type Runner interface {
	Run(ctx context.Context, task models.TaskMessage, outputDir string) error
}

// ProcessRunner runs generators installed under generatorsPath, one
// directory per generator type.
type ProcessRunner struct {
	generatorsPath string
	python         string
}

var _ Runner = (*ProcessRunner)(nil)

func NewProcessRunner(generatorsPath string) *ProcessRunner {
	return &ProcessRunner{generatorsPath: generatorsPath, python: "python3"}
}

func (r *ProcessRunner) Run(ctx context.Context, task models.TaskMessage, outputDir string) error {
	generatorDir := filepath.Join(r.generatorsPath, task.Type)
	if _, err := os.Stat(generatorDir); os.IsNotExist(err) {
		return fmt.Errorf("generator not found: %s at %s: %w", task.Type, generatorDir, os.ErrNotExist)
	}

	args := []string{"examples/generate.py", "--num-samples", strconv.Itoa(task.NumSamples)}
	if task.Seed != nil {
		args = append(args, "--seed", strconv.FormatInt(*task.Seed, 10))
	}
	args = append(args, "--output", outputDir)

	slog.Info("running generator", "generator", task.Type, "num_samples", task.NumSamples, "output_dir", outputDir)

	cmd := exec.CommandContext(ctx, r.python, args...)
	cmd.Dir = generatorDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		slog.Error("generator failed", "generator", task.Type, "error", err, "stderr", stderr.String())
		return &ProcessError{Generator: task.Type, Err: err, Stderr: stderr.String()}
	}

	if stderr.Len() > 0 {
		slog.Warn("generator wrote to stderr", "generator", task.Type, "stderr", stderr.String())
	}
	slog.Info("generator finished", "generator", task.Type, "stdout_bytes", stdout.Len())

	return nil
}
