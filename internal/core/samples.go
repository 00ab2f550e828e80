package core

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const domainTaskSuffix = "_task"

// Generator output layout: <output>/data/questions/<domain>_task/<sample>/...
const questionsSubdir = "data/questions"

// A candidate directory counts as a sample only if it holds at least one
// artifact file; anything else is generator debris and gets deleted.
var artifactExtensions = map[string]struct{}{
	".json":  {},
	".jsonl": {},
	".txt":   {},
	".csv":   {},
	".png":   {},
}

// FindQuestionsDir locates the questions root inside a generator output
// tree. Missing output is fatal for the task.
func FindQuestionsDir(outputDir string) (string, error) {
	questionsDir := filepath.Join(outputDir, filepath.FromSlash(questionsSubdir))
	info, err := os.Stat(questionsDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: expected output directory not found: %s", ErrNoSamples, questionsDir)
	}
	return questionsDir, nil
}

// FindDomainTaskDirs walks the questions root and returns every directory
// whose name carries the domain-task suffix, in walk (lexical) order.
func FindDomainTaskDirs(questionsDir string) ([]string, error) {
	var dirs []string
	err := filepath.WalkDir(questionsDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && strings.HasSuffix(d.Name(), domainTaskSuffix) {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk questions directory %s: %w", questionsDir, err)
	}
	return dirs, nil
}

func hasArtifactFile(dir string) (bool, error) {
	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := artifactExtensions[strings.ToLower(filepath.Ext(d.Name()))]; ok {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to scan sample candidate %s: %w", dir, err)
	}
	return found, nil
}

var integerRe = regexp.MustCompile(`\d+`)

// trailingInt returns the last integer substring of a name. Names without
// one sort after all numeric names, by name.
func trailingInt(name string) (int, bool) {
	matches := integerRe.FindAllString(name, -1)
	if len(matches) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(matches[len(matches)-1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// RenameSamples assigns global sample identifiers to the samples under a
// domain-task directory. Candidates without artifact files are deleted in
// place; survivors are ordered by the trailing integer of their original
// name (non-numeric names last, by name) and renamed to
// startIndex..startIndex+n-1. Returns the new identifiers in order.
func RenameSamples(domainTaskDir string, startIndex int) ([]string, error) {
	entries, err := os.ReadDir(domainTaskDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read domain task directory %s: %w", domainTaskDir, err)
	}

	var accepted []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(domainTaskDir, entry.Name())

		ok, err := hasArtifactFile(candidate)
		if err != nil {
			return nil, err
		}
		if !ok {
			slog.Info("deleting empty sample candidate", "dir", candidate)
			if err := os.RemoveAll(candidate); err != nil {
				return nil, fmt.Errorf("failed to delete empty sample candidate %s: %w", candidate, err)
			}
			continue
		}
		accepted = append(accepted, entry.Name())
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		ni, oki := trailingInt(accepted[i])
		nj, okj := trailingInt(accepted[j])
		if oki != okj {
			return oki
		}
		if oki && okj && ni != nj {
			return ni < nj
		}
		return accepted[i] < accepted[j]
	})

	// Two-phase rename: moving straight to the final id collides when the
	// target range overlaps the generator's own names (e.g. output "0".."4"
	// with a start index of 2). Stage everything under temp names first.
	tmpNames := make([]string, len(accepted))
	for i, name := range accepted {
		tmpName := fmt.Sprintf(".renaming_%d", i)
		if err := os.Rename(filepath.Join(domainTaskDir, name), filepath.Join(domainTaskDir, tmpName)); err != nil {
			return nil, fmt.Errorf("failed to stage sample %s for rename: %w", name, err)
		}
		tmpNames[i] = tmpName
	}

	sampleIds := make([]string, 0, len(accepted))
	for i, tmpName := range tmpNames {
		sampleId := strconv.Itoa(startIndex + i)
		if err := os.Rename(filepath.Join(domainTaskDir, tmpName), filepath.Join(domainTaskDir, sampleId)); err != nil {
			return nil, fmt.Errorf("failed to rename sample %s to %s: %w", accepted[i], sampleId, err)
		}
		sampleIds = append(sampleIds, sampleId)
	}

	return sampleIds, nil
}

// CollectSampleDirs returns the sample directories of a generator output
// tree without renaming them, in generator output order. Used for
// regenerated batches, which are paired positionally with duplicate slots.
func CollectSampleDirs(outputDir string) ([]string, error) {
	questionsDir, err := FindQuestionsDir(outputDir)
	if err != nil {
		return nil, err
	}

	taskDirs, err := FindDomainTaskDirs(questionsDir)
	if err != nil {
		return nil, err
	}

	var sampleDirs []string
	for _, taskDir := range taskDirs {
		entries, err := os.ReadDir(taskDir)
		if err != nil {
			return nil, fmt.Errorf("failed to read domain task directory %s: %w", taskDir, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				sampleDirs = append(sampleDirs, filepath.Join(taskDir, entry.Name()))
			}
		}
	}

	return sampleDirs, nil
}

type sampleMetadata struct {
	ParamHash string `json:"param_hash"`
}

// ReadParamHash reads the param_hash from a sample's metadata.json.
// Returns "" if the file or field is absent; such samples skip dedup.
func ReadParamHash(sampleDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(sampleDir, "metadata.json"))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read metadata for %s: %w", sampleDir, err)
	}

	var meta sampleMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return "", fmt.Errorf("failed to parse metadata for %s: %w", sampleDir, err)
	}
	return meta.ParamHash, nil
}
