package core

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSampleDir(t *testing.T, domainTaskDir, name string, files map[string]string) string {
	t.Helper()
	dir := filepath.Join(domainTaskDir, name)
	require.NoError(t, os.MkdirAll(dir, os.ModePerm))
	for rel, content := range files {
		path := filepath.Join(dir, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte(content), os.ModePerm))
	}
	return dir
}

func setupDomainTaskDir(t *testing.T) (string, string) {
	t.Helper()
	outputDir := t.TempDir()
	domainTaskDir := filepath.Join(outputDir, "data", "questions", "chess_task")
	require.NoError(t, os.MkdirAll(domainTaskDir, os.ModePerm))
	return outputDir, domainTaskDir
}

func TestFindQuestionsDir(t *testing.T) {
	outputDir, _ := setupDomainTaskDir(t)

	dir, err := FindQuestionsDir(outputDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(outputDir, "data", "questions"), dir)
}

func TestFindQuestionsDir_Missing(t *testing.T) {
	_, err := FindQuestionsDir(t.TempDir())
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestFindDomainTaskDirs(t *testing.T) {
	outputDir, domainTaskDir := setupDomainTaskDir(t)
	other := filepath.Join(outputDir, "data", "questions", "nested", "math_task")
	require.NoError(t, os.MkdirAll(other, os.ModePerm))
	require.NoError(t, os.MkdirAll(filepath.Join(outputDir, "data", "questions", "not_a_sample"), os.ModePerm))

	questionsDir, err := FindQuestionsDir(outputDir)
	require.NoError(t, err)

	dirs, err := FindDomainTaskDirs(questionsDir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{domainTaskDir, other}, dirs)
}

func TestRenameSamples_BijectionInNumericOrder(t *testing.T) {
	_, domainTaskDir := setupDomainTaskDir(t)

	// Trailing-integer order: sample_2 < sample_10; non-numeric names last.
	writeSampleDir(t, domainTaskDir, "sample_10", map[string]string{"board.json": "{}"})
	writeSampleDir(t, domainTaskDir, "sample_2", map[string]string{"board.json": "{}"})
	writeSampleDir(t, domainTaskDir, "extra", map[string]string{"board.json": "{}"})

	ids, err := RenameSamples(domainTaskDir, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "11", "12"}, ids)

	entries, err := os.ReadDir(domainTaskDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"10", "11", "12"}, names)

	// sample_2 took the first id, the non-numeric name the last.
	assert.FileExists(t, filepath.Join(domainTaskDir, "10", "board.json"))
}

func TestRenameSamples_DeletesEmptyCandidates(t *testing.T) {
	_, domainTaskDir := setupDomainTaskDir(t)

	writeSampleDir(t, domainTaskDir, "0", map[string]string{"data.json": "{}"})
	empty := writeSampleDir(t, domainTaskDir, "1", nil)
	noArtifacts := writeSampleDir(t, domainTaskDir, "2", map[string]string{"notes.log": "x"})
	writeSampleDir(t, domainTaskDir, "3", map[string]string{"nested/deep.txt": "x"})

	ids, err := RenameSamples(domainTaskDir, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, ids)

	assert.NoDirExists(t, empty)
	assert.NoDirExists(t, noArtifacts)
}

func TestRenameSamples_OverlappingTargetRange(t *testing.T) {
	_, domainTaskDir := setupDomainTaskDir(t)

	// Generator names collide with the target id range: "0".."4" must land
	// on "2".."6" without tripping over the still-unprocessed "2".."4".
	for i := 0; i < 5; i++ {
		name := strconv.Itoa(i)
		writeSampleDir(t, domainTaskDir, name, map[string]string{"data.json": `{"origin": "` + name + `"}`})
	}

	ids, err := RenameSamples(domainTaskDir, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4", "5", "6"}, ids)

	entries, err := os.ReadDir(domainTaskDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, ids, names)

	// Order is preserved: original "0" now holds id 2, "4" holds id 6.
	first, err := os.ReadFile(filepath.Join(domainTaskDir, "2", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"origin": "0"}`, string(first))

	last, err := os.ReadFile(filepath.Join(domainTaskDir, "6", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"origin": "4"}`, string(last))
}

func TestRenameSamples_EmptyDirConsumesNoIdentifier(t *testing.T) {
	_, domainTaskDir := setupDomainTaskDir(t)

	writeSampleDir(t, domainTaskDir, "0", map[string]string{"a.json": "{}"})
	writeSampleDir(t, domainTaskDir, "1", nil)
	writeSampleDir(t, domainTaskDir, "2", map[string]string{"b.json": "{}"})

	ids, err := RenameSamples(domainTaskDir, 100)
	require.NoError(t, err)

	// Ids stay contiguous: the empty slot does not burn an identifier.
	assert.Equal(t, []string{"100", "101"}, ids)
	assert.FileExists(t, filepath.Join(domainTaskDir, "101", "b.json"))
}

func TestCollectSampleDirs(t *testing.T) {
	outputDir, domainTaskDir := setupDomainTaskDir(t)

	writeSampleDir(t, domainTaskDir, "b", map[string]string{"x.json": "{}"})
	writeSampleDir(t, domainTaskDir, "a", map[string]string{"x.json": "{}"})

	dirs, err := CollectSampleDirs(outputDir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(domainTaskDir, "a"),
		filepath.Join(domainTaskDir, "b"),
	}, dirs)
}

func TestReadParamHash(t *testing.T) {
	_, domainTaskDir := setupDomainTaskDir(t)

	withHash := writeSampleDir(t, domainTaskDir, "0", map[string]string{"metadata.json": `{"param_hash": "abc123"}`})
	withoutField := writeSampleDir(t, domainTaskDir, "1", map[string]string{"metadata.json": `{}`})
	withoutFile := writeSampleDir(t, domainTaskDir, "2", map[string]string{"data.json": "{}"})
	corrupt := writeSampleDir(t, domainTaskDir, "3", map[string]string{"metadata.json": `not json`})

	hash, err := ReadParamHash(withHash)
	require.NoError(t, err)
	assert.Equal(t, "abc123", hash)

	hash, err = ReadParamHash(withoutField)
	require.NoError(t, err)
	assert.Empty(t, hash)

	hash, err = ReadParamHash(withoutFile)
	require.NoError(t, err)
	assert.Empty(t, hash)

	_, err = ReadParamHash(corrupt)
	require.Error(t, err)
}
