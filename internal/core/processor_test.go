package core

import (
	"context"
	"errors"
	"testing"

	"datafactory/internal/database"
	"datafactory/internal/dedup"
	"datafactory/internal/messaging"
	"datafactory/pkg/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeTask struct {
	queue   string
	payload []byte

	acked    bool
	nacked   bool
	rejected bool
}

func (t *fakeTask) Type() string    { return t.queue }
func (t *fakeTask) Payload() []byte { return t.payload }
func (t *fakeTask) Ack() error      { t.acked = true; return nil }
func (t *fakeTask) Nack() error     { t.nacked = true; return nil }
func (t *fakeTask) Reject() error   { t.rejected = true; return nil }

type pipeline struct {
	db        *gorm.DB
	registry  *dedup.GormRegistry
	store     *recordingStore
	runner    *fakeRunner
	queue     *messaging.InMemoryQueue
	processor *TaskProcessor
}

func setupPipeline(t *testing.T, runner *fakeRunner) *pipeline {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, database.GetMigrator(db).Migrate())

	store := newRecordingStore()
	queue := messaging.NewInMemoryQueue()
	registry := dedup.NewGormRegistry(db)

	processor := NewTaskProcessor(
		db, registry, store, runner, queue, testMetrics(),
		t.TempDir(), "dataset-bucket", "data/v1",
	)

	return &pipeline{db: db, registry: registry, store: store, runner: runner, queue: queue, processor: processor}
}

func (p *pipeline) run(t *testing.T, task models.TaskMessage) {
	t.Helper()
	require.NoError(t, p.queue.PublishGenerateTask(context.Background(), task))
	p.queue.Close()
	p.processor.Start() // Returns once the queue drains.
}

func (p *pipeline) taskRun(t *testing.T) database.TaskRun {
	t.Helper()
	var run database.TaskRun
	require.NoError(t, p.db.First(&run).Error)
	return run
}

func TestProcessor_GenerateTask(t *testing.T) {
	runner := &fakeRunner{batches: [][]string{{"h-1", "h-2", "h-3"}}}
	p := setupPipeline(t, runner)

	p.run(t, models.TaskMessage{Type: "chess", NumSamples: 3, StartIndex: 10, Dedup: true})

	// Three fresh samples, no regeneration needed.
	require.Len(t, runner.calls, 1)
	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/10/sample.json")
	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/11/sample.json")
	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/12/sample.json")

	var count int64
	require.NoError(t, p.db.Model(&database.DedupRecord{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	run := p.taskRun(t)
	assert.Equal(t, database.TaskCompleted, run.Status)
	assert.Equal(t, 3, run.SamplesUploaded)
	assert.True(t, run.CompletionTime.Valid)
}

func TestProcessor_DuplicateReplacedBeforeUpload(t *testing.T) {
	runner := &fakeRunner{batches: [][]string{{"h-1", "h-2", "h-3"}, {"h-fresh"}}}
	p := setupPipeline(t, runner)

	// Another task already owns the hash that sample 11 will produce.
	owned, err := p.registry.CheckAndRegister(context.Background(), "chess", "h-2", "999")
	require.NoError(t, err)
	require.True(t, owned)

	p.run(t, models.TaskMessage{Type: "chess", NumSamples: 3, StartIndex: 10, Dedup: true})

	// One regeneration round for the single duplicate slot.
	require.Len(t, runner.calls, 2)
	assert.Equal(t, 1, runner.calls[1].NumSamples)

	// All three identifiers uploaded; slot 11 carries the regenerated sample.
	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/10/sample.json")
	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/11/sample.json")
	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/12/sample.json")
	assert.Equal(t, []byte(`{"hash": "h-fresh"}`), p.store.objects["dataset-bucket/data/v1/chess/11/sample.json"])

	var record database.DedupRecord
	require.NoError(t, p.db.First(&record, "param_hash = ?", "h-fresh").Error)
	assert.Equal(t, "11", record.SampleId)

	run := p.taskRun(t)
	assert.Equal(t, database.TaskCompleted, run.Status)
	assert.Equal(t, 3, run.SamplesUploaded)
}

func TestProcessor_DedupDisabledSkipsRegistry(t *testing.T) {
	runner := &fakeRunner{batches: [][]string{{"h-1", "h-2"}}}
	p := setupPipeline(t, runner)

	p.run(t, models.TaskMessage{Type: "chess", NumSamples: 2, StartIndex: 0})

	assert.Contains(t, p.store.objects, "dataset-bucket/data/v1/chess/0/sample.json")

	var count int64
	require.NoError(t, p.db.Model(&database.DedupRecord{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestProcessTask_MalformedPayloadRejected(t *testing.T) {
	p := setupPipeline(t, &fakeRunner{})

	task := &fakeTask{queue: messaging.GenerateQueue, payload: []byte("not json")}
	p.processor.ProcessTask(task)

	assert.True(t, task.rejected)
	assert.False(t, task.acked)
	assert.False(t, task.nacked)

	// No side effects: nothing uploaded, nothing recorded.
	assert.Empty(t, p.store.objects)
	var count int64
	require.NoError(t, p.db.Model(&database.TaskRun{}).Count(&count).Error)
	assert.EqualValues(t, 0, count)
}

func TestProcessTask_InvalidFieldsRejected(t *testing.T) {
	p := setupPipeline(t, &fakeRunner{})

	task := &fakeTask{queue: messaging.GenerateQueue, payload: []byte(`{"type": "chess", "num_samples": 0}`)}
	p.processor.ProcessTask(task)

	assert.True(t, task.rejected)
	assert.Empty(t, p.store.objects)
}

func TestProcessTask_UnknownQueueRejected(t *testing.T) {
	p := setupPipeline(t, &fakeRunner{})

	task := &fakeTask{queue: "other_queue", payload: []byte(`{}`)}
	p.processor.ProcessTask(task)

	assert.True(t, task.rejected)
}

func TestProcessTask_GeneratorFailureNacked(t *testing.T) {
	runner := &fakeRunner{err: errors.New("generator exited 1")}
	p := setupPipeline(t, runner)

	task := &fakeTask{queue: messaging.GenerateQueue, payload: []byte(`{"type": "chess", "num_samples": 1}`)}
	p.processor.ProcessTask(task)

	assert.True(t, task.nacked)
	assert.False(t, task.acked)

	run := p.taskRun(t)
	assert.Equal(t, database.TaskFailed, run.Status)
	assert.NotEmpty(t, run.Error)
}

func TestProcessTask_NoSamplesFails(t *testing.T) {
	// Runner succeeds but emits nothing.
	runner := &fakeRunner{}
	p := setupPipeline(t, runner)

	task := &fakeTask{queue: messaging.GenerateQueue, payload: []byte(`{"type": "chess", "num_samples": 1}`)}
	p.processor.ProcessTask(task)

	assert.True(t, task.nacked)
	run := p.taskRun(t)
	assert.Equal(t, database.TaskFailed, run.Status)
}
