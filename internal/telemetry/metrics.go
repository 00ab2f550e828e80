package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the fire-and-forget telemetry sink for the pipeline. All
// series are labeled by generator type.
type Metrics struct {
	taskDuration     *prometheus.HistogramVec
	taskSuccess      *prometheus.CounterVec
	samplesUploaded  *prometheus.CounterVec
	dedupDuplicates  *prometheus.CounterVec
	dedupRetryRounds *prometheus.CounterVec
	dedupSkipped     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "datafactory",
			Name:      "task_duration_seconds",
			Help:      "Wall time spent processing one generation task.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"generator"}),
		taskSuccess: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datafactory",
			Name:      "task_success_total",
			Help:      "Tasks processed to completion.",
		}, []string{"generator"}),
		samplesUploaded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datafactory",
			Name:      "samples_uploaded_total",
			Help:      "Sample directories transferred to bulk storage.",
		}, []string{"generator"}),
		dedupDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datafactory",
			Name:      "dedup_duplicates_found_total",
			Help:      "Samples whose param_hash was already registered.",
		}, []string{"generator"}),
		dedupRetryRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datafactory",
			Name:      "dedup_retry_rounds_total",
			Help:      "Batch regeneration rounds issued.",
		}, []string{"generator"}),
		dedupSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "datafactory",
			Name:      "dedup_skipped_total",
			Help:      "Samples dropped after exhausting regeneration.",
		}, []string{"generator"}),
	}
}

func (m *Metrics) ObserveTaskDuration(generator string, d time.Duration) {
	m.taskDuration.WithLabelValues(generator).Observe(d.Seconds())
}

func (m *Metrics) TaskSucceeded(generator string) {
	m.taskSuccess.WithLabelValues(generator).Inc()
}

func (m *Metrics) SamplesUploaded(generator string, n int) {
	m.samplesUploaded.WithLabelValues(generator).Add(float64(n))
}

func (m *Metrics) DuplicatesFound(generator string, n int) {
	m.dedupDuplicates.WithLabelValues(generator).Add(float64(n))
}

func (m *Metrics) RetryRound(generator string) {
	m.dedupRetryRounds.WithLabelValues(generator).Inc()
}

func (m *Metrics) DedupSkipped(generator string, n int) {
	m.dedupSkipped.WithLabelValues(generator).Add(float64(n))
}
