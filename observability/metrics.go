package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// EngineMetrics wraps collectors tracking payout engine health.
type EngineMetrics struct {
	runLatency   *prometheus.HistogramVec
	errors       *prometheus.CounterVec
	queued       *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	pauseEngaged prometheus.Gauge
}

// Engine returns the lazily-initialised metrics registry for the payout engine.
func Engine() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			runLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "paymaster",
				Subsystem: "engine",
				Name:      "run_duration_seconds",
				Help:      "Latency distribution for payout computation runs segmented by run kind.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paymaster",
				Subsystem: "engine",
				Name:      "errors_total",
				Help:      "Count of pipeline failures segmented by stage and reason.",
			}, []string{"stage", "reason"}),
			queued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paymaster",
				Subsystem: "engine",
				Name:      "transfers_queued_total",
				Help:      "Count of transfer calls newly queued in the multisig relay.",
			}, []string{"kind"}),
			skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "paymaster",
				Subsystem: "engine",
				Name:      "transfers_skipped_total",
				Help:      "Count of transfer calls skipped because an identical call was already pending.",
			}, []string{"kind"}),
			pauseEngaged: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "paymaster",
				Subsystem: "engine",
				Name:      "pause_engaged",
				Help:      "Indicates whether the submission pause guard is active (1) or not (0).",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.runLatency,
			engineRegistry.errors,
			engineRegistry.queued,
			engineRegistry.skipped,
			engineRegistry.pauseEngaged,
		)
	})
	return engineRegistry
}

// ObserveRun records the duration of a completed computation run.
func (m *EngineMetrics) ObserveRun(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.runLatency.WithLabelValues(labelKind(kind)).Observe(d.Seconds())
}

// RecordError increments the error counter for the supplied pipeline stage.
func (m *EngineMetrics) RecordError(stage, reason string) {
	if m == nil {
		return
	}
	if stage = strings.TrimSpace(stage); stage == "" {
		stage = "unknown"
	}
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "unspecified"
	}
	m.errors.WithLabelValues(stage, reason).Inc()
}

// RecordSubmission accounts for the outcome of a relay submission.
func (m *EngineMetrics) RecordSubmission(kind string, queued, skipped int) {
	if m == nil {
		return
	}
	label := labelKind(kind)
	if queued > 0 {
		m.queued.WithLabelValues(label).Add(float64(queued))
	}
	if skipped > 0 {
		m.skipped.WithLabelValues(label).Add(float64(skipped))
	}
}

// SetPause toggles the pause_engaged gauge.
func (m *EngineMetrics) SetPause(engaged bool) {
	if m == nil {
		return
	}
	if engaged {
		m.pauseEngaged.Set(1)
		return
	}
	m.pauseEngaged.Set(0)
}

func labelKind(kind string) string {
	trimmed := strings.TrimSpace(kind)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}
