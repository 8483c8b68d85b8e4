// Package metrics exposes Prometheus collectors for the artifact store, the
// models and the federated aggregator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "medaiml"

// SinceInSeconds gets the time since specified start in seconds.
func SinceInSeconds(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// Metrics owns a private registry. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	metricArtifactBytesTotal     *prometheus.CounterVec
	metricArtifactOperations     *prometheus.CounterVec
	metricMergesTotal            *prometheus.CounterVec
	metricAggregateSamples       prometheus.Gauge
	metricAggregateVersion       prometheus.Gauge
	metricGeneratedTokensTotal   prometheus.Counter
	metricGenerationSeconds      *prometheus.HistogramVec
	metricPredictionsTotal       *prometheus.CounterVec
	metricOperationErrorsTotal   *prometheus.CounterVec
	metricTextModelLoadedSeconds prometheus.Gauge
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		metricArtifactBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_bytes_total",
				Help:      "Bytes written into artifacts, by operation",
			},
			[]string{"operation"},
		),
		metricArtifactOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_operations_total",
				Help:      "Artifact store operations",
			},
			[]string{"operation"},
		),
		metricMergesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "federated_merges_total",
				Help:      "Federated contributions by result",
			},
			[]string{"result"},
		),
		metricAggregateSamples: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "federated_aggregate_samples",
				Help:      "Cumulative sample count behind the aggregate",
			},
		),
		metricAggregateVersion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "federated_aggregate_version",
				Help:      "Number of accepted contributions",
			},
		),
		metricGeneratedTokensTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generated_tokens_total",
				Help:      "Tokens produced by text generation",
			},
		),
		metricGenerationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_duration_seconds",
				Help:      "Wall time of text generation calls, by stop reason",
				Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
			},
			[]string{"reason"},
		),
		metricPredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "predictions_total",
				Help:      "Classifier predictions by label",
			},
			[]string{"label"},
		),
		metricOperationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operation_errors_total",
				Help:      "Failed operations",
			},
			[]string{"operation"},
		),
		metricTextModelLoadedSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "text_model_load_seconds",
				Help:      "Time spent building the text model",
			},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.metricArtifactBytesTotal,
		m.metricArtifactOperations,
		m.metricMergesTotal,
		m.metricAggregateSamples,
		m.metricAggregateVersion,
		m.metricGeneratedTokensTotal,
		m.metricGenerationSeconds,
		m.metricPredictionsTotal,
		m.metricOperationErrorsTotal,
		m.metricTextModelLoadedSeconds,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MetricArtifactWrite(operation string, n int) {
	if m == nil {
		return
	}
	m.metricArtifactOperations.WithLabelValues(operation).Inc()
	m.metricArtifactBytesTotal.WithLabelValues(operation).Add(float64(n))
}

func (m *Metrics) MetricArtifactOperationInc(operation string) {
	if m == nil {
		return
	}
	m.metricArtifactOperations.WithLabelValues(operation).Inc()
}

func (m *Metrics) MetricMergeAccepted(samples, version uint64) {
	if m == nil {
		return
	}
	m.metricMergesTotal.WithLabelValues("accepted").Inc()
	m.metricAggregateSamples.Set(float64(samples))
	m.metricAggregateVersion.Set(float64(version))
}

func (m *Metrics) MetricMergeRejected() {
	if m == nil {
		return
	}
	m.metricMergesTotal.WithLabelValues("rejected").Inc()
}

func (m *Metrics) MetricGenerationObserve(reason string, tokens int, start time.Time) {
	if m == nil {
		return
	}
	m.metricGeneratedTokensTotal.Add(float64(tokens))
	m.metricGenerationSeconds.WithLabelValues(reason).Observe(SinceInSeconds(start))
}

func (m *Metrics) MetricPredictionInc(label string) {
	if m == nil {
		return
	}
	m.metricPredictionsTotal.WithLabelValues(label).Inc()
}

func (m *Metrics) MetricOperationErrorsInc(operation string) {
	if m == nil {
		return
	}
	m.metricOperationErrorsTotal.WithLabelValues(operation).Inc()
}

func (m *Metrics) MetricTextModelLoadSet(start time.Time) {
	if m == nil {
		return
	}
	m.metricTextModelLoadedSeconds.Set(SinceInSeconds(start))
}
