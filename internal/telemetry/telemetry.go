// Package telemetry exposes Prometheus collectors for evaluation runs and
// dataset generation.
//
// All recording methods are safe on a nil *Metrics, so components can take an
// optional collector set without guarding every call.
//
// Usage:
//
//	reg := prometheus.NewRegistry()
//	m := telemetry.New(reg)
//	m.QueryEvaluated("ok", time.Since(start))
//	http.Handle("/metrics", telemetry.Handler(reg))
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rice_eval"

// Status label values.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Metrics holds every collector the application records to.
type Metrics struct {
	// QueriesEvaluated counts single-query evaluations.
	// Labels: status (ok|error)
	QueriesEvaluated *prometheus.CounterVec

	// EvaluationDuration measures a full single-query evaluation in seconds.
	EvaluationDuration prometheus.Histogram

	// RetrievalDuration measures retriever calls in seconds.
	// Labels: retriever, status
	RetrievalDuration *prometheus.HistogramVec

	// InFlight is the number of evaluations currently running.
	InFlight prometheus.Gauge

	// MetricScores records every metric score.
	// Labels: metric
	MetricScores *prometheus.HistogramVec

	// MetricFailures counts metric computations that returned an error.
	// Labels: metric
	MetricFailures *prometheus.CounterVec

	// RunsCompleted counts dataset evaluation runs.
	// Labels: status (ok|error)
	RunsCompleted *prometheus.CounterVec

	// QuestionsGenerated counts synthetic questions produced.
	QuestionsGenerated prometheus.Counter

	// LLMRequestDuration measures language model calls in seconds.
	// Labels: backend, status
	LLMRequestDuration *prometheus.HistogramVec

	// EventsPublished counts bus publishes.
	// Labels: topic, status
	EventsPublished *prometheus.CounterVec

	// EventsHandled counts subscriber handler invocations.
	// Labels: topic, status
	EventsHandled *prometheus.CounterVec
}

// New creates all collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		QueriesEvaluated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "queries_evaluated_total",
				Help:      "Total number of evaluated queries by status",
			},
			[]string{"status"},
		),

		EvaluationDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of single-query evaluations in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
		),

		RetrievalDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "retrieval_duration_seconds",
				Help:      "Duration of retriever calls in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"retriever", "status"},
		),

		InFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "evaluations_in_flight",
				Help:      "Number of evaluations currently running",
			},
		),

		MetricScores: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "metric_score",
				Help:      "Distribution of metric scores",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
			[]string{"metric"},
		),

		MetricFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metric_failures_total",
				Help:      "Total number of failed metric computations",
			},
			[]string{"metric"},
		),

		RunsCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of dataset evaluation runs by status",
			},
			[]string{"status"},
		),

		QuestionsGenerated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "questions_generated_total",
				Help:      "Total number of synthetic questions generated",
			},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Duration of language model requests in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend", "status"},
		),

		EventsPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of bus events published by topic and status",
			},
			[]string{"topic", "status"},
		),

		EventsHandled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_handled_total",
				Help:      "Total number of bus events handled by subscribers by topic and status",
			},
			[]string{"topic", "status"},
		),
	}
}

// Handler serves the collectors gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Status maps an error to a status label.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}

// QueryEvaluated records one finished evaluation.
func (m *Metrics) QueryEvaluated(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.QueriesEvaluated.WithLabelValues(status).Inc()
	m.EvaluationDuration.Observe(d.Seconds())
}

// RetrievalObserved records one retriever call.
func (m *Metrics) RetrievalObserved(retriever, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RetrievalDuration.WithLabelValues(retriever, status).Observe(d.Seconds())
}

// EvaluationStarted increments the in-flight gauge.
func (m *Metrics) EvaluationStarted() {
	if m == nil {
		return
	}
	m.InFlight.Inc()
}

// EvaluationFinished decrements the in-flight gauge.
func (m *Metrics) EvaluationFinished() {
	if m == nil {
		return
	}
	m.InFlight.Dec()
}

// ScoreObserved records a metric score.
func (m *Metrics) ScoreObserved(metric string, score float64) {
	if m == nil {
		return
	}
	m.MetricScores.WithLabelValues(metric).Observe(score)
}

// MetricFailed records a failed metric computation.
func (m *Metrics) MetricFailed(metric string) {
	if m == nil {
		return
	}
	m.MetricFailures.WithLabelValues(metric).Inc()
}

// RunCompleted records a finished dataset run.
func (m *Metrics) RunCompleted(status string) {
	if m == nil {
		return
	}
	m.RunsCompleted.WithLabelValues(status).Inc()
}

// QuestionsAdded records generated questions.
func (m *Metrics) QuestionsAdded(n int) {
	if m == nil {
		return
	}
	m.QuestionsGenerated.Add(float64(n))
}

// LLMRequestObserved records one language model call.
func (m *Metrics) LLMRequestObserved(backend, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMRequestDuration.WithLabelValues(backend, status).Observe(d.Seconds())
}

// RecordBusPublish records one bus publish.
func (m *Metrics) RecordBusPublish(topic string, _ time.Duration, err error) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic, Status(err)).Inc()
}

// RecordBusHandled records one subscriber handler invocation.
func (m *Metrics) RecordBusHandled(topic string, _ time.Duration, err error) {
	if m == nil {
		return
	}
	m.EventsHandled.WithLabelValues(topic, Status(err)).Inc()
}
