// Package evaluation scores retrievers against ground-truth datasets.
//
// An Evaluator runs one query through a Retriever and scores the ranked ids
// with a fixed list of metrics. A Runner fans an Evaluator out over a whole
// dataset with bounded concurrency and returns results in dataset order.
package evaluation

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ricesearch/rice-eval/internal/dataset"
	pkgctx "github.com/ricesearch/rice-eval/internal/pkg/context"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// Retriever returns the ranked document ids for a query.
// Implementations must be safe for concurrent use.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]string, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, query string) ([]string, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string) ([]string, error) {
	return f(ctx, query)
}

// Evaluator scores single queries.
type Evaluator struct {
	retriever Retriever
	metrics   []Metric
	log       *logger.Logger
	telemetry *telemetry.Metrics
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sets the evaluator's logger.
func WithLogger(log *logger.Logger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// WithTelemetry records evaluation metrics to m.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(e *Evaluator) {
		e.telemetry = m
	}
}

// NewEvaluator creates an evaluator that scores retriever's output with
// metrics, in the given order.
func NewEvaluator(retriever Retriever, metrics []Metric, opts ...Option) (*Evaluator, error) {
	if retriever == nil {
		return nil, apperrors.ValidationError("retriever is required")
	}
	for i, m := range metrics {
		if m == nil {
			return nil, apperrors.ValidationError("metric is nil").
				WithDetail("index", strconv.Itoa(i))
		}
	}

	e := &Evaluator{
		retriever: retriever,
		metrics:   append([]Metric(nil), metrics...),
		log:       logger.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// NewEvaluatorFromNames resolves names against reg and creates an evaluator.
// A nil reg uses DefaultRegistry.
func NewEvaluatorFromNames(reg *Registry, names []string, retriever Retriever, opts ...Option) (*Evaluator, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}
	metrics, err := reg.Resolve(names)
	if err != nil {
		return nil, err
	}
	return NewEvaluator(retriever, metrics, opts...)
}

// MetricNames returns the configured metric names in evaluation order.
func (e *Evaluator) MetricNames() []string {
	names := make([]string, len(e.metrics))
	for i, m := range e.metrics {
		names[i] = m.Name()
	}
	return names
}

// Evaluate retrieves ids for query once and scores them with every metric.
// Any retrieval or metric failure fails the whole evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, query string, expected []string) (*EvalResult, error) {
	return e.evaluate(ctx, "", query, expected)
}

// Outcome is the eventual result of EvaluateAsync.
type Outcome struct {
	Result *EvalResult
	Err    error
}

// EvaluateAsync runs Evaluate in a new goroutine. The returned channel
// receives exactly one Outcome and is then closed.
func (e *Evaluator) EvaluateAsync(ctx context.Context, query string, expected []string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	go func() {
		defer close(ch)
		res, err := e.Evaluate(ctx, query, expected)
		ch <- Outcome{Result: res, Err: err}
	}()
	return ch
}

// EvaluateDataset evaluates every query of ds. See Runner.EvaluateDataset.
func (e *Evaluator) EvaluateDataset(ctx context.Context, ds *dataset.Dataset, opts ...RunOption) ([]*EvalResult, error) {
	return NewRunner(e).EvaluateDataset(ctx, ds, opts...)
}

func (e *Evaluator) evaluate(ctx context.Context, queryID, query string, expected []string) (*EvalResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, withQueryID(apperrors.ValidationError("query is empty"), queryID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := e.log
	if queryID != "" {
		log = log.WithQuery(queryID)
		ctx = pkgctx.WithQueryID(ctx, queryID)
	}

	e.telemetry.EvaluationStarted()
	defer e.telemetry.EvaluationFinished()
	start := time.Now()

	retrieved, err := e.retriever.Retrieve(ctx, query)
	if err != nil {
		e.telemetry.QueryEvaluated(telemetry.StatusError, time.Since(start))
		log.WithError(err).Warn("Retrieval failed", "query", query)
		return nil, withQueryID(apperrors.RetrievalFailure(query, err), queryID)
	}

	result := &EvalResult{
		QueryID:      queryID,
		Query:        query,
		ExpectedIDs:  cloneIDs(expected),
		RetrievedIDs: cloneIDs(retrieved),
		MetricDict:   make(map[string]MetricResult, len(e.metrics)),
	}

	for _, m := range e.metrics {
		name := m.Name()
		res, err := m.Compute(query, result.ExpectedIDs, result.RetrievedIDs)
		if err != nil {
			e.telemetry.MetricFailed(name)
			e.telemetry.QueryEvaluated(telemetry.StatusError, time.Since(start))
			log.WithMetric(name).WithError(err).Warn("Metric failed", "query", query)
			return nil, withQueryID(apperrors.MetricFailure(name, query, err), queryID)
		}
		res.Metadata = cloneMetadata(res.Metadata)
		result.MetricDict[name] = res
		e.telemetry.ScoreObserved(name, res.Score)
	}

	e.telemetry.QueryEvaluated(telemetry.StatusOK, time.Since(start))
	log.Debug("Query evaluated",
		"retrieved", len(result.RetrievedIDs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func withQueryID(err *apperrors.AppError, queryID string) *apperrors.AppError {
	if queryID != "" {
		err.WithDetail(apperrors.DetailQueryID, queryID)
	}
	return err
}

func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

func cloneMetadata(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
