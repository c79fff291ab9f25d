package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/dataset"
	pkgctx "github.com/ricesearch/rice-eval/internal/pkg/context"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// DefaultWorkers is the concurrency limit used when none is given.
const DefaultWorkers = 2

// eventSource is the Source of every event the runner publishes.
const eventSource = "rice-eval"

// FailurePolicy decides what a dataset run does when a query fails.
type FailurePolicy int

const (
	// FailFast aborts the run on the first failure.
	FailFast FailurePolicy = iota

	// ContinueOnError evaluates every query and reports all failures.
	ContinueOnError
)

// String returns the configuration name of the policy.
func (p FailurePolicy) String() string {
	switch p {
	case ContinueOnError:
		return "continue"
	default:
		return "fail_fast"
	}
}

// ParseFailurePolicy parses "fail_fast" or "continue".
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fail_fast", "failfast":
		return FailFast, nil
	case "continue", "continue_on_error":
		return ContinueOnError, nil
	default:
		return FailFast, apperrors.ValidationError(fmt.Sprintf("unknown failure policy %q", s))
	}
}

type runConfig struct {
	workers   int
	policy    FailurePolicy
	progress  func(done, total int)
	publisher bus.Bus
	runID     string
	dataset   string
}

// RunOption configures a dataset run.
type RunOption func(*runConfig)

// WithWorkers sets the maximum number of concurrent evaluations.
func WithWorkers(n int) RunOption {
	return func(c *runConfig) {
		c.workers = n
	}
}

// WithFailurePolicy sets how the run handles failing queries.
func WithFailurePolicy(p FailurePolicy) RunOption {
	return func(c *runConfig) {
		c.policy = p
	}
}

// WithProgress is called after every successfully evaluated query with the
// number of queries done so far. It may be called from several goroutines.
func WithProgress(fn func(done, total int)) RunOption {
	return func(c *runConfig) {
		c.progress = fn
	}
}

// WithRunPublisher publishes run progress events to b.
func WithRunPublisher(b bus.Bus) RunOption {
	return func(c *runConfig) {
		c.publisher = b
	}
}

// WithRunID sets the id used for events and the Run record.
func WithRunID(id string) RunOption {
	return func(c *runConfig) {
		c.runID = id
	}
}

// WithDatasetName labels the run with the dataset it evaluates.
func WithDatasetName(name string) RunOption {
	return func(c *runConfig) {
		c.dataset = name
	}
}

// Runner evaluates whole datasets with an Evaluator.
type Runner struct {
	evaluator *Evaluator
}

// NewRunner creates a runner for e.
func NewRunner(e *Evaluator) *Runner {
	return &Runner{evaluator: e}
}

func (r *Runner) config(opts []RunOption) (*runConfig, error) {
	cfg := &runConfig{
		workers: DefaultWorkers,
		policy:  FailFast,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.workers < 1 {
		return nil, apperrors.ValidationError(fmt.Sprintf("workers must be at least 1, got %d", cfg.workers))
	}
	if cfg.runID == "" {
		cfg.runID = uuid.NewString()
	}
	return cfg, nil
}

// EvaluateDataset evaluates every query of ds with at most the configured
// number of evaluations in flight. Results are in dataset order.
//
// Under FailFast the first failure cancels the remaining work and the run
// returns the failure of the lowest-index query that genuinely failed.
// Under ContinueOnError failed queries leave nil slots and the returned
// error aggregates every failure. Cancelling ctx aborts the run with the
// context's error. A dataset failing Validate is rejected before any query
// runs.
func (r *Runner) EvaluateDataset(ctx context.Context, ds *dataset.Dataset, opts ...RunOption) ([]*EvalResult, error) {
	cfg, err := r.config(opts)
	if err != nil {
		return nil, err
	}
	results, _, err := r.evaluateDataset(ctx, ds, cfg)
	return results, err
}

// Run evaluates ds and records the outcome as a Run. Under ContinueOnError a
// run with failed queries is still returned, listing them in Failures.
func (r *Runner) Run(ctx context.Context, ds *dataset.Dataset, opts ...RunOption) (*Run, error) {
	cfg, err := r.config(opts)
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:        cfg.runID,
		Dataset:   cfg.dataset,
		Metrics:   r.evaluator.MetricNames(),
		Workers:   cfg.workers,
		StartedAt: time.Now().UTC(),
	}

	results, failures, err := r.evaluateDataset(ctx, ds, cfg)
	run.FinishedAt = time.Now().UTC()
	if err != nil && (cfg.policy == FailFast || ctx.Err() != nil || len(failures) == 0) {
		return nil, err
	}

	for _, res := range results {
		if res != nil {
			run.Results = append(run.Results, res)
		}
	}
	for _, f := range failures {
		run.Failures = append(run.Failures, f.Error())
	}
	run.Summary = Summarize(run.Results)
	return run, nil
}

// evaluateDataset returns the results and, under ContinueOnError, the
// per-query failures in dataset order.
func (r *Runner) evaluateDataset(ctx context.Context, ds *dataset.Dataset, cfg *runConfig) ([]*EvalResult, []error, error) {
	if ds == nil {
		return nil, nil, apperrors.ValidationError("dataset is required")
	}
	if err := ds.Validate(); err != nil {
		return nil, nil, err
	}

	entries := ds.Entries()
	total := len(entries)
	log := r.evaluator.log.WithRun(cfg.runID)
	ctx = pkgctx.WithRunID(ctx, cfg.runID)
	start := time.Now()

	if total == 0 {
		return []*EvalResult{}, nil, nil
	}

	log.Info("Evaluation run started",
		"queries", total,
		"workers", cfg.workers,
		"policy", cfg.policy.String(),
	)
	r.publish(ctx, log, cfg, bus.TopicRunStarted, bus.RunStarted{
		RunID:   cfg.runID,
		Dataset: cfg.dataset,
		Queries: total,
		Metrics: r.evaluator.MetricNames(),
		Workers: cfg.workers,
	})

	results := make([]*EvalResult, total)
	errs := make([]error, total)
	genuine := make([]bool, total)

	var (
		mu      sync.Mutex
		aborted bool
		done    atomic.Int64
	)

	sem := semaphore.NewWeighted(int64(cfg.workers))
	g, gctx := errgroup.WithContext(ctx)

	for i, entry := range entries {
		// Admission stops once the run is aborted or the caller cancels.
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		mu.Lock()
		stop := aborted
		mu.Unlock()
		if stop {
			sem.Release(1)
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			res, err := r.evaluator.evaluate(gctx, entry.ID, entry.Query, entry.Expected)
			if err != nil {
				errs[i] = err

				mu.Lock()
				// The first failure is always real. Later cancellation errors
				// are echoes of the abort it caused.
				if !aborted || !isCancellation(err) {
					genuine[i] = true
				}
				if cfg.policy == FailFast {
					aborted = true
				}
				mu.Unlock()

				r.publish(gctx, log, cfg, bus.TopicQueryCompleted, bus.QueryCompleted{
					RunID:   cfg.runID,
					QueryID: entry.ID,
					Index:   i,
					Error:   err.Error(),
				})
				if cfg.policy == FailFast {
					return err
				}
				return nil
			}

			results[i] = res
			n := int(done.Add(1))
			if cfg.progress != nil {
				cfg.progress(n, total)
			}
			r.publish(gctx, log, cfg, bus.TopicQueryCompleted, bus.QueryCompleted{
				RunID:   cfg.runID,
				QueryID: entry.ID,
				Index:   i,
				Scores:  res.MetricValues(),
			})
			return nil
		})
	}

	waitErr := g.Wait()

	var (
		runErr   error
		failures []error
	)
	switch {
	case ctx.Err() != nil:
		runErr = ctx.Err()
	case cfg.policy == FailFast && waitErr != nil:
		runErr = waitErr
		for i := range errs {
			if errs[i] != nil && genuine[i] {
				runErr = fmt.Errorf("query %s: %w", entries[i].ID, errs[i])
				break
			}
		}
	case cfg.policy == ContinueOnError:
		var merr *multierror.Error
		for i, err := range errs {
			if err != nil {
				failure := fmt.Errorf("query %s: %w", entries[i].ID, err)
				failures = append(failures, failure)
				merr = multierror.Append(merr, failure)
			}
		}
		runErr = merr.ErrorOrNil()
	}

	r.finish(ctx, log, cfg, results, len(failures), start, runErr)

	if runErr != nil && (cfg.policy == FailFast || ctx.Err() != nil) {
		return nil, nil, runErr
	}
	return results, failures, runErr
}

func (r *Runner) finish(ctx context.Context, log *logger.Logger, cfg *runConfig, results []*EvalResult, failed int, start time.Time, runErr error) {
	completed := make([]*EvalResult, 0, len(results))
	for _, res := range results {
		if res != nil {
			completed = append(completed, res)
		}
	}
	summary := Summarize(completed)
	duration := time.Since(start)

	r.evaluator.telemetry.RunCompleted(telemetry.Status(runErr))

	payload := bus.RunCompleted{
		RunID:      cfg.runID,
		Queries:    len(results),
		Failed:     failed,
		Mean:       summary.Mean,
		DurationMs: duration.Milliseconds(),
	}
	if runErr != nil {
		payload.Error = runErr.Error()
		log.Warn("Evaluation run failed",
			"completed", len(completed),
			"duration_ms", duration.Milliseconds(),
			"error", runErr,
		)
	} else {
		log.Info("Evaluation run finished",
			"completed", len(completed),
			"duration_ms", duration.Milliseconds(),
		)
	}
	// The run's own context may be cancelled; completion is still reported.
	r.publish(context.WithoutCancel(ctx), log, cfg, bus.TopicRunCompleted, payload)
}

func (r *Runner) publish(ctx context.Context, log *logger.Logger, cfg *runConfig, topic string, payload any) {
	if cfg.publisher == nil {
		return
	}
	event := bus.NewEvent(topic, eventSource, cfg.runID, payload)
	if err := cfg.publisher.Publish(ctx, topic, event); err != nil {
		log.Warn("Failed to publish event", "topic", topic, "error", err)
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
