package evaluation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/dataset"
	pkgctx "github.com/ricesearch/rice-eval/internal/pkg/context"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func capitalsDataset() *dataset.Dataset {
	ds := dataset.New()
	ds.Add("q1", "capital of France?", []string{"doc_paris"})
	ds.Add("q2", "capital of Japan?", []string{"doc_tokyo"})
	return ds
}

func numberedDataset(n int) *dataset.Dataset {
	ds := dataset.New()
	for i := 1; i <= n; i++ {
		ds.Add(fmt.Sprintf("q%d", i), fmt.Sprintf("query %d", i), []string{fmt.Sprintf("doc%d", i)})
	}
	return ds
}

// echoRetriever returns the doc matching the query number, after delay.
func echoRetriever(delay func(query string) time.Duration) Retriever {
	return RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		var n int
		fmt.Sscanf(query, "query %d", &n)
		if delay != nil {
			select {
			case <-time.After(delay(query)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return []string{fmt.Sprintf("doc%d", n)}, nil
	})
}

func TestRunner_CapitalsExample(t *testing.T) {
	retriever := &staticRetriever{results: map[string][]string{
		"capital of France?": {"doc_paris", "doc_lyon"},
		"capital of Japan?":  {"doc_tokyo"},
	}}
	e := mustEvaluator(t, retriever, MetricMRR, MetricJaccard)

	results, err := e.EvaluateDataset(context.Background(), capitalsDataset())
	if err != nil {
		t.Fatalf("EvaluateDataset() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	if results[0].Query != "capital of France?" || results[1].Query != "capital of Japan?" {
		t.Errorf("results out of order: %q, %q", results[0].Query, results[1].Query)
	}
	if results[0].QueryID != "q1" || results[1].QueryID != "q2" {
		t.Errorf("query ids = %q, %q", results[0].QueryID, results[1].QueryID)
	}

	if got := results[0].MetricDict[MetricJaccard].Score; got != 0.5 {
		t.Errorf("q1 jaccard = %v, want 0.5", got)
	}
	if got := results[1].MetricDict[MetricJaccard].Score; got != 1 {
		t.Errorf("q2 jaccard = %v, want 1", got)
	}
	for i, r := range results {
		if r.MetricDict[MetricMRR].Score != 1 {
			t.Errorf("results[%d] mrr = %v, want 1", i, r.MetricDict[MetricMRR].Score)
		}
	}
}

func TestRunner_EmptyDataset(t *testing.T) {
	retriever := &staticRetriever{}
	e := mustEvaluator(t, retriever, MetricMRR)

	results, err := e.EvaluateDataset(context.Background(), dataset.New())
	if err != nil {
		t.Fatalf("EvaluateDataset() error = %v", err)
	}
	if results == nil || len(results) != 0 {
		t.Errorf("results = %v, want empty slice", results)
	}
	if calls := retriever.calls.Load(); calls != 0 {
		t.Errorf("retriever calls = %d, want 0", calls)
	}

	if _, err := e.EvaluateDataset(context.Background(), nil); !apperrors.IsValidation(err) {
		t.Errorf("EvaluateDataset(nil) error = %v, want validation error", err)
	}
}

func TestRunner_InvalidWorkers(t *testing.T) {
	e := mustEvaluator(t, &staticRetriever{}, MetricMRR)

	for _, n := range []int{0, -3} {
		_, err := e.EvaluateDataset(context.Background(), capitalsDataset(), WithWorkers(n))
		if !apperrors.IsValidation(err) {
			t.Errorf("WithWorkers(%d) error = %v, want validation error", n, err)
		}
	}
}

func TestRunner_InvalidDataset(t *testing.T) {
	var calls atomic.Int32
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		calls.Add(1)
		return nil, nil
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	orphan := capitalsDataset()
	orphan.RelevantDocs["q9"] = []string{"doc_rome"}

	missing := capitalsDataset()
	delete(missing.RelevantDocs, "q2")

	tests := []struct {
		name string
		ds   *dataset.Dataset
	}{
		{"nil", nil},
		{"orphan relevant_docs", orphan},
		{"query without relevant_docs", missing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := e.EvaluateDataset(context.Background(), tt.ds)
			if !apperrors.IsValidation(err) {
				t.Errorf("error = %v, want validation error", err)
			}
			if results != nil {
				t.Errorf("results = %v, want nil", results)
			}
		})
	}
	if got := calls.Load(); got != 0 {
		t.Errorf("retriever calls = %d, want 0", got)
	}
}

func TestRunner_ConcurrencyBound(t *testing.T) {
	for _, limit := range []int{1, 2, 4} {
		t.Run(fmt.Sprintf("workers=%d", limit), func(t *testing.T) {
			var inFlight, peak atomic.Int64
			retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
				n := inFlight.Add(1)
				defer inFlight.Add(-1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				return nil, nil
			})
			e := mustEvaluator(t, retriever, MetricHitRate)

			results, err := e.EvaluateDataset(context.Background(), numberedDataset(12), WithWorkers(limit))
			if err != nil {
				t.Fatalf("EvaluateDataset() error = %v", err)
			}
			if len(results) != 12 {
				t.Errorf("len(results) = %d, want 12", len(results))
			}
			if got := peak.Load(); got > int64(limit) {
				t.Errorf("peak concurrency = %d, want <= %d", got, limit)
			}
			if got := peak.Load(); got < 1 {
				t.Errorf("peak concurrency = %d, want >= 1", got)
			}
		})
	}
}

func TestRunner_OrderIndependentOfCompletion(t *testing.T) {
	// Earlier queries finish last.
	delay := func(query string) time.Duration {
		var n int
		fmt.Sscanf(query, "query %d", &n)
		return time.Duration(10-n) * 3 * time.Millisecond
	}
	e := mustEvaluator(t, echoRetriever(delay), MetricHitRate)

	results, err := e.EvaluateDataset(context.Background(), numberedDataset(8), WithWorkers(8))
	if err != nil {
		t.Fatalf("EvaluateDataset() error = %v", err)
	}
	for i, r := range results {
		want := fmt.Sprintf("query %d", i+1)
		if r.Query != want {
			t.Errorf("results[%d].Query = %q, want %q", i, r.Query, want)
		}
		if r.MetricDict[MetricHitRate].Score != 1 {
			t.Errorf("results[%d] hit_rate = %v, want 1", i, r.MetricDict[MetricHitRate].Score)
		}
	}
}

func TestRunner_FailFastIdentifiesFailingQuery(t *testing.T) {
	boom := errors.New("retriever down")
	var calls atomic.Int64
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		calls.Add(1)
		if query == "query 3" {
			return nil, boom
		}
		select {
		case <-time.After(20 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return []string{"doc"}, nil
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	results, err := e.EvaluateDataset(context.Background(), numberedDataset(5), WithWorkers(5))
	if results != nil {
		t.Errorf("results = %v, want nil on failure", results)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want wrapped retriever error", err)
	}
	if !apperrors.IsRetrievalFailure(err) {
		t.Errorf("error = %v, want retrieval failure", err)
	}
	if !strings.Contains(err.Error(), "q3") {
		t.Errorf("error %q does not name q3", err.Error())
	}
	appErr, _ := apperrors.As(err)
	if appErr.Detail(apperrors.DetailQueryID) != "q3" {
		t.Errorf("query_id detail = %q, want q3", appErr.Detail(apperrors.DetailQueryID))
	}
	if appErr.Detail(apperrors.DetailQuery) != "query 3" {
		t.Errorf("query detail = %q, want query 3", appErr.Detail(apperrors.DetailQuery))
	}
}

func TestRunner_FailFastStopsAdmission(t *testing.T) {
	boom := errors.New("fail")
	var calls atomic.Int64
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		calls.Add(1)
		if query == "query 1" {
			return nil, boom
		}
		return nil, nil
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	_, err := e.EvaluateDataset(context.Background(), numberedDataset(50), WithWorkers(1))
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	// With one worker the slot is only freed after the run is aborted.
	if got := calls.Load(); got != 1 {
		t.Errorf("retriever calls = %d, want admission to stop after the failure", got)
	}
}

func TestRunner_FailFastSequentialFailures(t *testing.T) {
	// Both q2 and q4 fail on their own; the lower index wins even when q4
	// fails first.
	q2Entered := make(chan struct{})
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		switch query {
		case "query 4":
			select {
			case <-q2Entered:
			case <-time.After(5 * time.Second):
			}
			return nil, errors.New("fourth")
		case "query 2":
			close(q2Entered)
			time.Sleep(10 * time.Millisecond)
			return nil, errors.New("second")
		}
		return nil, nil
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	_, err := e.EvaluateDataset(context.Background(), numberedDataset(4), WithWorkers(4))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "query q2") {
		t.Errorf("error = %v, want the lowest-index genuine failure q2", err)
	}
}

func TestRunner_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{}, 10)
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	go func() {
		<-started
		cancel()
	}()

	results, err := e.EvaluateDataset(ctx, numberedDataset(10), WithWorkers(2))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
}

func TestRunner_ContinueOnError(t *testing.T) {
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		if query == "query 2" || query == "query 4" {
			return nil, fmt.Errorf("no results for %s", query)
		}
		return []string{"doc"}, nil
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	results, err := e.EvaluateDataset(context.Background(), numberedDataset(5),
		WithWorkers(3), WithFailurePolicy(ContinueOnError))
	if len(results) != 5 {
		t.Fatalf("len(results) = %d, want 5", len(results))
	}
	for i, r := range results {
		failed := i == 1 || i == 3
		if failed != (r == nil) {
			t.Errorf("results[%d] = %v, want nil=%v", i, r, failed)
		}
	}

	var merr *multierror.Error
	if !errors.As(err, &merr) {
		t.Fatalf("error = %T %v, want *multierror.Error", err, err)
	}
	if len(merr.Errors) != 2 {
		t.Fatalf("len(errors) = %d, want 2", len(merr.Errors))
	}
	if !strings.Contains(merr.Errors[0].Error(), "query q2") || !strings.Contains(merr.Errors[1].Error(), "query q4") {
		t.Errorf("errors = %v, want q2 then q4", merr.Errors)
	}
}

func TestRunner_Progress(t *testing.T) {
	e := mustEvaluator(t, echoRetriever(nil), MetricHitRate)

	var mu sync.Mutex
	var seen []int
	total := 0
	_, err := e.EvaluateDataset(context.Background(), numberedDataset(6),
		WithWorkers(3),
		WithProgress(func(done, n int) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, done)
			total = n
		}))
	if err != nil {
		t.Fatalf("EvaluateDataset() error = %v", err)
	}

	if total != 6 || len(seen) != 6 {
		t.Errorf("progress calls = %v (total %d), want 6 calls", seen, total)
	}
	last := 0
	for _, d := range seen {
		if d > last {
			last = d
		}
	}
	if last != 6 {
		t.Errorf("final progress = %d, want 6", last)
	}
}

func TestRunner_Run(t *testing.T) {
	retriever := &staticRetriever{results: map[string][]string{
		"capital of France?": {"doc_paris", "doc_lyon"},
		"capital of Japan?":  {"doc_tokyo"},
	}}
	e := mustEvaluator(t, retriever, MetricPrecision, MetricMRR)

	run, err := NewRunner(e).Run(context.Background(), capitalsDataset(),
		WithRunID("run-1"), WithDatasetName("capitals"), WithWorkers(2))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if run.ID != "run-1" || run.Dataset != "capitals" || run.Workers != 2 {
		t.Errorf("run = %+v", run)
	}
	if !reflect.DeepEqual(run.Metrics, []string{MetricPrecision, MetricMRR}) {
		t.Errorf("Metrics = %v", run.Metrics)
	}
	if run.FinishedAt.Before(run.StartedAt) {
		t.Error("FinishedAt before StartedAt")
	}
	if run.Summary.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", run.Summary.QueryCount)
	}
	if got := run.Summary.Mean[MetricPrecision]; got != 0.75 {
		t.Errorf("mean precision = %v, want 0.75", got)
	}
}

func TestRunner_RunContinueOnError(t *testing.T) {
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		if query == "query 2" {
			return nil, errors.New("gone")
		}
		return []string{"doc1"}, nil
	})
	e := mustEvaluator(t, retriever, MetricHitRate)

	run, err := NewRunner(e).Run(context.Background(), numberedDataset(3), WithFailurePolicy(ContinueOnError))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(run.Results) != 2 {
		t.Errorf("len(Results) = %d, want 2", len(run.Results))
	}
	if len(run.Failures) != 1 || !strings.Contains(run.Failures[0], "q2") {
		t.Errorf("Failures = %v, want q2", run.Failures)
	}
	if run.Summary.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", run.Summary.QueryCount)
	}

	if _, err := NewRunner(e).Run(context.Background(), numberedDataset(3)); err == nil {
		t.Error("Run() under FailFast should return the failure")
	}
}

func TestRunner_PublishesEvents(t *testing.T) {
	b := bus.NewMemoryBus(logger.Discard())
	defer b.Close()

	var mu sync.Mutex
	topics := map[string]int{}
	var completed bus.Event
	record := func(ctx context.Context, event bus.Event) error {
		mu.Lock()
		defer mu.Unlock()
		topics[event.Type]++
		if event.Type == bus.TopicRunCompleted {
			completed = event
		}
		return nil
	}
	for _, topic := range []string{bus.TopicRunStarted, bus.TopicQueryCompleted, bus.TopicRunCompleted} {
		if err := b.Subscribe(context.Background(), topic, record); err != nil {
			t.Fatalf("Subscribe() error = %v", err)
		}
	}

	e := mustEvaluator(t, echoRetriever(nil), MetricHitRate)
	if _, err := e.EvaluateDataset(context.Background(), numberedDataset(3),
		WithRunPublisher(b), WithRunID("run-events")); err != nil {
		t.Fatalf("EvaluateDataset() error = %v", err)
	}
	// Close drains in-flight handlers.
	if err := b.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if topics[bus.TopicRunStarted] != 1 || topics[bus.TopicQueryCompleted] != 3 || topics[bus.TopicRunCompleted] != 1 {
		t.Errorf("events = %v, want 1 started, 3 query, 1 completed", topics)
	}
	if completed.CorrelationID != "run-events" {
		t.Errorf("CorrelationID = %q, want run-events", completed.CorrelationID)
	}
}

func TestParseFailurePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{"", FailFast, false},
		{"fail_fast", FailFast, false},
		{"FailFast", FailFast, false},
		{"continue", ContinueOnError, false},
		{" continue_on_error ", ContinueOnError, false},
		{"maybe", FailFast, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFailurePolicy(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFailurePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseFailurePolicy(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if FailFast.String() != "fail_fast" || ContinueOnError.String() != "continue" {
		t.Error("String() does not round-trip")
	}
}

func TestRunner_ContextCarriesIDs(t *testing.T) {
	var (
		mu  sync.Mutex
		ids = map[string]string{}
	)
	retriever := RetrieverFunc(func(ctx context.Context, query string) ([]string, error) {
		mu.Lock()
		ids[pkgctx.QueryID(ctx)] = pkgctx.RunID(ctx)
		mu.Unlock()
		return nil, nil
	})
	e, err := NewEvaluator(retriever, []Metric{HitRate{}})
	if err != nil {
		t.Fatalf("NewEvaluator() error = %v", err)
	}

	if _, err := NewRunner(e).EvaluateDataset(context.Background(), capitalsDataset(), WithRunID("run-9")); err != nil {
		t.Fatalf("EvaluateDataset() error = %v", err)
	}
	want := map[string]string{"q1": "run-9", "q2": "run-9"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}
