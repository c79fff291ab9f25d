package retriever

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// RateLimited throttles calls to next to rps requests per second with the
// given burst. Calls beyond the rate wait, they are not rejected.
func RateLimited(next evaluation.Retriever, rps float64, burst int) evaluation.Retriever {
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

type rateLimited struct {
	next    evaluation.Retriever
	limiter *rate.Limiter
}

func (r *rateLimited) Retrieve(ctx context.Context, query string) ([]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	return r.next.Retrieve(ctx, query)
}

// Instrumented records the latency and outcome of every call to next under
// the retriever label name.
func Instrumented(next evaluation.Retriever, name string, m *telemetry.Metrics) evaluation.Retriever {
	return &instrumented{next: next, name: name, metrics: m}
}

type instrumented struct {
	next    evaluation.Retriever
	name    string
	metrics *telemetry.Metrics
}

func (r *instrumented) Retrieve(ctx context.Context, query string) ([]string, error) {
	start := time.Now()
	ids, err := r.next.Retrieve(ctx, query)
	r.metrics.RetrievalObserved(r.name, telemetry.Status(err), time.Since(start))
	return ids, err
}
