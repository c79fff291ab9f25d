// Package context carries evaluation identifiers through request contexts so
// retrievers can tag outgoing calls with the run and query they serve.
package context

import (
	"context"
)

type contextKey string

const (
	// RunIDKey is the context key for the evaluation run id.
	RunIDKey contextKey = "run_id"

	// QueryIDKey is the context key for the dataset query id.
	QueryIDKey contextKey = "query_id"
)

// WithRunID adds a run id to the context.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// RunID retrieves the run id from context.
// Returns empty string if not found.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(RunIDKey).(string); ok {
		return id
	}
	return ""
}

// WithQueryID adds a query id to the context.
func WithQueryID(ctx context.Context, queryID string) context.Context {
	return context.WithValue(ctx, QueryIDKey, queryID)
}

// QueryID retrieves the query id from context.
// Returns empty string if not found.
func QueryID(ctx context.Context) string {
	if id, ok := ctx.Value(QueryIDKey).(string); ok {
		return id
	}
	return ""
}
