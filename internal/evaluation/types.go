package evaluation

import (
	"fmt"
	"time"
)

// MetricResult is the outcome of one metric on one query.
type MetricResult struct {
	Score    float64            `json:"score"`
	Metadata map[string]float64 `json:"metadata,omitempty"`
}

// EvalResult contains the retrieval and metric outcome for a single query.
type EvalResult struct {
	QueryID      string                  `json:"query_id,omitempty"`
	Query        string                  `json:"query"`
	ExpectedIDs  []string                `json:"expected_ids"`
	RetrievedIDs []string                `json:"retrieved_ids"`
	MetricDict   map[string]MetricResult `json:"metric_dict"`
}

// MetricValues returns the score of every metric keyed by metric name.
func (r *EvalResult) MetricValues() map[string]float64 {
	vals := make(map[string]float64, len(r.MetricDict))
	for name, res := range r.MetricDict {
		vals[name] = res.Score
	}
	return vals
}

// String renders the query and its metric scores.
func (r *EvalResult) String() string {
	return fmt.Sprintf("Query: %s\nMetrics: %v\n", r.Query, r.MetricValues())
}

// Summary aggregates metric scores across queries.
type Summary struct {
	QueryCount int                `json:"query_count"`
	Mean       map[string]float64 `json:"mean"`
}

// Run is the persisted record of a dataset evaluation.
type Run struct {
	ID         string        `json:"id"`
	Dataset    string        `json:"dataset,omitempty"`
	Metrics    []string      `json:"metrics"`
	Workers    int           `json:"workers"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Results    []*EvalResult `json:"results"`
	Summary    *Summary      `json:"summary"`

	// Failures lists per-query errors when the run continues past them.
	Failures []string `json:"failures,omitempty"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
