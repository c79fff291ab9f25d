package evaluation

import (
	"fmt"
	"strconv"
	"strings"
)

// Metric scores one retrieval outcome against ground truth.
// Implementations must be safe for concurrent use.
type Metric interface {
	// Name is the key the metric's result is stored under.
	Name() string

	// Compute scores retrieved against expected. Rank order of retrieved is
	// significant; expected is treated as a set.
	Compute(query string, expected, retrieved []string) (MetricResult, error)
}

// MetricFunc adapts a plain function to the Metric interface.
func MetricFunc(name string, fn func(query string, expected, retrieved []string) (MetricResult, error)) Metric {
	return &funcMetric{name: name, fn: fn}
}

type funcMetric struct {
	name string
	fn   func(query string, expected, retrieved []string) (MetricResult, error)
}

func (m *funcMetric) Name() string { return m.name }

func (m *funcMetric) Compute(query string, expected, retrieved []string) (MetricResult, error) {
	return m.fn(query, expected, retrieved)
}

// Cutoff evaluates a metric on the top k retrieved ids only.
type Cutoff struct {
	metric Metric
	k      int
}

// NewCutoff wraps metric so it only sees the first k retrieved ids.
// The wrapped metric is named "<name>@<k>".
func NewCutoff(metric Metric, k int) (*Cutoff, error) {
	if metric == nil {
		return nil, fmt.Errorf("cutoff: metric is nil")
	}
	if k < 1 {
		return nil, fmt.Errorf("cutoff: k must be positive, got %d", k)
	}
	return &Cutoff{metric: metric, k: k}, nil
}

// Name implements Metric.
func (c *Cutoff) Name() string {
	return c.metric.Name() + "@" + strconv.Itoa(c.k)
}

// Compute implements Metric.
func (c *Cutoff) Compute(query string, expected, retrieved []string) (MetricResult, error) {
	if len(retrieved) > c.k {
		retrieved = retrieved[:c.k]
	}
	return c.metric.Compute(query, expected, retrieved)
}

// splitCutoff parses "name@k". ok is false when name carries no valid cutoff.
func splitCutoff(name string) (base string, k int, ok bool) {
	i := strings.LastIndexByte(name, '@')
	if i <= 0 || i == len(name)-1 {
		return "", 0, false
	}
	k, err := strconv.Atoi(name[i+1:])
	if err != nil || k < 1 {
		return "", 0, false
	}
	return name[:i], k, true
}
