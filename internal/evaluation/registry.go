package evaluation

import (
	"fmt"
	"sort"
	"sync"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Registry maps metric names to implementations.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]Metric),
	}
}

// DefaultRegistry creates a registry holding every built-in metric.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, m := range Builtins() {
		// Built-ins are non-nil and named.
		_ = r.Register(m)
	}
	return r
}

// Register adds a metric under its own name.
// A metric registered under an existing name replaces it.
func (r *Registry) Register(m Metric) error {
	if m == nil {
		return apperrors.ValidationError("metric is nil")
	}
	name := m.Name()
	if name == "" {
		return apperrors.ValidationError("metric name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics[name] = m
	return nil
}

// Get returns the metric registered under name. Names of the form
// "<metric>@<k>" resolve to the registered metric with a rank cutoff.
func (r *Registry) Get(name string) (Metric, error) {
	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if ok {
		return m, nil
	}

	if base, k, ok := splitCutoff(name); ok {
		r.mu.RLock()
		m, found := r.metrics[base]
		r.mu.RUnlock()
		if found {
			c, err := NewCutoff(m, k)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}

	return nil, apperrors.UnknownMetricError(name)
}

// List returns registered metric names sorted lexicographically.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve maps names to metrics, in order.
// It fails on the first name that has no implementation.
func (r *Registry) Resolve(names []string) ([]Metric, error) {
	metrics := make([]Metric, 0, len(names))
	for _, name := range names {
		m, err := r.Get(name)
		if err != nil {
			return nil, fmt.Errorf("resolve metrics: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, nil
}
