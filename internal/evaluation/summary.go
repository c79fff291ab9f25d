package evaluation

// Summarize aggregates results across queries. Nil results are skipped.
// Each metric's mean is taken over the results that carry that metric.
func Summarize(results []*EvalResult) *Summary {
	summary := &Summary{
		Mean: make(map[string]float64),
	}

	counts := make(map[string]int)
	for _, r := range results {
		if r == nil {
			continue
		}
		summary.QueryCount++
		for name, res := range r.MetricDict {
			summary.Mean[name] += res.Score
			counts[name]++
		}
	}

	for name, n := range counts {
		summary.Mean[name] /= float64(n)
	}

	return summary
}
