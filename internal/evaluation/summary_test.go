package evaluation

import (
	"testing"
)

func TestSummarize(t *testing.T) {
	results := []*EvalResult{
		{MetricDict: map[string]MetricResult{"mrr": {Score: 1}, "recall": {Score: 0.5}}},
		nil,
		{MetricDict: map[string]MetricResult{"mrr": {Score: 0.5}}},
	}

	s := Summarize(results)
	if s.QueryCount != 2 {
		t.Errorf("QueryCount = %d, want 2", s.QueryCount)
	}
	if s.Mean["mrr"] != 0.75 {
		t.Errorf("mean mrr = %v, want 0.75", s.Mean["mrr"])
	}
	// Only the first result carries recall.
	if s.Mean["recall"] != 0.5 {
		t.Errorf("mean recall = %v, want 0.5", s.Mean["recall"])
	}
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)
	if s.QueryCount != 0 {
		t.Errorf("QueryCount = %d, want 0", s.QueryCount)
	}
	if s.Mean == nil || len(s.Mean) != 0 {
		t.Errorf("Mean = %v, want empty map", s.Mean)
	}
}
