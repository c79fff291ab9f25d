package evaluation

import (
	"math"
)

// Built-in metric names.
const (
	MetricHitRate   = "hit_rate"
	MetricMRR       = "mrr"
	MetricNDCG      = "ndcg"
	MetricAP        = "ap"
	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricF1        = "f1"
	MetricJaccard   = "jaccard"
)

// Builtins returns a fresh instance of every built-in metric.
func Builtins() []Metric {
	return []Metric{
		HitRate{},
		MRR{},
		NDCGMetric{},
		AveragePrecisionMetric{},
		PrecisionMetric{},
		RecallMetric{},
		F1{},
		Jaccard{},
	}
}

// NDCG calculates Normalized Discounted Cumulative Gain at K.
// ideal holds the best achievable relevances, highest first.
func NDCG(relevances, ideal []int, k int) float64 {
	idcg := DCG(ideal, k)
	if idcg == 0 {
		return 0
	}
	return DCG(relevances, k) / idcg
}

// DCG calculates Discounted Cumulative Gain at K.
func DCG(relevances []int, k int) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}
	dcg := 0.0
	for i := 0; i < k; i++ {
		dcg += float64(relevances[i]) / math.Log2(float64(i+2))
	}
	return dcg
}

// Recall calculates Recall at K against totalRelevant known relevant items.
func Recall(relevances []int, k int, threshold int, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}
	return float64(countRelevant(relevances, k, threshold)) / float64(totalRelevant)
}

// Precision calculates Precision at K.
func Precision(relevances []int, k int, threshold int) float64 {
	if k > len(relevances) {
		k = len(relevances)
	}
	if k == 0 {
		return 0
	}
	return float64(countRelevant(relevances, k, threshold)) / float64(k)
}

// ReciprocalRank returns 1/rank of the first relevant item, and that rank.
func ReciprocalRank(relevances []int, threshold int) (float64, int) {
	for i, r := range relevances {
		if r >= threshold {
			return 1.0 / float64(i+1), i + 1
		}
	}
	return 0, 0
}

// AveragePrecision calculates Average Precision normalised by totalRelevant.
func AveragePrecision(relevances []int, threshold int, totalRelevant int) float64 {
	if totalRelevant == 0 {
		return 0
	}

	relevant := 0
	sumPrecision := 0.0
	for i, r := range relevances {
		if r >= threshold {
			relevant++
			sumPrecision += float64(relevant) / float64(i+1)
		}
	}
	return sumPrecision / float64(totalRelevant)
}

func countRelevant(relevances []int, k int, threshold int) int {
	if k > len(relevances) {
		k = len(relevances)
	}
	n := 0
	for i := 0; i < k; i++ {
		if relevances[i] >= threshold {
			n++
		}
	}
	return n
}

// judgement is the binary relevance view of one retrieval outcome.
// Duplicate retrieved ids only count at their first rank.
type judgement struct {
	relevances []int // per unique retrieved id, in rank order
	expected   int   // unique expected ids
	hits       int   // unique retrieved ids that are expected
}

func judge(expected, retrieved []string) judgement {
	want := make(map[string]struct{}, len(expected))
	for _, id := range expected {
		want[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(retrieved))
	j := judgement{
		relevances: make([]int, 0, len(retrieved)),
		expected:   len(want),
	}
	for _, id := range retrieved {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, ok := want[id]; ok {
			j.relevances = append(j.relevances, 1)
			j.hits++
		} else {
			j.relevances = append(j.relevances, 0)
		}
	}
	return j
}

func (j judgement) retrieved() int {
	return len(j.relevances)
}

func (j judgement) ideal() []int {
	n := j.expected
	if n > j.retrieved() {
		n = j.retrieved()
	}
	ideal := make([]int, n)
	for i := range ideal {
		ideal[i] = 1
	}
	return ideal
}

func (j judgement) setMetadata() map[string]float64 {
	return map[string]float64{
		"hits":      float64(j.hits),
		"expected":  float64(j.expected),
		"retrieved": float64(j.retrieved()),
	}
}

// HitRate scores 1 when any expected id is retrieved.
type HitRate struct{}

// Name implements Metric.
func (HitRate) Name() string { return MetricHitRate }

// Compute implements Metric.
func (HitRate) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	score := 0.0
	if j.hits > 0 {
		score = 1
	}
	return MetricResult{Score: score, Metadata: j.setMetadata()}, nil
}

// MRR scores the reciprocal rank of the first expected id retrieved.
type MRR struct{}

// Name implements Metric.
func (MRR) Name() string { return MetricMRR }

// Compute implements Metric.
func (MRR) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	rr, rank := ReciprocalRank(judge(expected, retrieved).relevances, 1)
	return MetricResult{
		Score:    rr,
		Metadata: map[string]float64{"rank": float64(rank)},
	}, nil
}

// NDCGMetric scores binary-gain NDCG over the whole retrieved list.
type NDCGMetric struct{}

// Name implements Metric.
func (NDCGMetric) Name() string { return MetricNDCG }

// Compute implements Metric.
func (NDCGMetric) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	return MetricResult{
		Score:    NDCG(j.relevances, j.ideal(), j.retrieved()),
		Metadata: j.setMetadata(),
	}, nil
}

// AveragePrecisionMetric scores average precision over the expected set.
type AveragePrecisionMetric struct{}

// Name implements Metric.
func (AveragePrecisionMetric) Name() string { return MetricAP }

// Compute implements Metric.
func (AveragePrecisionMetric) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	return MetricResult{
		Score:    AveragePrecision(j.relevances, 1, j.expected),
		Metadata: j.setMetadata(),
	}, nil
}

// PrecisionMetric scores |expected ∩ retrieved| / |retrieved|.
type PrecisionMetric struct{}

// Name implements Metric.
func (PrecisionMetric) Name() string { return MetricPrecision }

// Compute implements Metric.
func (PrecisionMetric) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	return MetricResult{
		Score:    Precision(j.relevances, j.retrieved(), 1),
		Metadata: j.setMetadata(),
	}, nil
}

// RecallMetric scores |expected ∩ retrieved| / |expected|.
type RecallMetric struct{}

// Name implements Metric.
func (RecallMetric) Name() string { return MetricRecall }

// Compute implements Metric.
func (RecallMetric) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	return MetricResult{
		Score:    Recall(j.relevances, j.retrieved(), 1, j.expected),
		Metadata: j.setMetadata(),
	}, nil
}

// F1 is the harmonic mean of precision and recall.
type F1 struct{}

// Name implements Metric.
func (F1) Name() string { return MetricF1 }

// Compute implements Metric.
func (F1) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	meta := j.setMetadata()
	if j.expected == 0 || j.hits == 0 {
		return MetricResult{Score: 0, Metadata: meta}, nil
	}

	p := Precision(j.relevances, j.retrieved(), 1)
	r := Recall(j.relevances, j.retrieved(), 1, j.expected)
	meta["precision"] = p
	meta["recall"] = r
	return MetricResult{Score: 2 * p * r / (p + r), Metadata: meta}, nil
}

// Jaccard scores |expected ∩ retrieved| / |expected ∪ retrieved|.
// Two empty sets are identical and score 1.
type Jaccard struct{}

// Name implements Metric.
func (Jaccard) Name() string { return MetricJaccard }

// Compute implements Metric.
func (Jaccard) Compute(_ string, expected, retrieved []string) (MetricResult, error) {
	j := judge(expected, retrieved)
	union := j.expected + j.retrieved() - j.hits
	score := 1.0
	if union > 0 {
		score = float64(j.hits) / float64(union)
	}
	return MetricResult{Score: score, Metadata: j.setMetadata()}, nil
}
