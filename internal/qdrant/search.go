package qdrant

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// Search runs a dense vector query and returns points in score order.
func (c *Client) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if req.Collection == "" {
		return nil, fmt.Errorf("collection is required")
	}
	if len(req.Vector) == 0 {
		return nil, fmt.Errorf("query vector is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	results, err := c.client.Query(ctx, buildQuery(req))
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	return scoredPointsToResults(results), nil
}

func buildQuery(req SearchRequest) *qdrant.QueryPoints {
	limit := req.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	q := &qdrant.QueryPoints{
		CollectionName: req.Collection,
		Query:          qdrant.NewQueryDense(req.Vector),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildSearchFilter(req.Filter),
	}
	if req.Using != "" {
		q.Using = qdrant.PtrOf(req.Using)
	}
	if req.ScoreThreshold != nil {
		q.ScoreThreshold = req.ScoreThreshold
	}
	return q
}

// buildSearchFilter builds a Must filter of exact keyword matches.
func buildSearchFilter(match map[string]string) *qdrant.Filter {
	if len(match) == 0 {
		return nil
	}

	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: k,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: match[k],
						},
					},
				},
			},
		})
	}

	return &qdrant.Filter{
		Must: conditions,
	}
}

// scoredPointsToResults converts Qdrant scored points to SearchResults.
func scoredPointsToResults(points []*qdrant.ScoredPoint) []SearchResult {
	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, scoredPointToResult(p))
	}
	return results
}

// scoredPointToResult converts a single scored point to SearchResult.
func scoredPointToResult(p *qdrant.ScoredPoint) SearchResult {
	var id string
	switch v := p.GetId().GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		id = v.Uuid
	case *qdrant.PointId_Num:
		id = strconv.FormatUint(v.Num, 10)
	}

	return SearchResult{
		ID:      id,
		Score:   p.GetScore(),
		Payload: extractPayload(p.GetPayload()),
	}
}

// extractPayload keeps the scalar payload values. Lists and structs are
// skipped since they cannot serve as document ids.
func extractPayload(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			result[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			result[k] = kind.IntegerValue
		case *qdrant.Value_DoubleValue:
			result[k] = kind.DoubleValue
		case *qdrant.Value_BoolValue:
			result[k] = kind.BoolValue
		}
	}
	return result
}
