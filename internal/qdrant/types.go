// Package qdrant queries an existing Qdrant collection for evaluation.
package qdrant

import (
	"strconv"
)

// SearchRequest defines a dense vector query.
type SearchRequest struct {
	// Collection is the collection to query.
	Collection string

	// Vector is the query embedding.
	Vector []float32

	// Using names the vector to search when the collection has several.
	Using string

	// Limit is the maximum number of results to return.
	Limit uint64

	// Filter restricts results to points whose payload keywords match exactly.
	Filter map[string]string

	// ScoreThreshold filters results below this score.
	ScoreThreshold *float32
}

// SearchResult represents a single scored point.
type SearchResult struct {
	// ID is the point identifier.
	ID string

	// Score is the relevance score.
	Score float32

	// Payload holds the point's scalar payload values.
	Payload map[string]any
}

// DocumentID returns the payload value stored under field, or the point id
// when field is empty or not a scalar in the payload.
func (r SearchResult) DocumentID(field string) string {
	if field == "" {
		return r.ID
	}
	switch v := r.Payload[field].(type) {
	case string:
		if v != "" {
			return v
		}
	case int64:
		return strconv.FormatInt(v, 10)
	}
	return r.ID
}
