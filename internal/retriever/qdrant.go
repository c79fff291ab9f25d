package retriever

import (
	"context"
	"fmt"

	"github.com/ricesearch/rice-eval/internal/llm"
	"github.com/ricesearch/rice-eval/internal/qdrant"
)

// PointSearcher runs a vector query against a collection.
type PointSearcher interface {
	Search(ctx context.Context, req qdrant.SearchRequest) ([]qdrant.SearchResult, error)
}

// QdrantConfig configures the Qdrant retriever.
type QdrantConfig struct {
	Collection string
	Vector     string // named vector, empty for the default vector
	TopK       int

	// IDField is the payload field holding the document id. Empty uses the
	// point id.
	IDField string
}

// Qdrant embeds each query and returns the ids of the nearest points.
type Qdrant struct {
	searcher PointSearcher
	embedder llm.Embedder
	cfg      QdrantConfig
}

// NewQdrant creates a Qdrant retriever.
func NewQdrant(searcher PointSearcher, embedder llm.Embedder, cfg QdrantConfig) (*Qdrant, error) {
	if searcher == nil {
		return nil, fmt.Errorf("qdrant searcher is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if cfg.TopK < 1 {
		cfg.TopK = qdrant.DefaultLimit
	}
	return &Qdrant{searcher: searcher, embedder: embedder, cfg: cfg}, nil
}

// Retrieve implements evaluation.Retriever.
func (q *Qdrant) Retrieve(ctx context.Context, query string) ([]string, error) {
	vector, err := q.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := q.searcher.Search(ctx, qdrant.SearchRequest{
		Collection: q.cfg.Collection,
		Vector:     vector,
		Using:      q.cfg.Vector,
		Limit:      uint64(q.cfg.TopK),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.DocumentID(q.cfg.IDField))
	}
	return ids, nil
}
