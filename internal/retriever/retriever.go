// Package retriever adapts search systems to the evaluation.Retriever
// contract: the rice-search HTTP API, a Qdrant collection and precomputed
// run files.
package retriever

import (
	"context"
	"fmt"
	"io"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/llm"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/qdrant"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// Retriever types.
const (
	TypeHTTP   = "http"
	TypeQdrant = "qdrant"
	TypeStatic = "static"
)

// Deps holds what the factory needs beyond the retriever section itself.
type Deps struct {
	Qdrant config.QdrantConfig
	LLM    config.LLMConfig

	// Queries maps query ids to texts so static run files may be keyed by id.
	Queries map[string]string

	// Embedder overrides the embedder built from LLM.
	Embedder llm.Embedder

	Telemetry *telemetry.Metrics
	Log       *logger.Logger
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds the retriever selected by cfg.Type, wrapped with rate limiting
// when cfg.RateLimit is set and with telemetry. The returned Closer releases
// any connection the retriever holds.
func New(ctx context.Context, cfg config.RetrieverConfig, deps Deps) (evaluation.Retriever, io.Closer, error) {
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}

	var (
		r      evaluation.Retriever
		closer io.Closer = nopCloser{}
	)

	switch cfg.Type {
	case TypeHTTP, "":
		h, err := NewHTTP(HTTPConfig{
			BaseURL: cfg.URL,
			Store:   cfg.Store,
			TopK:    cfg.TopK,
			IDField: cfg.IDField,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using rice-search retriever", "url", h.cfg.BaseURL, "store", h.cfg.Store, "id_field", h.cfg.IDField)
		r = h

	case TypeQdrant:
		embedder := deps.Embedder
		if embedder == nil {
			e, err := llm.NewEmbedder(ctx, deps.LLM)
			if err != nil {
				return nil, nil, fmt.Errorf("create embedder: %w", err)
			}
			embedder = llm.InstrumentEmbedder(e, deps.LLM.EmbeddingBackend, deps.Telemetry)
		}

		client, err := qdrant.NewClient(qdrant.ClientConfig{
			Host:    deps.Qdrant.Host,
			Port:    deps.Qdrant.Port,
			APIKey:  deps.Qdrant.APIKey,
			UseTLS:  deps.Qdrant.UseTLS,
			Timeout: deps.Qdrant.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		q, err := NewQdrant(client, embedder, QdrantConfig{
			Collection: deps.Qdrant.Collection,
			Vector:     deps.Qdrant.Vector,
			TopK:       cfg.TopK,
			IDField:    cfg.IDField,
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		log.Info("Using qdrant retriever", "collection", deps.Qdrant.Collection, "host", deps.Qdrant.Host)
		r, closer = q, client

	case TypeStatic:
		s, err := LoadStatic(cfg.RunFile, deps.Queries)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Using static run file", "path", cfg.RunFile, "queries", s.Len())
		r = s

	default:
		return nil, nil, fmt.Errorf("unknown retriever type: %s", cfg.Type)
	}

	if cfg.RateLimit > 0 {
		r = RateLimited(r, cfg.RateLimit, cfg.Burst)
	}
	if deps.Telemetry != nil {
		name := cfg.Type
		if name == "" {
			name = TypeHTTP
		}
		r = Instrumented(r, name, deps.Telemetry)
	}
	return r, closer, nil
}
