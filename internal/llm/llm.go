// Package llm provides the language model backends used to generate
// synthetic questions and to embed queries.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// Backend names.
const (
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed implements Embedder.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// NewGenerator creates the text generation backend named by gen.Backend.
func NewGenerator(ctx context.Context, gen config.GeneratorConfig, creds config.LLMConfig) (Generator, error) {
	switch gen.Backend {
	case BackendOpenAI:
		c, err := NewOpenAI(OpenAIConfig{
			APIKey:  creds.OpenAIAPIKey,
			BaseURL: creds.OpenAIBaseURL,
			Model:   gen.Model,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendGemini:
		c, err := NewGemini(ctx, GeminiConfig{
			APIKey:  creds.GeminiAPIKey,
			BaseURL: creds.GeminiBaseURL,
			Model:   gen.Model,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown generator backend: %s", gen.Backend)
	}
}

// NewEmbedder creates the embedding backend named by creds.EmbeddingBackend.
func NewEmbedder(ctx context.Context, creds config.LLMConfig) (Embedder, error) {
	switch creds.EmbeddingBackend {
	case BackendOpenAI:
		c, err := NewOpenAI(OpenAIConfig{
			APIKey:         creds.OpenAIAPIKey,
			BaseURL:        creds.OpenAIBaseURL,
			EmbeddingModel: creds.EmbeddingModel,
			Dimensions:     creds.EmbeddingDims,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	case BackendGemini:
		c, err := NewGemini(ctx, GeminiConfig{
			APIKey:         creds.GeminiAPIKey,
			BaseURL:        creds.GeminiBaseURL,
			EmbeddingModel: creds.EmbeddingModel,
			Dimensions:     creds.EmbeddingDims,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown embedding backend: %s", creds.EmbeddingBackend)
	}
}

// InstrumentGenerator records the latency and outcome of every call to g.
func InstrumentGenerator(g Generator, backend string, m *telemetry.Metrics) Generator {
	return &instrumentedGenerator{next: g, backend: backend, metrics: m}
}

type instrumentedGenerator struct {
	next    Generator
	backend string
	metrics *telemetry.Metrics
}

func (g *instrumentedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := g.next.Generate(ctx, prompt)
	g.metrics.LLMRequestObserved(g.backend, telemetry.Status(err), time.Since(start))
	return out, err
}

// InstrumentEmbedder records the latency and outcome of every call to e.
func InstrumentEmbedder(e Embedder, backend string, m *telemetry.Metrics) Embedder {
	return &instrumentedEmbedder{next: e, backend: backend, metrics: m}
}

type instrumentedEmbedder struct {
	next    Embedder
	backend string
	metrics *telemetry.Metrics
}

func (e *instrumentedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := e.next.Embed(ctx, text)
	e.metrics.LLMRequestObserved(e.backend, telemetry.Status(err), time.Since(start))
	return vec, err
}
