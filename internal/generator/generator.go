// Package generator builds synthetic evaluation datasets by asking a
// language model for questions about each chunk of a document set.
package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/ricesearch/rice-eval/internal/ast"
	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/dataset"
	"github.com/ricesearch/rice-eval/internal/llm"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/hash"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

// Defaults.
const (
	DefaultQuestionsPerChunk = 10
	DefaultConcurrency       = 4
	DefaultChunkSize         = 512
	DefaultChunkOverlap      = 64
)

// DefaultTemplate is the question prompt. {context_str} is replaced by the
// chunk text and {query_str} by the question generation query.
const DefaultTemplate = `Context information is below.
---------------------
{context_str}
---------------------
Given the context information and not prior knowledge.
generate only questions based on the below query.
{query_str}
`

// DefaultQuestionGenQuery asks for n quiz questions about the context.
func DefaultQuestionGenQuery(n int) string {
	return "You are a Teacher/Professor. Your task is to setup " + strconv.Itoa(n) +
		" questions for an upcoming quiz/examination. The questions should be diverse in nature" +
		" across the document. Restrict the questions to the context information provided."
}

// numberPrefix matches list numbering such as "1." or "2)".
var numberPrefix = regexp.MustCompile(`^\d+[\).\s]`)

// Options configures a Generator.
type Options struct {
	// QuestionsPerChunk is the number of questions requested per chunk.
	QuestionsPerChunk int

	// MaxQuestions caps the total number of questions. 0 means no cap.
	// Generation stops once the cap is reached.
	MaxQuestions int

	// Concurrency is the number of chunks prompted at once.
	Concurrency int

	ChunkSize    int
	ChunkOverlap int

	// RequiredKeywords keeps only chunks containing at least one keyword.
	RequiredKeywords []string

	// ExcludeKeywords drops chunks containing any keyword.
	ExcludeKeywords []string

	// Template is the prompt template, DefaultTemplate when empty.
	Template string

	// QuestionGenQuery is substituted for {query_str}. When empty it is
	// DefaultQuestionGenQuery(QuestionsPerChunk).
	QuestionGenQuery string
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		QuestionsPerChunk: DefaultQuestionsPerChunk,
		Concurrency:       DefaultConcurrency,
		ChunkSize:         DefaultChunkSize,
		ChunkOverlap:      DefaultChunkOverlap,
	}
}

// OptionsFromConfig converts the generator config section, reading the
// template file if one is configured.
func OptionsFromConfig(cfg config.GeneratorConfig) (Options, error) {
	opts := Options{
		QuestionsPerChunk: cfg.QuestionsPerChunk,
		MaxQuestions:      cfg.MaxQuestions,
		Concurrency:       cfg.Concurrency,
		ChunkSize:         cfg.ChunkSize,
		ChunkOverlap:      cfg.ChunkOverlap,
		RequiredKeywords:  cfg.RequiredKeywords,
		ExcludeKeywords:   cfg.ExcludeKeywords,
		QuestionGenQuery:  cfg.QuestionGenQuery,
	}
	if cfg.QuestionTemplatePath != "" {
		data, err := os.ReadFile(cfg.QuestionTemplatePath)
		if err != nil {
			return Options{}, fmt.Errorf("read question template: %w", err)
		}
		opts.Template = string(data)
	}
	return opts, nil
}

func (o *Options) setDefaults() {
	def := DefaultOptions()
	if o.QuestionsPerChunk == 0 {
		o.QuestionsPerChunk = def.QuestionsPerChunk
	}
	if o.Concurrency == 0 {
		o.Concurrency = def.Concurrency
	}
	if o.ChunkSize == 0 {
		o.ChunkSize = def.ChunkSize
		if o.ChunkOverlap == 0 {
			o.ChunkOverlap = def.ChunkOverlap
		}
	}
	if o.Template == "" {
		o.Template = DefaultTemplate
	}
	if o.QuestionGenQuery == "" {
		o.QuestionGenQuery = DefaultQuestionGenQuery(o.QuestionsPerChunk)
	}
}

func (o Options) validate() error {
	switch {
	case o.QuestionsPerChunk < 1:
		return apperrors.ValidationError("questions per chunk must be at least 1")
	case o.Concurrency < 1:
		return apperrors.ValidationError("concurrency must be at least 1")
	case o.MaxQuestions < 0:
		return apperrors.ValidationError("max questions cannot be negative")
	case o.ChunkOverlap < 0 || o.ChunkOverlap >= o.ChunkSize:
		return apperrors.ValidationError("chunk overlap must be in [0, chunk size)")
	case !strings.Contains(o.Template, "{context_str}"):
		return apperrors.ValidationError("template must contain {context_str}")
	}
	return nil
}

// Generator turns documents into datasets. It is safe for concurrent use.
type Generator struct {
	backend   llm.Generator
	opts      Options
	chunker   *Chunker
	pool      *ants.PoolWithFunc
	log       *logger.Logger
	metrics   *telemetry.Metrics
	publisher bus.Bus
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(g *Generator) {
		if log != nil {
			g.log = log
		}
	}
}

// WithTelemetry records generated question counts on m.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(g *Generator) { g.metrics = m }
}

// WithPublisher publishes a dataset.generated event after each Generate.
func WithPublisher(b bus.Bus) Option {
	return func(g *Generator) { g.publisher = b }
}

// WithParser overrides the declaration parser. nil disables it.
func WithParser(p ast.Parser) Option {
	return func(g *Generator) { g.chunker.parser = p }
}

// promptTask is the argument of one pool invocation.
type promptTask struct {
	ctx    context.Context
	prompt string
	out    *string
	err    *error
	wg     *sync.WaitGroup
}

// New creates a generator prompting backend. Call Close to release its
// worker pool.
func New(backend llm.Generator, opts Options, options ...Option) (*Generator, error) {
	if backend == nil {
		return nil, apperrors.ValidationError("generation backend is required")
	}
	opts.setDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	g := &Generator{
		backend: backend,
		opts:    opts,
		chunker: NewChunker(opts.ChunkSize, opts.ChunkOverlap, ast.NewParser()),
		log:     logger.Discard(),
	}
	for _, opt := range options {
		opt(g)
	}

	pool, err := ants.NewPoolWithFunc(opts.Concurrency, func(arg any) {
		task := arg.(*promptTask)
		defer task.wg.Done()
		*task.out, *task.err = g.backend.Generate(task.ctx, task.prompt)
	})
	if err != nil {
		return nil, fmt.Errorf("create generation pool: %w", err)
	}
	g.pool = pool
	return g, nil
}

// Close releases the worker pool.
func (g *Generator) Close() {
	g.pool.Release()
}

// Prompt renders the prompt for a chunk text.
func (g *Generator) Prompt(text string) string {
	return strings.NewReplacer(
		"{context_str}", text,
		"{query_str}", g.opts.QuestionGenQuery,
	).Replace(g.opts.Template)
}

// Chunks splits docs and applies the keyword filters. Chunks whose text
// duplicates an earlier chunk are dropped so every question has one source.
func (g *Generator) Chunks(ctx context.Context, docs []Document) []Chunk {
	var chunks []Chunk
	seen := make(map[string]bool)
	for _, doc := range docs {
		for _, c := range g.chunker.Chunk(ctx, doc) {
			if !keep(c.Text, g.opts.RequiredKeywords, g.opts.ExcludeKeywords) {
				continue
			}
			key := hash.SHA256String(c.Text)
			if seen[key] {
				continue
			}
			seen[key] = true
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// keep reports whether text contains at least one required keyword, when
// any are given, and none of the excluded ones.
func keep(text string, required, exclude []string) bool {
	if len(required) > 0 {
		found := false
		for _, k := range required {
			if strings.Contains(text, k) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, k := range exclude {
		if strings.Contains(text, k) {
			return false
		}
	}
	return true
}

// CleanQuestions splits a completion into questions: one per line, list
// numbering and surrounding space removed, blank lines dropped.
func CleanQuestions(output string) []string {
	var questions []string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		q := strings.TrimSpace(numberPrefix.ReplaceAllString(line, ""))
		if q != "" {
			questions = append(questions, q)
		}
	}
	return questions
}

// chunkQuestions pairs a chunk with the questions generated from it.
type chunkQuestions struct {
	chunk     Chunk
	questions []string
}

// generate prompts chunks in batches of Concurrency, in chunk order. It
// stops after the batch that reaches MaxQuestions.
func (g *Generator) generate(ctx context.Context, chunks []Chunk) ([]chunkQuestions, error) {
	var (
		out   []chunkQuestions
		total int
	)

	for start := 0; start < len(chunks); start += g.opts.Concurrency {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.opts.MaxQuestions > 0 && total >= g.opts.MaxQuestions {
			break
		}

		batch := chunks[start:min(start+g.opts.Concurrency, len(chunks))]
		outputs := make([]string, len(batch))
		errs := make([]error, len(batch))

		var wg sync.WaitGroup
		for i, c := range batch {
			wg.Add(1)
			task := &promptTask{
				ctx:    ctx,
				prompt: g.Prompt(c.Text),
				out:    &outputs[i],
				err:    &errs[i],
				wg:     &wg,
			}
			if err := g.pool.Invoke(task); err != nil {
				wg.Done()
				errs[i] = err
			}
		}
		wg.Wait()

		for i, c := range batch {
			if errs[i] != nil {
				return nil, apperrors.GenerationError(fmt.Sprintf("generate questions for chunk %s", c.ID), errs[i])
			}
			qs := CleanQuestions(outputs[i])
			total += len(qs)
			out = append(out, chunkQuestions{chunk: c, questions: qs})
		}
	}
	return out, nil
}

// GenerateQuestions returns the cleaned questions for docs, in document,
// chunk and line order, capped at MaxQuestions.
func (g *Generator) GenerateQuestions(ctx context.Context, docs []Document) ([]string, error) {
	batches, err := g.generate(ctx, g.Chunks(ctx, docs))
	if err != nil {
		return nil, err
	}

	questions := []string{}
	for _, b := range batches {
		questions = append(questions, b.questions...)
	}
	if g.opts.MaxQuestions > 0 && len(questions) > g.opts.MaxQuestions {
		questions = questions[:g.opts.MaxQuestions]
	}
	return questions, nil
}

// Generate builds a dataset from docs. Every question becomes a query with a
// fresh id whose single relevant document is its source chunk. Every
// prompted chunk is added to the corpus.
func (g *Generator) Generate(ctx context.Context, docs []Document) (*dataset.Dataset, error) {
	start := time.Now()
	chunks := g.Chunks(ctx, docs)
	g.log.Info("Generating questions", "documents", len(docs), "chunks", len(chunks),
		"questions_per_chunk", g.opts.QuestionsPerChunk)

	batches, err := g.generate(ctx, chunks)
	if err != nil {
		g.log.WithError(err).Error("Question generation failed")
		return nil, err
	}

	ds := dataset.New()
	added := 0
	for _, b := range batches {
		ds.AddDocument(b.chunk.ID, b.chunk.Text)
		for _, q := range b.questions {
			if g.opts.MaxQuestions > 0 && added >= g.opts.MaxQuestions {
				break
			}
			ds.Add(uuid.NewString(), q, []string{b.chunk.ID})
			added++
		}
	}

	g.metrics.QuestionsAdded(added)
	g.log.Info("Dataset generated", "queries", added, "chunks", len(batches),
		"duration", time.Since(start).String())

	if g.publisher != nil {
		event := bus.NewEvent(bus.TopicDatasetGenerated, "generator", "", bus.DatasetGenerated{
			Documents: len(docs),
			Chunks:    len(batches),
			Queries:   added,
		})
		if err := g.publisher.Publish(context.WithoutCancel(ctx), bus.TopicDatasetGenerated, event); err != nil {
			g.log.WithError(err).Warn("Failed to publish dataset event")
		}
	}
	return ds, nil
}

// ErrNoDocuments is returned by LoadAndGenerate when nothing was loaded.
var ErrNoDocuments = errors.New("no documents found")

// LoadAndGenerate loads the documents under root and generates a dataset.
func (g *Generator) LoadAndGenerate(ctx context.Context, root string) (*dataset.Dataset, error) {
	docs, err := LoadDocuments(root)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNoDocuments)
	}
	return g.Generate(ctx, docs)
}
