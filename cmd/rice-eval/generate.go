package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/dataset"
	"github.com/ricesearch/rice-eval/internal/generator"
	"github.com/ricesearch/rice-eval/internal/llm"
)

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a synthetic dataset from documents",
		Long: `Chunk the documents under --docs and ask a language model to write
questions about each chunk. Every question becomes a dataset query whose
only relevant document is the chunk it was generated from.

.gitignore and .riceignore files are honored while walking --docs.
Code files are chunked along declarations when tree-sitter is available.`,
		RunE: runGenerate,
	}

	cmd.Flags().String("docs", "", "directory or file to generate questions from")
	cmd.Flags().String("out", "", "dataset file to write (JSON)")
	cmd.Flags().IntP("questions", "q", 0, "questions per chunk")
	cmd.Flags().Int("max", 0, "maximum number of questions (0 = unlimited)")
	cmd.Flags().Int("concurrency", 0, "concurrent language model requests")
	cmd.Flags().String("backend", "", "language model backend (openai, gemini)")
	cmd.Flags().String("model", "", "language model name")
	cmd.Flags().StringSlice("require", nil, "only use chunks containing one of these keywords")
	cmd.Flags().StringSlice("exclude", nil, "skip chunks containing any of these keywords")
	_ = cmd.MarkFlagRequired("docs")
	_ = cmd.MarkFlagRequired("out")

	return cmd
}

func applyGenerateFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("questions") {
		cfg.Generator.QuestionsPerChunk, _ = flags.GetInt("questions")
	}
	if flags.Changed("max") {
		cfg.Generator.MaxQuestions, _ = flags.GetInt("max")
	}
	if flags.Changed("concurrency") {
		cfg.Generator.Concurrency, _ = flags.GetInt("concurrency")
	}
	if v, _ := flags.GetString("backend"); v != "" {
		cfg.Generator.Backend = v
	}
	if v, _ := flags.GetString("model"); v != "" {
		cfg.Generator.Model = v
	}
	if v, _ := flags.GetStringSlice("require"); len(v) > 0 {
		cfg.Generator.RequiredKeywords = v
	}
	if v, _ := flags.GetStringSlice("exclude"); len(v) > 0 {
		cfg.Generator.ExcludeKeywords = v
	}
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	docs, _ := cmd.Flags().GetString("docs")
	out, _ := cmd.Flags().GetString("out")

	a, err := newApp(cmd, applyGenerateFlags)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	opts, err := generator.OptionsFromConfig(a.cfg.Generator)
	if err != nil {
		return err
	}

	backend, err := llm.NewGenerator(ctx, a.cfg.Generator, a.cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create language model backend: %w", err)
	}
	backend = llm.InstrumentGenerator(backend, a.cfg.Generator.Backend, a.telemetry)

	g, err := generator.New(backend, opts,
		generator.WithLogger(a.log),
		generator.WithTelemetry(a.telemetry),
		generator.WithPublisher(a.bus),
	)
	if err != nil {
		return err
	}
	defer g.Close()

	a.log.Info("Generating dataset",
		"docs", docs,
		"backend", a.cfg.Generator.Backend,
		"model", a.cfg.Generator.Model,
		"questions_per_chunk", a.cfg.Generator.QuestionsPerChunk,
	)

	ds, err := g.LoadAndGenerate(ctx, docs)
	if err != nil {
		return err
	}
	if err := dataset.Save(out, ds); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Generated %d questions from %d chunks into %s\n", ds.Len(), len(ds.Corpus), out)
	return nil
}
