package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/dataset"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/results"
	"github.com/ricesearch/rice-eval/internal/retriever"
)

func evaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a retriever against a labelled dataset",
		Long: `Run every query of a dataset against the configured retriever and
score the ranked results.

The retriever is taken from the config file unless overridden:
  --url/--search-store  query a rice-search HTTP API
  --collection          query a Qdrant collection directly
  --run                 score a precomputed run file

Under the fail_fast policy the first failing query aborts the run. Under
continue every query is evaluated and failures are listed in the report.`,
		RunE: runEvaluate,
	}

	cmd.Flags().StringP("dataset", "d", "", "dataset file (JSON)")
	cmd.Flags().StringSlice("metrics", nil, "metrics to compute, e.g. hit_rate,mrr,ndcg@10")
	cmd.Flags().IntP("workers", "w", 0, "concurrent evaluations")
	cmd.Flags().String("policy", "", "failure policy (fail_fast, continue)")
	cmd.Flags().StringP("output", "o", "", "write the full run as JSON to this file")
	cmd.Flags().Bool("store", false, "save the run to the configured results store")
	addRetrieverFlags(cmd)
	_ = cmd.MarkFlagRequired("dataset")

	return cmd
}

func applyEvalFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if v, _ := flags.GetStringSlice("metrics"); len(v) > 0 {
		cfg.Eval.Metrics = v
	}
	if flags.Changed("workers") {
		cfg.Eval.Workers, _ = flags.GetInt("workers")
	}
	if v, _ := flags.GetString("policy"); v != "" {
		cfg.Eval.FailurePolicy = v
	}
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}
	datasetPath, _ := cmd.Flags().GetString("dataset")
	outputPath, _ := cmd.Flags().GetString("output")
	persist, _ := cmd.Flags().GetBool("store")

	a, err := newApp(cmd, applyRetrieverFlags, applyEvalFlags)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	ds, err := dataset.Load(datasetPath)
	if err != nil {
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	policy, err := evaluation.ParseFailurePolicy(a.cfg.Eval.FailurePolicy)
	if err != nil {
		return err
	}

	var store results.Store
	if persist {
		store, err = results.New(a.cfg.Results, a.log)
		if err != nil {
			return fmt.Errorf("failed to open results store: %w", err)
		}
		if store == nil {
			return fmt.Errorf("--store requires results.type file or redis")
		}
		defer store.Close()
	}

	r, closer, err := retriever.New(ctx, a.cfg.Retriever, a.retrieverDeps(ds.Queries))
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}
	defer closer.Close()

	e, err := evaluation.NewEvaluatorFromNames(evaluation.DefaultRegistry(), a.cfg.Eval.Metrics, r,
		evaluation.WithLogger(a.log),
		evaluation.WithTelemetry(a.telemetry),
	)
	if err != nil {
		return err
	}

	a.log.Info("Evaluating dataset",
		"dataset", datasetPath,
		"queries", ds.Len(),
		"metrics", strings.Join(e.MetricNames(), ","),
		"workers", a.cfg.Eval.Workers,
		"policy", policy.String(),
	)

	run, err := evaluation.NewRunner(e).Run(ctx, ds,
		evaluation.WithWorkers(a.cfg.Eval.Workers),
		evaluation.WithFailurePolicy(policy),
		evaluation.WithRunPublisher(a.bus),
		evaluation.WithDatasetName(datasetName(datasetPath)),
		evaluation.WithProgress(func(done, total int) {
			a.log.Debug("Query evaluated", "done", done, "total", total)
		}),
	)
	if err != nil {
		return err
	}

	if outputPath != "" {
		if err := writeRunFile(outputPath, run); err != nil {
			return err
		}
		a.log.Info("Wrote run", "path", outputPath)
	}
	if store != nil {
		if err := store.Save(context.WithoutCancel(ctx), run); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
		a.log.Info("Saved run", "run_id", run.ID, "results", a.cfg.Results.Type)
	}

	return printRun(cmd.OutOrStdout(), format, run)
}

// datasetName labels a run with the dataset file name without extension.
func datasetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func checkFormat(format string) error {
	switch format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("invalid format: %s (must be text or json)", format)
	}
}

func writeRunFile(path string, run *evaluation.Run) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// printRun writes the run summary. The json format prints the whole run.
func printRun(w io.Writer, format string, run *evaluation.Run) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	fmt.Fprintf(w, "Run %s\n", run.ID)
	if run.Dataset != "" {
		fmt.Fprintf(w, "  dataset:  %s\n", run.Dataset)
	}
	fmt.Fprintf(w, "  queries:  %d\n", run.Summary.QueryCount)
	fmt.Fprintf(w, "  workers:  %d\n", run.Workers)
	fmt.Fprintf(w, "  duration: %s\n\n", run.Duration().Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "METRIC\tMEAN")
	for _, name := range run.Metrics {
		fmt.Fprintf(tw, "%s\t%.4f\n", name, run.Summary.Mean[name])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(run.Failures) > 0 {
		fmt.Fprintf(w, "\n%d failed queries:\n", len(run.Failures))
		for _, f := range run.Failures {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
	return nil
}
