// Package main provides the rice-eval binary.
// It scores retrievers against labelled datasets, generates synthetic
// datasets from documents and serves the evaluation API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rice-eval",
		Short: "Rice Eval - retrieval quality evaluation",
		Long: `Rice Eval measures how well a retriever ranks relevant documents.

It runs every query of a labelled dataset against a retriever, scores the
ranked results with retrieval metrics (hit rate, MRR, NDCG, precision,
recall, ...) and aggregates them into a summary.

Examples:
  rice-eval evaluate -d dataset.json --metrics hit_rate,mrr
  rice-eval evaluate -d dataset.json --run run.json --format json
  rice-eval generate --docs ./docs --out dataset.json --questions 3
  rice-eval serve --port 8090
  rice-eval events --run <run-id>
  rice-eval metrics`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		evaluateCmd(),
		generateCmd(),
		serveCmd(),
		metricsCmd(),
		eventsCmd(),
		versionCmd(),
	)

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "rice-eval %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}
