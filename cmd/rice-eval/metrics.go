package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/evaluation"
)

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "List the available retrieval metrics",
		Long: `List every built-in metric name.

Any metric can be truncated to the first k retrieved documents by
appending @k, e.g. precision@5 or ndcg@10.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			if err := checkFormat(format); err != nil {
				return err
			}

			names := evaluation.DefaultRegistry().List()
			out := cmd.OutOrStdout()
			if format == "json" {
				return json.NewEncoder(out).Encode(evaluation.MetricsResponse{Metrics: names})
			}
			for _, name := range names {
				fmt.Fprintln(out, name)
			}
			return nil
		},
	}
}
