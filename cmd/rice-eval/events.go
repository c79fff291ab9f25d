package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show journaled evaluation events",
		Long: `Read the event journal written when bus.journal_path is set
(RICE_EVAL_EVENT_JOURNAL) and print its entries in order.

Examples:
  rice-eval events --run 3f1c...
  rice-eval events --journal events.jsonl --since 1h --format json`,
		RunE: runEvents,
	}

	cmd.Flags().String("journal", "", "journal file (defaults to bus.journal_path)")
	cmd.Flags().String("run", "", "only events of this run id")
	cmd.Flags().Duration("since", 0, "only events newer than this (e.g. 30m)")
	cmd.Flags().Int("limit", 0, "maximum events shown (0 = all)")

	return cmd
}

func runEvents(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	if err := checkFormat(format); err != nil {
		return err
	}

	path, _ := flags.GetString("journal")
	if path == "" {
		configPath, _ := flags.GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		path = cfg.Bus.JournalPath
	}
	if path == "" {
		return fmt.Errorf("no journal: pass --journal or set bus.journal_path")
	}

	var since time.Time
	if d, _ := flags.GetDuration("since"); d > 0 {
		since = time.Now().Add(-d)
	}
	runID, _ := flags.GetString("run")
	limit, _ := flags.GetInt("limit")

	// The limit applies after the run filter.
	readLimit := limit
	if runID != "" {
		readLimit = 0
	}
	entries, err := bus.ReadJournal(path, since, readLimit)
	if err != nil {
		return err
	}
	if runID != "" {
		entries = bus.RunEntries(entries, runID)
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
	}

	return printEvents(cmd.OutOrStdout(), format, entries)
}

func printEvents(w io.Writer, format string, entries []bus.JournalEntry) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(w, "No events")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTOPIC\tRUN\tPAYLOAD")
	for _, e := range entries {
		payload, err := json.Marshal(e.Event.Payload)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Topic, e.Event.CorrelationID, payload)
	}
	return tw.Flush()
}
