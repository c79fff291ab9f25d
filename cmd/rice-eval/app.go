package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
	"github.com/ricesearch/rice-eval/internal/retriever"
	"github.com/ricesearch/rice-eval/internal/telemetry"
)

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// app holds what every command shares: config, logger, metrics and bus.
type app struct {
	cfg       *config.Config
	log       *logger.Logger
	registry  *prometheus.Registry
	telemetry *telemetry.Metrics
	bus       bus.Bus
	journal   *bus.Journal // nil unless bus.journal_path is set
}

// newApp loads the config named by --config, applies the command's flag
// overrides and validates the result.
func newApp(cmd *cobra.Command, overrides ...func(*cobra.Command, *config.Config)) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	for _, o := range overrides {
		o(cmd, cfg)
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.New(reg)

	b, journal, err := newBus(cfg.Bus, metrics, log)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:       cfg,
		log:       log,
		registry:  reg,
		telemetry: metrics,
		bus:       b,
		journal:   journal,
	}, nil
}

// newBus builds the configured bus, journaled when a journal path is set and
// instrumented with metrics.
func newBus(cfg config.BusConfig, metrics *telemetry.Metrics, log *logger.Logger) (bus.Bus, *bus.Journal, error) {
	b, err := bus.NewBus(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	var journal *bus.Journal
	if cfg.JournalPath != "" {
		journal, err = bus.OpenJournal(cfg.JournalPath)
		if err != nil {
			_ = b.Close()
			return nil, nil, err
		}
		b = bus.NewJournaledBus(b, journal, log)
		log.Info("Event journal enabled", "path", cfg.JournalPath)
	}
	return bus.NewInstrumentedBus(b, metrics), journal, nil
}

func (a *app) retrieverDeps(queries map[string]string) retriever.Deps {
	return retriever.Deps{
		Qdrant:    a.cfg.Qdrant,
		LLM:       a.cfg.LLM,
		Queries:   queries,
		Telemetry: a.telemetry,
		Log:       a.log,
	}
}

func (a *app) close() {
	if err := a.bus.Close(); err != nil {
		a.log.Warn("Error closing event bus", "error", err)
	}
}

// signalContext is cancelled on the first shutdown signal.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, shutdownSignals...)
}

// addRetrieverFlags adds the flags that select the retriever under test.
func addRetrieverFlags(cmd *cobra.Command) {
	cmd.Flags().String("retriever", "", "retriever type (http, qdrant, static)")
	cmd.Flags().String("url", "", "rice-search API URL")
	cmd.Flags().String("search-store", "", "rice-search store to query")
	cmd.Flags().String("run", "", "precomputed run file (implies --retriever static)")
	cmd.Flags().Int("top-k", 0, "results retrieved per query")
	cmd.Flags().String("collection", "", "Qdrant collection (implies --retriever qdrant)")
	cmd.Flags().Float64("rate-limit", 0, "retriever requests per second (0 = unlimited)")
}

func applyRetrieverFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if v, _ := flags.GetString("url"); v != "" {
		cfg.Retriever.URL = v
	}
	if v, _ := flags.GetString("search-store"); v != "" {
		cfg.Retriever.Store = v
	}
	if v, _ := flags.GetString("run"); v != "" {
		cfg.Retriever.RunFile = v
		cfg.Retriever.Type = retriever.TypeStatic
	}
	if v, _ := flags.GetString("collection"); v != "" {
		cfg.Qdrant.Collection = v
		cfg.Retriever.Type = retriever.TypeQdrant
	}
	if v, _ := flags.GetString("retriever"); v != "" {
		cfg.Retriever.Type = v
	}
	if flags.Changed("top-k") {
		cfg.Retriever.TopK, _ = flags.GetInt("top-k")
	}
	if flags.Changed("rate-limit") {
		cfg.Retriever.RateLimit, _ = flags.GetFloat64("rate-limit")
	}
}
