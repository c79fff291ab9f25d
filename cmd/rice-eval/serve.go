package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/evaluation"
	"github.com/ricesearch/rice-eval/internal/results"
	"github.com/ricesearch/rice-eval/internal/retriever"
	"github.com/ricesearch/rice-eval/internal/server"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation API server",
		Long: `Serve the evaluation API over HTTP:
- POST /v1/evaluation/evaluate  evaluate a dataset
- POST /v1/evaluation/query     evaluate a single query
- GET  /v1/evaluation/metrics   list metrics
- GET  /v1/runs                 stored runs (when a results store is set)
- GET  /v1/runs/{id}/events     journaled run events (when bus.journal_path is set)
- GET  /healthz, /readyz, /metrics`,
		RunE: runServe,
	}

	cmd.Flags().IntP("port", "p", 0, "HTTP server port")
	cmd.Flags().String("host", "", "HTTP server host")
	addRetrieverFlags(cmd)

	return cmd
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Server.Port, _ = cmd.Flags().GetInt("port")
	}
	if v, _ := cmd.Flags().GetString("host"); v != "" {
		cfg.Server.Host = v
	}
}

// qdrantHealth is implemented by the Qdrant client a qdrant retriever holds.
type qdrantHealth interface {
	HealthCheck(ctx context.Context) (string, error)
	CollectionExists(ctx context.Context, collection string) (bool, error)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd, applyRetrieverFlags, applyServeFlags)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signalContext(cmd)
	defer stop()

	a.log.Info("Starting Rice Eval server",
		"version", version,
		"addr", a.cfg.Address(),
		"retriever", a.cfg.Retriever.Type,
	)

	policy, err := evaluation.ParseFailurePolicy(a.cfg.Eval.FailurePolicy)
	if err != nil {
		return err
	}

	r, retrieverCloser, err := retriever.New(ctx, a.cfg.Retriever, a.retrieverDeps(nil))
	if err != nil {
		return fmt.Errorf("failed to create retriever: %w", err)
	}
	closers := []io.Closer{retrieverCloser}

	store, err := results.New(a.cfg.Results, a.log)
	if err != nil {
		_ = retrieverCloser.Close()
		return fmt.Errorf("failed to open results store: %w", err)
	}

	handlerCfg := evaluation.HandlerConfig{
		Metrics:   a.cfg.Eval.Metrics,
		Workers:   a.cfg.Eval.Workers,
		Policy:    policy,
		Publisher: a.bus,
	}
	if store != nil {
		handlerCfg.OnRun = store.Save
		closers = append(closers, store)
	}
	handler := evaluation.NewHandler(evaluation.DefaultRegistry(), r, handlerCfg, a.log,
		evaluation.WithTelemetry(a.telemetry),
	)

	checks := map[string]server.CheckFunc{}
	if qc, ok := retrieverCloser.(qdrantHealth); ok {
		collection := a.cfg.Qdrant.Collection
		checks["qdrant"] = func(ctx context.Context) error {
			if _, err := qc.HealthCheck(ctx); err != nil {
				return err
			}
			exists, err := qc.CollectionExists(ctx, collection)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("collection %s not found", collection)
			}
			return nil
		}
	}

	deps := server.Deps{
		Evaluation: handler,
		Checks:     checks,
		Closers:    closers,
	}
	if store != nil {
		deps.Runs = store
	}
	if a.journal != nil {
		deps.Events = a.journal
	}
	if a.cfg.Observability.MetricsEnabled {
		deps.Gatherer = a.registry
	}

	srv, err := server.New(server.ConfigFrom(*a.cfg, version), deps, a.log)
	if err != nil {
		for _, c := range closers {
			_ = c.Close()
		}
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		a.log.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = srv.Stop(context.Background())
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
