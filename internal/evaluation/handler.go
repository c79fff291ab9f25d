package evaluation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/dataset"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// HandlerConfig holds the defaults applied to requests that omit them.
type HandlerConfig struct {
	Metrics   []string
	Workers   int
	Policy    FailurePolicy
	Publisher bus.Bus

	// OnRun is called with every completed run, e.g. to persist it.
	OnRun func(ctx context.Context, run *Run) error
}

// Handler provides HTTP handlers for evaluation.
type Handler struct {
	registry  *Registry
	retriever Retriever
	cfg       HandlerConfig
	opts      []Option
	log       *logger.Logger
}

// NewHandler creates a new evaluation handler scoring retriever with metrics
// from reg. opts are applied to every evaluator the handler builds.
func NewHandler(reg *Registry, retriever Retriever, cfg HandlerConfig, log *logger.Logger, opts ...Option) *Handler {
	if reg == nil {
		reg = DefaultRegistry()
	}
	if log == nil {
		log = logger.Discard()
	}
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	return &Handler{
		registry:  reg,
		retriever: retriever,
		cfg:       cfg,
		opts:      append([]Option{WithLogger(log)}, opts...),
		log:       log,
	}
}

// RegisterRoutes registers evaluation routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/evaluation/evaluate", h.handleEvaluate)
	mux.HandleFunc("POST /v1/evaluation/query", h.handleQuery)
	mux.HandleFunc("GET /v1/evaluation/metrics", h.handleMetrics)
}

// EvaluateRequest is the body of POST /v1/evaluation/evaluate.
type EvaluateRequest struct {
	Dataset       *dataset.Dataset `json:"dataset"`
	Metrics       []string         `json:"metrics,omitempty"`
	Workers       int              `json:"workers,omitempty"`
	FailurePolicy string           `json:"failure_policy,omitempty"`
}

// EvaluateResponse is the body returned by POST /v1/evaluation/evaluate.
type EvaluateResponse struct {
	RunID    string        `json:"run_id"`
	Results  []*EvalResult `json:"results"`
	Summary  *Summary      `json:"summary"`
	Failures []string      `json:"failures,omitempty"`
}

// QueryRequest is the body of POST /v1/evaluation/query.
type QueryRequest struct {
	Query       string   `json:"query"`
	ExpectedIDs []string `json:"expected_ids"`
	Metrics     []string `json:"metrics,omitempty"`
}

// MetricsResponse lists the registered metric names.
type MetricsResponse struct {
	Metrics []string `json:"metrics"`
}

func (h *Handler) evaluator(metrics []string) (*Evaluator, error) {
	if len(metrics) == 0 {
		metrics = h.cfg.Metrics
	}
	if len(metrics) == 0 {
		return nil, apperrors.ValidationError("at least one metric is required")
	}
	return NewEvaluatorFromNames(h.registry, metrics, h.retriever, h.opts...)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(apperrors.CodeValidation, "invalid request body", err))
		return
	}
	if req.Dataset == nil {
		apperrors.WriteError(w, apperrors.ValidationError("dataset is required"))
		return
	}
	if err := req.Dataset.Validate(); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	policy := h.cfg.Policy
	if req.FailurePolicy != "" {
		p, err := ParseFailurePolicy(req.FailurePolicy)
		if err != nil {
			apperrors.WriteError(w, err)
			return
		}
		policy = p
	}
	workers := h.cfg.Workers
	if req.Workers != 0 {
		workers = req.Workers
	}

	e, err := h.evaluator(req.Metrics)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	opts := []RunOption{
		WithWorkers(workers),
		WithFailurePolicy(policy),
		WithDatasetName("api"),
	}
	if h.cfg.Publisher != nil {
		opts = append(opts, WithRunPublisher(h.cfg.Publisher))
	}

	run, err := NewRunner(e).Run(r.Context(), req.Dataset, opts...)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	if h.cfg.OnRun != nil {
		if err := h.cfg.OnRun(r.Context(), run); err != nil {
			h.log.WithRun(run.ID).WithError(err).Warn("Failed to store run")
		}
	}

	writeJSON(w, http.StatusOK, EvaluateResponse{
		RunID:    run.ID,
		Results:  run.Results,
		Summary:  run.Summary,
		Failures: run.Failures,
	})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.Wrap(apperrors.CodeValidation, "invalid request body", err))
		return
	}

	e, err := h.evaluator(req.Metrics)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	res, err := e.Evaluate(r.Context(), req.Query, req.ExpectedIDs)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MetricsResponse{Metrics: h.registry.List()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
