package server

import (
	"net/http"

	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/results"
)

// RunsHandler serves stored evaluation runs.
type RunsHandler struct {
	store results.Store
}

// NewRunsHandler creates a handler over store.
func NewRunsHandler(store results.Store) *RunsHandler {
	return &RunsHandler{store: store}
}

// RunsResponse is the body of GET /v1/runs.
type RunsResponse struct {
	Runs  []results.RunInfo `json:"runs"`
	Total int               `json:"total"`
}

// RegisterRoutes registers run routes.
func (h *RunsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs", h.handleList)
	mux.HandleFunc("GET /v1/runs/{id}", h.handleGet)
	mux.HandleFunc("DELETE /v1/runs/{id}", h.handleDelete)
}

func (h *RunsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.List(r.Context())
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: infos, Total: len(infos)})
}

func (h *RunsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	run, err := h.store.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *RunsHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), r.PathValue("id")); err != nil {
		apperrors.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
