package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ricesearch/rice-eval/internal/bus"
	apperrors "github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// EventSource reads journaled events. *bus.Journal implements it.
type EventSource interface {
	Entries(since time.Time, limit int) ([]bus.JournalEntry, error)
}

// EventsHandler serves the journaled events of a run.
type EventsHandler struct {
	source EventSource
}

// NewEventsHandler creates a handler over source.
func NewEventsHandler(source EventSource) *EventsHandler {
	return &EventsHandler{source: source}
}

// EventsResponse is the body of GET /v1/runs/{id}/events.
type EventsResponse struct {
	RunID  string             `json:"run_id"`
	Events []bus.JournalEntry `json:"events"`
	Total  int                `json:"total"`
}

// RegisterRoutes registers event routes.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/runs/{id}/events", h.handleRunEvents)
}

func (h *EventsHandler) handleRunEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			apperrors.WriteError(w, apperrors.ValidationError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	entries, err := h.source.Entries(time.Time{}, 0)
	if err != nil {
		apperrors.WriteError(w, apperrors.StorageError("read event journal", err))
		return
	}
	events := bus.RunEntries(entries, id)
	if len(events) == 0 {
		apperrors.WriteError(w, apperrors.NotFoundError("events for run "+id))
		return
	}
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	writeJSON(w, http.StatusOK, EventsResponse{RunID: id, Events: events, Total: len(events)})
}
