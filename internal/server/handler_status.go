package server

import (
	"net/http"

	"github.com/me/classq/pkg/model"
)

// handleStatus reports the current run's counters.
// GET /api/v1/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.sched.Status())
}

// handleListItems reports the per-item view of the current run.
// GET /api/v1/items
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	items := s.sched.Items()
	if state := r.URL.Query().Get("state"); state != "" {
		filtered := items[:0]
		for _, it := range items {
			if string(it.State) == state {
				filtered = append(filtered, it)
			}
		}
		items = filtered
	}
	respondOK(w, reqID, items)
}

// handleListResults returns persisted method results for the current run,
// optionally filtered by class.
// GET /api/v1/results?run_id=...&class=...
func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.store == nil {
		respondError(w, reqID, http.StatusNotImplemented, model.NewInternalError("no results store configured"))
		return
	}

	runID := r.URL.Query().Get("run_id")
	if runID == "" {
		runID = s.sched.RunID()
	}
	classPath := r.URL.Query().Get("class")

	results, err := s.store.ListMethodResults(r.Context(), runID, classPath)
	if err != nil {
		s.logger.Error("list method results failed", "run_id", runID, "error", err)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("failed to query results"))
		return
	}
	respondOK(w, reqID, results)
}

// handleListRuns returns all recorded runs.
// GET /api/v1/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.store == nil {
		respondError(w, reqID, http.StatusNotImplemented, model.NewInternalError("no results store configured"))
		return
	}

	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		respondError(w, reqID, http.StatusInternalServerError, model.NewInternalError("failed to query runs"))
		return
	}
	respondOK(w, reqID, runs)
}

// handleListRunners returns the runners currently attached to the server.
// GET /api/v1/runners
func (s *Server) handleListRunners(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.runners.List())
}
