package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/classq/pkg/model"
)

// registerRequest is the body of POST /api/v1/runners.
type registerRequest struct {
	Name     string `json:"name"`
	Hostname string `json:"hostname"`
}

// checkInRequest is the body of POST /api/v1/runners/{id}/checkin.
type checkInRequest struct {
	ClassPath string `json:"class_path"`
	TimedOut  bool   `json:"timed_out"`
}

// handleRegisterRunner registers a new runner and returns its assigned ID.
// POST /api/v1/runners
func (s *Server) handleRegisterRunner(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body"))
		return
	}
	if req.Name == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("validation failed",
			model.FieldError{Field: "name", Message: "name is required"}))
		return
	}

	runner := s.runners.Register(req.Name, req.Hostname)
	s.logger.Info("runner registered", "runner_id", runner.ID, "name", runner.Name, "hostname", runner.Hostname)
	respondCreated(w, reqID, runner)
}

// handleRunnerHeartbeat refreshes a runner's liveness.
// PUT /api/v1/runners/{id}/heartbeat
func (s *Server) handleRunnerHeartbeat(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if !s.runners.Heartbeat(id) {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("runner", id))
		return
	}
	respondOK(w, reqID, map[string]string{"runner_id": id})
}

// handleRunnerWork hands out the next work item for a runner. The request
// blocks until an item becomes available, the queue closes, or the client
// gives up. When nothing is handed out the response is 204; the
// X-Queue-Closed header tells the runner whether to exit or poll again.
// GET /api/v1/runners/{id}/work
func (s *Server) handleRunnerWork(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if _, ok := s.runners.Get(id); !ok {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("runner", id))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestWait())
	defer cancel()

	item := s.sched.RequestWork(ctx, id)
	if item == nil {
		if s.sched.Status().QueueClosed {
			w.Header().Set("X-Queue-Closed", "true")
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.runners.SetCurrent(id, item.ClassPath)
	respondOK(w, reqID, item)
}

// handleRunnerResult accepts one per-method outcome from a runner.
// POST /api/v1/runners/{id}/results
func (s *Server) handleRunnerResult(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var res model.MethodResult
	if err := json.NewDecoder(r.Body).Decode(&res); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body"))
		return
	}

	var fields []model.FieldError
	if res.ClassPath == "" {
		fields = append(fields, model.FieldError{Field: "class_path", Message: "class_path is required"})
	}
	if res.Method == "" {
		fields = append(fields, model.FieldError{Field: "method", Message: "method is required"})
	}
	if !res.Outcome.Valid() {
		fields = append(fields, model.FieldError{Field: "outcome", Message: "outcome must be pass, fail, or error"})
	}
	if len(fields) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("validation failed", fields...))
		return
	}

	res.RunnerID = id
	if res.ReportedAt.IsZero() {
		res.ReportedAt = time.Now().UTC()
	}

	// Stale or misattributed reports are dropped by the scheduler; the
	// runner still gets a 200 so it never retries them.
	s.sched.ReportResult(res)
	s.runners.Heartbeat(id)
	respondOK(w, reqID, map[string]string{"class_path": res.ClassPath, "method": res.Method})
}

// handleRunnerCheckIn releases a runner's hold on a class, optionally
// charging its timeout budget.
// POST /api/v1/runners/{id}/checkin
func (s *Server) handleRunnerCheckIn(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	var req checkInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid JSON body"))
		return
	}
	if req.ClassPath == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("validation failed",
			model.FieldError{Field: "class_path", Message: "class_path is required"}))
		return
	}

	s.sched.CheckInClass(id, req.ClassPath, req.TimedOut)
	s.runners.SetCurrent(id, "")
	s.runners.Heartbeat(id)
	respondOK(w, reqID, map[string]any{"class_path": req.ClassPath, "timed_out": req.TimedOut})
}
