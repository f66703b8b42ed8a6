// Package httpapi exposes a coordinator over HTTP.
package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.viam.com/rdk/logging"

	"pickplace"
)

const (
	// maxTrackedGoals bounds how many submitted goals GET /v1/goals/{id} remembers.
	maxTrackedGoals = 64
	maxBodyBytes    = 1 << 16
)

// Coordinator is the part of the coordinator the API needs.
type Coordinator interface {
	Submit(target pickplace.TargetPose) (*pickplace.Goal, error)
	Abort() *pickplace.Goal
	Status() pickplace.Status
}

// Server serves the API.
type Server struct {
	coord  Coordinator
	logger logging.Logger

	mu    sync.Mutex
	goals map[string]*pickplace.Goal
	order []string
}

// GoalResponse describes one goal.
type GoalResponse struct {
	GoalID    string `json:"goal_id"`
	Status    string `json:"status"`
	Waypoints int    `json:"waypoints,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// NewHandler returns the API routes. gatherer may be nil to leave out /metrics.
func NewHandler(coord Coordinator, gatherer prometheus.Gatherer, logger logging.Logger) http.Handler {
	s := &Server{
		coord:  coord,
		logger: logger,
		goals:  map[string]*pickplace.Goal{},
	}

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/v1", func(r chi.Router) {
		r.Post("/goals", s.SubmitGoal)
		r.Get("/goals/{id}", s.GetGoal)
		r.Post("/abort", s.Abort)
		r.Get("/status", s.GetStatus)
	})
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// SubmitGoal handles POST /v1/goals.
func (s *Server) SubmitGoal(w http.ResponseWriter, r *http.Request) {
	var req pickplace.GoalRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	target, err := req.Target()
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := s.coord.Submit(target)
	if err != nil {
		s.logger.Debugf("Rejected goal from %s: %v", r.RemoteAddr, err)
		writeError(w, err)
		return
	}
	s.track(g)
	writeJSON(w, http.StatusAccepted, GoalResponse{GoalID: g.ID, Status: "accepted"})
}

// GetGoal handles GET /v1/goals/{id}.
func (s *Server) GetGoal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	g, ok := s.goals[id]
	s.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown goal"})
		return
	}
	writeJSON(w, http.StatusOK, describe(g))
}

// Abort handles POST /v1/abort.
func (s *Server) Abort(w http.ResponseWriter, r *http.Request) {
	g := s.coord.Abort()
	if g == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"aborted": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"aborted": true, "goal_id": g.ID})
}

// GetStatus handles GET /v1/status.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.Status())
}

func (s *Server) track(g *pickplace.Goal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals[g.ID] = g
	s.order = append(s.order, g.ID)
	if len(s.order) > maxTrackedGoals {
		delete(s.goals, s.order[0])
		s.order = s.order[1:]
	}
}

func describe(g *pickplace.Goal) GoalResponse {
	resp := GoalResponse{GoalID: g.ID, Status: "planning", Waypoints: g.Waypoints()}
	select {
	case <-g.Done():
	default:
		select {
		case <-g.Planned():
			resp.Status = "executing"
		default:
		}
		return resp
	}

	switch err := g.Err(); {
	case err == nil:
		resp.Status = "succeeded"
	case errors.Is(err, pickplace.ErrAborted):
		resp.Status = "aborted"
		resp.Error = err.Error()
	default:
		resp.Status = "failed"
		resp.Error = err.Error()
	}
	return resp
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pickplace.ErrInvalidTarget):
		return http.StatusBadRequest
	case errors.Is(err, pickplace.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, pickplace.ErrNotRunning):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	//nolint:errcheck
	json.NewEncoder(w).Encode(body)
}
