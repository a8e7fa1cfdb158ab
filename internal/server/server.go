// Package server is the HTTP adapter over the coordinator and repository.
// It translates transport concerns (routing, status codes, JSON bodies) and
// holds no grading logic of its own.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/webtech-network/autograder-sub001/internal/coordinator"
	"github.com/webtech-network/autograder-sub001/internal/criteria"
	"github.com/webtech-network/autograder-sub001/internal/logging"
	"github.com/webtech-network/autograder-sub001/internal/sandbox"
	"github.com/webtech-network/autograder-sub001/internal/store"
	"github.com/webtech-network/autograder-sub001/internal/template"
	"github.com/webtech-network/autograder-sub001/internal/types"
)

// Server routes the grading API.
type Server struct {
	repo     store.Repository
	coord    *coordinator.Coordinator
	registry *template.Registry
	pools    *sandbox.Manager
	mux      *http.ServeMux
}

// New builds the adapter. pools may be nil when the daemon runs without
// sandboxes (static-analysis only deployments).
func New(repo store.Repository, coord *coordinator.Coordinator, registry *template.Registry, pools *sandbox.Manager) *Server {
	s := &Server{
		repo:     repo,
		coord:    coord,
		registry: registry,
		pools:    pools,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /configs", s.createConfig)
	s.mux.HandleFunc("GET /configs/{id}", s.getConfig)
	s.mux.HandleFunc("GET /assignments/{assignment}/config", s.getActiveConfig)
	s.mux.HandleFunc("DELETE /assignments/{assignment}/config", s.deactivateConfig)
	s.mux.HandleFunc("POST /submissions", s.createSubmission)
	s.mux.HandleFunc("GET /submissions/{id}", s.getSubmission)
	s.mux.HandleFunc("POST /submissions/{id}/cancel", s.cancelSubmission)
	s.mux.HandleFunc("GET /healthz", s.health)
	return s
}

// Handler returns the routed handler wrapped with access logging.
func (s *Server) Handler() http.Handler {
	return accessLog(s.mux)
}

// =============================================================================
// CONFIG ENDPOINTS
// =============================================================================

func (s *Server) createConfig(w http.ResponseWriter, r *http.Request) {
	var cfg types.GradingConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid config body: %w", err))
		return
	}
	if cfg.AssignmentID == "" {
		writeError(w, http.StatusBadRequest, errors.New("external_assignment_id is required"))
		return
	}

	// Reject rubrics the pipeline could never grade. Configs without a
	// declared language list are only template-checked here; the tree build
	// then runs per submission with the submitted language.
	tpl, err := s.registry.Lookup(cfg.Template)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	for _, lang := range cfg.Languages {
		if _, err := criteria.Build(&cfg.Criteria, tpl, lang); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
	}

	if err := s.repo.CreateConfig(r.Context(), &cfg); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &cfg)
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("config id must be numeric"))
		return
	}
	cfg, err := s.repo.ConfigByID(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) getActiveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.repo.ActiveConfig(r.Context(), r.PathValue("assignment"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) deactivateConfig(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.DeactivateConfig(r.Context(), r.PathValue("assignment")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SUBMISSION ENDPOINTS
// =============================================================================

type submitBody struct {
	AssignmentID string                 `json:"external_assignment_id"`
	UserID       string                 `json:"external_user_id"`
	Username     string                 `json:"username"`
	Language     string                 `json:"language"`
	Files        []types.SubmissionFile `json:"files"`
}

type submissionView struct {
	ID         string                   `json:"id"`
	Status     types.SubmissionStatus   `json:"status"`
	FinalScore *float64                 `json:"final_score,omitempty"`
	ResultTree *types.ResultTree        `json:"result_tree,omitempty"`
	Focus      *types.Focus             `json:"focus,omitempty"`
	Feedback   string                   `json:"feedback,omitempty"`
	Execution  *types.PipelineExecution `json:"pipeline_execution,omitempty"`
}

func (s *Server) createSubmission(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid submission body: %w", err))
		return
	}

	sub, err := s.coord.Submit(r.Context(), coordinator.SubmitRequest{
		AssignmentID: body.AssignmentID,
		UserID:       body.UserID,
		Username:     body.Username,
		Language:     body.Language,
		Files:        body.Files,
	})
	if err != nil {
		if types.KindOf(err) == types.KindConfigMissing {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submissionView{ID: sub.ID, Status: sub.Status})
}

func (s *Server) getSubmission(w http.ResponseWriter, r *http.Request) {
	sub, result, err := s.coord.Poll(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	view := submissionView{ID: sub.ID, Status: sub.Status}
	if result != nil {
		view.FinalScore = &result.FinalScore
		view.ResultTree = result.ResultTree
		view.Focus = result.Focus
		view.Feedback = result.Feedback
		view.Execution = result.Execution
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) cancelSubmission(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Cancel(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeStoreError(w, err)
			return
		}
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// =============================================================================
// HEALTH
// =============================================================================

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if s.pools != nil {
		resp["pools"] = s.pools.Status()
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error(logging.CategoryAPI, "response encoding failed: %v", err)
	}
}

type errorBody struct {
	Error   string         `json:"error"`
	Kind    types.Kind     `json:"kind,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	body := errorBody{Error: err.Error()}
	if te := types.AsError(err); te != nil {
		body.Kind = te.Kind
		body.Details = te.Details
	}
	writeJSON(w, status, body)
}

// writeStoreError maps repository sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case types.KindOf(err) == types.KindConfigMissing:
		writeError(w, http.StatusNotFound, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// accessLog records one line per request in the api category.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		logging.Get(logging.CategoryAPI).Info("%s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
