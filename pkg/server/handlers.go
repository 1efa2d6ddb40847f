package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/teleologic/telos/pkg/errors"
	"github.com/teleologic/telos/pkg/logging"
	"github.com/teleologic/telos/pkg/schema"
	"github.com/teleologic/telos/pkg/storage"
)

// maxBodyBytes bounds request bodies; goal schemas and arguments are small.
const maxBodyBytes = 1 << 20

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type declareRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Inputs      []schema.Param `json:"inputs"`
	Output      schema.Type    `json:"output"`
}

func (s *Server) handleDeclareGoal(w http.ResponseWriter, r *http.Request) {
	var req declareRequest
	if !decodeBody(w, r, &req) {
		return
	}

	goal := &schema.Goal{
		Name:        req.Name,
		Description: req.Description,
		Inputs:      req.Inputs,
		Output:      req.Output,
		CreatedAt:   time.Now().UTC(),
	}
	if err := goal.Validate(); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.store.CreateGoal(goal); err != nil {
		s.writeError(w, err)
		return
	}

	s.logger.Info(logging.CategoryServer, "goal_declared", "goal declared", map[string]any{
		"goal": goal.Name,
	})
	writeJSON(w, http.StatusCreated, goal)
}

func (s *Server) handleListGoals(w http.ResponseWriter, r *http.Request) {
	goals, err := s.store.ListGoals()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if goals == nil {
		goals = []*schema.Goal{}
	}
	writeJSON(w, http.StatusOK, goals)
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	goal, err := s.store.GetGoal(chi.URLParam(r, "goal"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, goal)
}

type invokeRequest struct {
	Args map[string]any `json:"args"`
}

type invokeResponse struct {
	Output any `json:"output"`
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	output, err := s.router.Invoke(r.Context(), chi.URLParam(r, "goal"), req.Args)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, invokeResponse{Output: output})
}

type putTruthRequest struct {
	Args     map[string]any `json:"args"`
	Expected any            `json:"expected"`
}

func (s *Server) handlePutTruth(w http.ResponseWriter, r *http.Request) {
	var req putTruthRequest
	if !decodeBody(w, r, &req) {
		return
	}

	entry, err := s.truth.Put(chi.URLParam(r, "goal"), req.Args, req.Expected)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleGetTruth(w http.ResponseWriter, r *http.Request) {
	entries, err := s.truth.GetAll(chi.URLParam(r, "goal"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	result, err := s.synth.Synthesize(r.Context(), chi.URLParam(r, "goal"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := s.store.ListProposals(chi.URLParam(r, "goal"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if proposals == nil {
		proposals = []*storage.Proposal{}
	}
	writeJSON(w, http.StatusOK, proposals)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProposal(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGetChain(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.GetRegistryChain(chi.URLParam(r, "goal"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []*storage.RegistryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleQueryLog(w http.ResponseWriter, r *http.Request) {
	filter := storage.InvocationFilter{}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			s.writeError(w, errors.New(errors.ErrCodeInvalidInput, "since must be RFC 3339"))
			return
		}
		filter.Since = t
	}
	if r.URL.Query().Get("final") == "true" {
		filter.FinalOnly = true
	}

	records, err := s.store.QueryInvocations(chi.URLParam(r, "goal"), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*storage.InvocationRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "budgets disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Status())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("INVALID_INPUT", "request body is not valid JSON"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(code, message string) map[string]any {
	return map[string]any{
		"error": map[string]string{"code": code, "message": message},
	}
}

// writeError maps domain error codes onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if err == storage.ErrNotFound {
		writeJSON(w, http.StatusNotFound, errorBody("NOT_FOUND", "not found"))
		return
	}

	code := errors.GetCode(err)
	status := http.StatusInternalServerError
	switch code {
	case errors.ErrCodeGoalNotFound:
		status = http.StatusNotFound
	case errors.ErrCodeGoalExists, errors.ErrCodeSynthesisInFlight:
		status = http.StatusConflict
	case errors.ErrCodeSchemaInvalid, errors.ErrCodeSchemaMismatch, errors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case errors.ErrCodeSynthesisNoTruth:
		status = http.StatusPreconditionFailed
	case errors.ErrCodeBudgetExceeded:
		status = http.StatusTooManyRequests
	case errors.ErrCodeSolversExhausted:
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error(logging.CategoryServer, "internal_error", "request failed", map[string]any{
			"error": err.Error(),
		})
	}
	writeJSON(w, status, errorBody(string(code), err.Error()))
}
