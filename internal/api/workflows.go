package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/crewflow/internal/core"
	"github.com/hugo-lorenzo-mato/crewflow/internal/history"
	"github.com/hugo-lorenzo-mato/crewflow/internal/orchestrator"
)

// CreateWorkflowRequest is the request body for creating a workflow.
type CreateWorkflowRequest struct {
	Template    string         `json:"template"`
	Inputs      map[string]any `json:"inputs"`
	Agent       string         `json:"agent,omitempty"`
	Strategy    string         `json:"strategy,omitempty"`
	MaxParallel int            `json:"max_parallel,omitempty"`
	ID          string         `json:"id,omitempty"`
}

// WorkflowResponse is the API response for a workflow.
type WorkflowResponse struct {
	core.WorkflowStatus
	Template string        `json:"template,omitempty"`
	Agent    string        `json:"agent,omitempty"`
	Strategy core.Strategy `json:"strategy,omitempty"`
}

func runResponse(r *orchestrator.Run) WorkflowResponse {
	return WorkflowResponse{
		WorkflowStatus: r.Status(),
		Template:       r.Template,
		Agent:          r.Agent,
		Strategy:       r.Strategy(),
	}
}

// handleListWorkflows lists the runs of this process in creation order.
func (s *Server) handleListWorkflows(w http.ResponseWriter, _ *http.Request) {
	statuses := s.orch.List()
	resp := make([]WorkflowResponse, 0, len(statuses))
	for _, st := range statuses {
		if r, err := s.orch.Get(st.ID); err == nil {
			resp = append(resp, runResponse(r))
			continue
		}
		resp = append(resp, WorkflowResponse{WorkflowStatus: st})
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleCreateWorkflow creates a run and starts it in the background.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Template == "" {
		s.respondError(w, http.StatusBadRequest, "template is required")
		return
	}
	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}

	run, err := s.orch.CreateWorkflow(r.Context(), req.Template, req.Inputs, orchestrator.CreateOptions{
		Agent:       req.Agent,
		Strategy:    core.Strategy(req.Strategy),
		MaxParallel: req.MaxParallel,
		ID:          core.WorkflowID(req.ID),
	})
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if err := run.Start(s.runCtx); err != nil {
		s.respondDomainError(w, err)
		return
	}

	s.logger.Info("workflow started over HTTP", "workflow_id", run.ID(), "template", req.Template)
	w.Header().Set("Location", "/api/v1/workflows/"+string(run.ID()))
	s.respondJSON(w, http.StatusAccepted, runResponse(run))
}

// handleGetWorkflow returns a live run or, failing that, its history record.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	if run, err := s.orch.Get(id); err == nil {
		s.respondJSON(w, http.StatusOK, runResponse(run))
		return
	}
	status, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, WorkflowResponse{WorkflowStatus: status})
}

// handleCancelWorkflow requests cancellation. Running steps finish first.
func (s *Server) handleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	id := core.WorkflowID(chi.URLParam(r, "workflowID"))
	run, err := s.orch.Get(id)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	run.Cancel()
	s.respondJSON(w, http.StatusAccepted, runResponse(run))
}

// handleHistory lists recorded runs, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := history.Filter{
		Template: q.Get("template"),
		State:    core.WorkflowState(q.Get("state")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = limit
	}
	records, err := s.orch.History(r.Context(), f)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	s.respondJSON(w, http.StatusOK, records)
}
