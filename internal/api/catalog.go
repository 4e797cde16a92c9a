package api

import (
	"net/http"
	"sort"

	"github.com/hugo-lorenzo-mato/crewflow/internal/agent"
)

// AgentsResponse describes the registered agent types and the profiles of
// the agent configuration document.
type AgentsResponse struct {
	Types        []agent.Availability `json:"types"`
	AgentEnabled bool                 `json:"agent_enabled"`
	CurrentAgent string               `json:"current_agent,omitempty"`
	Profiles     []string             `json:"profiles"`
}

// handleListTemplates lists workflow templates, with the overrides of the
// ?agent= profile applied.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	list, err := s.orch.TemplateSummaries(r.URL.Query().Get("agent"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, list)
}

// handleListAgents lists agent types and configured profiles.
func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	c := s.orch.Context()
	available := c.Factory.Available()
	resp := AgentsResponse{
		Types:    make([]agent.Availability, 0, len(available)),
		Profiles: []string{},
	}
	for _, av := range available {
		resp.Types = append(resp.Types, av)
	}
	sort.Slice(resp.Types, func(i, j int) bool {
		return resp.Types[i].Metadata.Type < resp.Types[j].Metadata.Type
	})
	if doc := c.Document(); doc != nil {
		resp.AgentEnabled = doc.AgentEnabled
		resp.CurrentAgent = doc.CurrentAgent
		resp.Profiles = doc.ProfileNames()
	}
	s.respondJSON(w, http.StatusOK, resp)
}
