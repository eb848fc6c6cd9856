package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/auth"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
)

type registerRequest struct {
	Name *string `json:"name"`
}

type agentResponse struct {
	ID        model.AgentID `json:"id"`
	Name      *string       `json:"name"`
	APIKey    model.APIKey  `json:"api_key"`
	CreatedAt time.Time     `json:"created_at"`
}

type registerResponse struct {
	Success bool           `json:"success"`
	Agent   *agentResponse `json:"agent"`
}

type storeResponse struct {
	Success bool                `json:"success"`
	Memory  *model.MemoryRecord `json:"memory"`
}

type listResponse struct {
	Success  bool                  `json:"success"`
	Memories []*model.MemoryRecord `json:"memories"`
}

type searchResponse struct {
	Success bool                  `json:"success"`
	Results []*model.SearchResult `json:"results"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req registerRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(ctx, w, err, "Internal server error")
		return
	}

	reg, err := s.agents.Register(ctx, req.Name)
	if err != nil {
		writeError(ctx, w, err, "Failed to create agent")
		return
	}

	resp := &agentResponse{
		ID:        reg.Agent.ID,
		APIKey:    reg.APIKey,
		CreatedAt: reg.Agent.CreatedAt,
	}
	if req.Name != nil {
		resp.Name = &reg.Agent.Name
	}

	writeJSON(ctx, w, http.StatusOK, &registerResponse{Success: true, Agent: resp})
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input memory.StoreInput
	if err := decodeBody(w, r, &input); err != nil {
		writeError(ctx, w, err, "Internal server error")
		return
	}

	record, err := s.memory.Store(ctx, auth.AgentFrom(ctx), input)
	if err != nil {
		writeError(ctx, w, err, "Failed to store memory")
		return
	}

	writeJSON(ctx, w, http.StatusOK, &storeResponse{Success: true, Memory: record})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input memory.ListInput
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			writeError(ctx, w, model.NewValidationError("limit", "limit must be a positive integer",
				goerr.V("limit", raw)), "Internal server error")
			return
		}
		input.Limit = &limit
	}

	records, err := s.memory.List(ctx, auth.AgentFrom(ctx), input)
	if err != nil {
		writeError(ctx, w, err, "Failed to fetch memories")
		return
	}
	if records == nil {
		records = []*model.MemoryRecord{}
	}

	writeJSON(ctx, w, http.StatusOK, &listResponse{Success: true, Memories: records})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var input memory.SearchInput
	if err := decodeBody(w, r, &input); err != nil {
		writeError(ctx, w, err, "Internal server error")
		return
	}

	results, err := s.memory.Search(ctx, auth.AgentFrom(ctx), input)
	if err != nil {
		writeError(ctx, w, err, "Search failed")
		return
	}
	if results == nil {
		results = []*model.SearchResult{}
	}

	writeJSON(ctx, w, http.StatusOK, &searchResponse{Success: true, Results: results})
}
