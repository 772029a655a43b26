package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"agentpay/ledger"
	"agentpay/settlement"
)

// CreateAgent registers a marketplace listing.
func (s *Server) CreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string          `json:"name"`
		WalletAddress string          `json:"wallet_address"`
		Price         decimal.Decimal `json:"price"`
		Description   string          `json:"description"`
		ImageURL      string          `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	agent, err := s.coordinator.RegisterAgent(r.Context(), settlement.AgentParams{
		Name:          req.Name,
		WalletAddress: req.WalletAddress,
		Price:         req.Price,
		Description:   req.Description,
		ImageURL:      req.ImageURL,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, agent)
}

// ListAgents pages through listings; active_only defaults to true.
func (s *Server) ListAgents(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	activeOnly := true
	if raw := r.URL.Query().Get("active_only"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			activeOnly = parsed
		}
	}
	agents, err := s.coordinator.ListAgents(r.Context(), offset, limit, activeOnly)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agents)
}

// GetAgent returns a listing by id.
func (s *Server) GetAgent(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	agent, err := s.coordinator.GetAgent(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

// GetAgentByWallet returns a listing by owner wallet address.
func (s *Server) GetAgentByWallet(w http.ResponseWriter, r *http.Request) {
	agent, err := s.coordinator.GetAgentByAddress(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

// UpdateAgent applies a partial update to a listing.
func (s *Server) UpdateAgent(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	var req struct {
		Name        *string          `json:"name"`
		Price       *decimal.Decimal `json:"price"`
		Description *string          `json:"description"`
		ImageURL    *string          `json:"image_url"`
		IsActive    *bool            `json:"is_active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	agent, err := s.coordinator.UpdateAgent(r.Context(), id, ledger.AgentUpdate{
		Name:        req.Name,
		Price:       req.Price,
		Description: req.Description,
		ImageURL:    req.ImageURL,
		IsActive:    req.IsActive,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, agent)
}

// DeleteAgent removes a listing.
func (s *Server) DeleteAgent(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid agent id")
		return
	}
	if err := s.coordinator.RemoveAgent(r.Context(), id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "agent deleted"})
}
