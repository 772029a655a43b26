package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// CreateFund registers a fund account. When the request carries a
// signed challenge the registration is bound to proof of wallet
// ownership; without one only the address format is validated.
func (s *Server) CreateFund(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WalletAddress string `json:"wallet_address"`
		Nonce         string `json:"nonce"`
		Message       string `json:"message"`
		Signature     string `json:"signature"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	if strings.TrimSpace(req.Signature) != "" {
		fund, err := s.coordinator.RegisterFundWithProof(r.Context(), req.WalletAddress, req.Nonce, req.Message, req.Signature)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, fund)
		return
	}

	fund, err := s.coordinator.RegisterFund(r.Context(), req.WalletAddress)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, fund)
}

// FundChallenge hands out the message a wallet owner signs to prove
// control of the address during registration.
func (s *Server) FundChallenge(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("wallet_address")
	nonce := r.URL.Query().Get("nonce")
	message, err := s.coordinator.Challenge(addr, nonce)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": message})
}

// ListFunds pages through registered funds.
func (s *Server) ListFunds(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	funds, err := s.coordinator.ListFunds(r.Context(), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, funds)
}

// GetFund returns a fund by wallet address.
func (s *Server) GetFund(w http.ResponseWriter, r *http.Request) {
	fund, err := s.coordinator.GetFund(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fund)
}

// FundBalance merges the on-chain vault account with the wallet's
// token balance. Chain unavailability fails the whole request.
func (s *Server) FundBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.coordinator.QueryBalance(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

// DeleteFund removes a fund and its settlement history.
func (s *Server) DeleteFund(w http.ResponseWriter, r *http.Request) {
	if err := s.coordinator.RemoveFund(r.Context(), chi.URLParam(r, "address")); err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "fund deleted"})
}
