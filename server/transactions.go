package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"agentpay/settlement"
)

// CreateTransaction records a completed on-chain purchase. The fee is
// taken from the request when present; otherwise it is derived from
// the platform fee schedule.
func (s *Server) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FundID   uint             `json:"fund_id"`
		AgentID  uint             `json:"agent_id"`
		Amount   decimal.Decimal  `json:"amount"`
		Fee      *decimal.Decimal `json:"fee"`
		TxHash   string           `json:"tx_hash"`
		Metadata string           `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	fee := platformFee(req.Amount)
	if req.Fee != nil {
		fee = *req.Fee
	}
	record, err := s.coordinator.RecordSettlement(r.Context(), settlement.SettlementInput{
		FundID:   req.FundID,
		AgentID:  req.AgentID,
		Amount:   req.Amount,
		Fee:      fee,
		TxHash:   req.TxHash,
		Metadata: req.Metadata,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, record)
}

// ListTransactions pages through all settlement records, newest first.
func (s *Server) ListTransactions(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	records, err := s.coordinator.ListSettlements(r.Context(), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// TransactionsForFund pages through one fund's settlement records.
func (s *Server) TransactionsForFund(w http.ResponseWriter, r *http.Request) {
	fundID, err := parseUintParam(r, "fundID")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid fund id")
		return
	}
	offset, limit := pagination(r)
	records, err := s.coordinator.SettlementsForFund(r.Context(), fundID, offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// TransactionsForWallet resolves a wallet to its fund and pages
// through that fund's settlement records.
func (s *Server) TransactionsForWallet(w http.ResponseWriter, r *http.Request) {
	offset, limit := pagination(r)
	records, err := s.coordinator.SettlementsForWallet(r.Context(), chi.URLParam(r, "address"), offset, limit)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// GetTransactionByHash returns a settlement record by its on-chain
// transaction hash.
func (s *Server) GetTransactionByHash(w http.ResponseWriter, r *http.Request) {
	record, err := s.coordinator.GetSettlementByHash(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// GetTransaction returns a settlement record by id.
func (s *Server) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := parseUintParam(r, "id")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}
	record, err := s.coordinator.GetSettlement(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}

// platformFee derives the default fee from the basis-point schedule,
// truncated to the token's six decimal places.
func platformFee(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(decimal.New(platformFeeBps, -4)).Truncate(6)
}
