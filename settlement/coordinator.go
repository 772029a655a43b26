package settlement

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"agentpay/chain"
	"agentpay/ledger"
	"agentpay/models"
	"agentpay/wallet"
)

const (
	txHashHexLen       = 64
	tokenDecimalPlaces = 6
)

var (
	// ErrInvalidAmount is returned when a monetary value is negative
	// or not representable with six fractional digits.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidTxHash is returned when a transaction hash is not a
	// 32-byte 0x-prefixed hex string.
	ErrInvalidTxHash = errors.New("invalid transaction hash")
	// ErrInvalidName is returned when an agent is registered without
	// a display name.
	ErrInvalidName = errors.New("agent name required")
	// ErrChallengeFailed is returned when a signed registration
	// challenge does not verify against the claimed wallet.
	ErrChallengeFailed = errors.New("challenge verification failed")
)

// ChainReader is the chain-gateway surface the coordinator consumes.
// chain.Gateway satisfies it; tests inject a double.
type ChainReader interface {
	FundAccount(ctx context.Context, fundAddr string) (*chain.FundAccount, error)
	TokenBalance(ctx context.Context, addr string) (decimal.Decimal, error)
}

// Balance merges the vault account view with the wallet's token
// balance. It is only ever produced whole: a gateway failure fails the
// entire query rather than yielding zeroed fields.
type Balance struct {
	WalletAddress       string          `json:"wallet_address"`
	Balance             decimal.Decimal `json:"balance"`
	DailySpendingLimit  decimal.Decimal `json:"daily_spending_limit"`
	PerTransactionLimit decimal.Decimal `json:"per_transaction_limit"`
	TodaySpent          decimal.Decimal `json:"today_spent"`
	LastResetDay        uint64          `json:"last_reset_day"`
	TokenWalletBalance  decimal.Decimal `json:"usdc_wallet_balance"`
}

// AgentParams are the inputs for registering a marketplace listing.
type AgentParams struct {
	Name          string
	WalletAddress string
	Price         decimal.Decimal
	Description   string
	ImageURL      string
}

// SettlementInput describes a completed on-chain purchase to record.
type SettlementInput struct {
	FundID   uint
	AgentID  uint
	Amount   decimal.Decimal
	Fee      decimal.Decimal
	TxHash   string
	Metadata string
}

// Coordinator validates inbound operations against the ledger and the
// chain gateway and composes persisted settlement records.
type Coordinator struct {
	verifier *wallet.Verifier
	store    *ledger.Store
	chain    ChainReader
}

// New wires the coordinator's dependencies.
func New(verifier *wallet.Verifier, store *ledger.Store, reader ChainReader) *Coordinator {
	return &Coordinator{verifier: verifier, store: store, chain: reader}
}

// RegisterFund normalizes the wallet address and creates the fund.
// An address already registered, under any casing, is a conflict.
func (c *Coordinator) RegisterFund(ctx context.Context, addr string) (*models.Fund, error) {
	normalized, err := c.verifier.Normalize(addr)
	if err != nil {
		return nil, err
	}
	fund := &models.Fund{WalletAddress: normalized}
	if err := c.store.CreateFund(ctx, fund); err != nil {
		return nil, err
	}
	return fund, nil
}

// Challenge produces the message a wallet owner must sign to prove
// control of addr during registration.
func (c *Coordinator) Challenge(addr, nonce string) (string, error) {
	normalized, err := c.verifier.Normalize(addr)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(nonce) == "" {
		return "", fmt.Errorf("%w: empty nonce", ErrChallengeFailed)
	}
	return c.verifier.BuildChallenge(normalized, nonce), nil
}

// RegisterFundWithProof registers a fund only when the caller presents
// a challenge message signed by the wallet being registered. The nonce
// is consumed on success, making each signed challenge single-use.
func (c *Coordinator) RegisterFundWithProof(ctx context.Context, addr, nonce, message, signature string) (*models.Fund, error) {
	normalized, err := c.verifier.Normalize(addr)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(nonce) == "" || !strings.Contains(message, nonce) || !strings.Contains(message, normalized) {
		return nil, ErrChallengeFailed
	}
	if !c.verifier.Verify(message, signature, normalized) {
		return nil, ErrChallengeFailed
	}
	if err := c.store.ConsumeNonce(ctx, normalized, nonce); err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			return nil, fmt.Errorf("%w: nonce already consumed", ErrChallengeFailed)
		}
		return nil, err
	}
	fund := &models.Fund{WalletAddress: normalized}
	if err := c.store.CreateFund(ctx, fund); err != nil {
		return nil, err
	}
	return fund, nil
}

// GetFund looks a fund up by wallet address.
func (c *Coordinator) GetFund(ctx context.Context, addr string) (*models.Fund, error) {
	normalized, err := c.verifier.Normalize(addr)
	if err != nil {
		return nil, err
	}
	return c.store.FundByAddress(ctx, normalized)
}

// ListFunds pages through registered funds.
func (c *Coordinator) ListFunds(ctx context.Context, offset, limit int) ([]models.Fund, error) {
	return c.store.ListFunds(ctx, offset, limit)
}

// RemoveFund deletes a fund and all its settlement records.
func (c *Coordinator) RemoveFund(ctx context.Context, addr string) error {
	fund, err := c.GetFund(ctx, addr)
	if err != nil {
		return err
	}
	return c.store.DeleteFund(ctx, fund.ID)
}

// RegisterAgent validates and persists a marketplace listing.
func (c *Coordinator) RegisterAgent(ctx context.Context, params AgentParams) (*models.Agent, error) {
	if strings.TrimSpace(params.Name) == "" {
		return nil, ErrInvalidName
	}
	normalized, err := c.verifier.Normalize(params.WalletAddress)
	if err != nil {
		return nil, err
	}
	if err := validateAmount("price", params.Price); err != nil {
		return nil, err
	}
	agent := &models.Agent{
		Name:          strings.TrimSpace(params.Name),
		WalletAddress: normalized,
		Price:         params.Price,
		Description:   params.Description,
		ImageURL:      params.ImageURL,
		IsActive:      true,
	}
	if err := c.store.CreateAgent(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// UpdateAgent applies a partial update to a listing.
func (c *Coordinator) UpdateAgent(ctx context.Context, id uint, update ledger.AgentUpdate) (*models.Agent, error) {
	if update.Price != nil {
		if err := validateAmount("price", *update.Price); err != nil {
			return nil, err
		}
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, ErrInvalidName
	}
	return c.store.UpdateAgent(ctx, id, update)
}

// RemoveAgent deletes a listing.
func (c *Coordinator) RemoveAgent(ctx context.Context, id uint) error {
	return c.store.DeleteAgent(ctx, id)
}

// GetAgent returns a listing by id.
func (c *Coordinator) GetAgent(ctx context.Context, id uint) (*models.Agent, error) {
	return c.store.AgentByID(ctx, id)
}

// GetAgentByAddress returns a listing by owner wallet.
func (c *Coordinator) GetAgentByAddress(ctx context.Context, addr string) (*models.Agent, error) {
	normalized, err := c.verifier.Normalize(addr)
	if err != nil {
		return nil, err
	}
	return c.store.AgentByAddress(ctx, normalized)
}

// ListAgents pages through listings.
func (c *Coordinator) ListAgents(ctx context.Context, offset, limit int, activeOnly bool) ([]models.Agent, error) {
	return c.store.ListAgents(ctx, offset, limit, activeOnly)
}

// QueryBalance merges the on-chain vault account and the wallet's
// token balance. Either gateway failure fails the whole query; the
// caller has no meaningful way to show a partial balance.
func (c *Coordinator) QueryBalance(ctx context.Context, addr string) (*Balance, error) {
	normalized, err := c.verifier.Normalize(addr)
	if err != nil {
		return nil, err
	}
	account, err := c.chain.FundAccount(ctx, normalized)
	if err != nil {
		return nil, err
	}
	tokenBalance, err := c.chain.TokenBalance(ctx, normalized)
	if err != nil {
		return nil, err
	}
	return &Balance{
		WalletAddress:       normalized,
		Balance:             account.Balance,
		DailySpendingLimit:  account.DailySpendingLimit,
		PerTransactionLimit: account.PerTransactionLimit,
		TodaySpent:          account.TodaySpent,
		LastResetDay:        account.LastResetDay,
		TokenWalletBalance:  tokenBalance,
	}, nil
}

// RecordSettlement validates a completed purchase and records it
// exactly once. The unique index on the transaction hash is the sole
// idempotency guard: a duplicate submission, whatever its amounts,
// surfaces as a conflict. The recorded amount and fee are taken on
// trust; no on-chain receipt cross-check is performed.
func (c *Coordinator) RecordSettlement(ctx context.Context, input SettlementInput) (*ledger.TransactionRecord, error) {
	fund, err := c.store.FundByID(ctx, input.FundID)
	if err != nil {
		return nil, err
	}
	agent, err := c.store.AgentByID(ctx, input.AgentID)
	if err != nil {
		return nil, err
	}
	if err := validateAmount("amount", input.Amount); err != nil {
		return nil, err
	}
	if err := validateAmount("fee", input.Fee); err != nil {
		return nil, err
	}
	hash, err := normalizeTxHash(input.TxHash)
	if err != nil {
		return nil, err
	}
	txn := &models.Transaction{
		FundID:   fund.ID,
		AgentID:  agent.ID,
		Amount:   input.Amount,
		Fee:      input.Fee,
		TxHash:   hash,
		Metadata: input.Metadata,
	}
	if err := c.store.CreateTransaction(ctx, txn); err != nil {
		return nil, err
	}
	return &ledger.TransactionRecord{
		ID:         txn.ID,
		FundID:     txn.FundID,
		AgentID:    txn.AgentID,
		Amount:     txn.Amount,
		Fee:        txn.Fee,
		TxHash:     txn.TxHash,
		Metadata:   txn.Metadata,
		Timestamp:  txn.Timestamp,
		FundWallet: fund.WalletAddress,
		AgentName:  agent.Name,
	}, nil
}

// GetSettlement returns an enriched settlement record by id.
func (c *Coordinator) GetSettlement(ctx context.Context, id uint) (*ledger.TransactionRecord, error) {
	return c.store.TransactionByID(ctx, id)
}

// GetSettlementByHash returns an enriched settlement record by its
// on-chain transaction hash, matched case-insensitively.
func (c *Coordinator) GetSettlementByHash(ctx context.Context, txHash string) (*ledger.TransactionRecord, error) {
	hash, err := normalizeTxHash(txHash)
	if err != nil {
		return nil, err
	}
	return c.store.TransactionByHash(ctx, hash)
}

// ListSettlements pages through all settlement records, newest first.
func (c *Coordinator) ListSettlements(ctx context.Context, offset, limit int) ([]ledger.TransactionRecord, error) {
	return c.store.ListTransactions(ctx, offset, limit)
}

// SettlementsForFund pages through a fund's settlement records.
func (c *Coordinator) SettlementsForFund(ctx context.Context, fundID uint, offset, limit int) ([]ledger.TransactionRecord, error) {
	if _, err := c.store.FundByID(ctx, fundID); err != nil {
		return nil, err
	}
	return c.store.TransactionsForFund(ctx, fundID, offset, limit)
}

// SettlementsForWallet resolves a wallet address to its fund and pages
// through that fund's settlement records.
func (c *Coordinator) SettlementsForWallet(ctx context.Context, addr string, offset, limit int) ([]ledger.TransactionRecord, error) {
	fund, err := c.GetFund(ctx, addr)
	if err != nil {
		return nil, err
	}
	return c.store.TransactionsForFund(ctx, fund.ID, offset, limit)
}

// validateAmount enforces the non-negative 6-decimal fixed-point
// contract on monetary inputs. A fee exceeding its amount is accepted;
// the ledger intentionally does not bound fees.
func validateAmount(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return fmt.Errorf("%w: %s must not be negative", ErrInvalidAmount, field)
	}
	if !value.Equal(value.Truncate(tokenDecimalPlaces)) {
		return fmt.Errorf("%w: %s has more than 6 decimal places", ErrInvalidAmount, field)
	}
	return nil
}

// normalizeTxHash validates the 32-byte hash wire format and lowers
// its casing so hex case variants of one hash share the idempotency
// key.
func normalizeTxHash(txHash string) (string, error) {
	trimmed := strings.TrimSpace(txHash)
	if !strings.HasPrefix(trimmed, "0x") && !strings.HasPrefix(trimmed, "0X") {
		return "", fmt.Errorf("%w: missing 0x prefix", ErrInvalidTxHash)
	}
	raw := trimmed[2:]
	if len(raw) != txHashHexLen {
		return "", fmt.Errorf("%w: expected %d hex characters, got %d", ErrInvalidTxHash, txHashHexLen, len(raw))
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return "", fmt.Errorf("%w: non-hexadecimal characters", ErrInvalidTxHash)
	}
	return "0x" + strings.ToLower(raw), nil
}
