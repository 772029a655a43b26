package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agentpay/chain"
	"agentpay/ledger"
	"agentpay/settlement"
	"agentpay/wallet"
)

type stubChain struct {
	account *chain.FundAccount
	balance decimal.Decimal
	err     error
}

func (s *stubChain) FundAccount(ctx context.Context, fundAddr string) (*chain.FundAccount, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.account, nil
}

func (s *stubChain) TokenBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.balance, nil
}

func setupTestServer(t *testing.T, reader settlement.ChainReader) http.Handler {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := ledger.Open(dsn)
	if err != nil {
		t.Fatalf("failed to open ledger: %v", err)
	}
	if reader == nil {
		reader = &stubChain{account: &chain.FundAccount{}, balance: decimal.Zero}
	}
	coordinator := settlement.New(wallet.NewVerifier(), store, reader)
	srv := New(Config{
		Coordinator:  coordinator,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		ChainID:      84532,
		VaultAddress: "0x0000000000000000000000000000000000000000",
		TokenAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	})
	return srv.Handler()
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealthAndStats(t *testing.T) {
	handler := setupTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rec.Code)
	}
	var stats struct {
		PlatformFeeBps int    `json:"platform_fee_bps"`
		ChainID        uint64 `json:"chain_id"`
	}
	decodeBody(t, rec, &stats)
	if stats.PlatformFeeBps != 200 {
		t.Fatalf("platform_fee_bps = %d, want 200", stats.PlatformFeeBps)
	}
	if stats.ChainID != 84532 {
		t.Fatalf("chain_id = %d, want 84532", stats.ChainID)
	}
}

func TestFundLifecycle(t *testing.T) {
	handler := setupTestServer(t, nil)
	const addr = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"`+addr+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create fund status = %d, body %s", rec.Code, rec.Body.String())
	}
	var fund struct {
		ID            uint   `json:"id"`
		WalletAddress string `json:"wallet_address"`
	}
	decodeBody(t, rec, &fund)
	if fund.ID == 0 {
		t.Fatalf("fund id not assigned")
	}
	if !strings.EqualFold(fund.WalletAddress, addr) {
		t.Fatalf("wallet_address = %q", fund.WalletAddress)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"`+strings.ToUpper(addr[2:])+`"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing prefix status = %d", rec.Code)
	}
	// The same address in upper case resolves to the same row.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"0x`+strings.ToUpper(addr[2:])+`"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate fund status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/funds/"+addr, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get fund status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/funds", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list funds status = %d", rec.Code)
	}
	var funds []json.RawMessage
	decodeBody(t, rec, &funds)
	if len(funds) != 1 {
		t.Fatalf("fund count = %d, want 1", len(funds))
	}

	rec = doJSON(t, handler, http.MethodDelete, "/api/v1/funds/"+addr, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete fund status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/funds/"+addr, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted fund status = %d", rec.Code)
	}
}

func TestFundRegistrationWithSignature(t *testing.T) {
	handler := setupTestServer(t, nil)

	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	nonce := uuid.NewString()

	rec := doJSON(t, handler, http.MethodGet, "/api/v1/funds/challenge?wallet_address="+addr+"&nonce="+nonce, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("challenge status = %d, body %s", rec.Code, rec.Body.String())
	}
	var challenge struct {
		Message string `json:"message"`
	}
	decodeBody(t, rec, &challenge)
	if !strings.Contains(challenge.Message, addr) || !strings.Contains(challenge.Message, nonce) {
		t.Fatalf("challenge missing wallet or nonce: %q", challenge.Message)
	}

	digest := ethcrypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(challenge.Message), challenge.Message)))
	sig, err := ethcrypto.Sign(digest, key)
	if err != nil {
		t.Fatalf("sign challenge: %v", err)
	}

	payload, err := json.Marshal(map[string]string{
		"wallet_address": addr,
		"nonce":          nonce,
		"message":        challenge.Message,
		"signature":      "0x" + fmt.Sprintf("%x", sig),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/funds", string(payload))
	if rec.Code != http.StatusCreated {
		t.Fatalf("signed registration status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Replaying the same signed challenge must be rejected.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/funds", string(payload))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed registration status = %d", rec.Code)
	}
}

func TestAgentLifecycle(t *testing.T) {
	handler := setupTestServer(t, nil)
	const owner = "0x2222222222222222222222222222222222222222"

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/agents",
		`{"name":"Bot","wallet_address":"`+owner+`","price":"1.5","description":"test agent"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create agent status = %d, body %s", rec.Code, rec.Body.String())
	}
	var agent struct {
		ID       uint   `json:"id"`
		Name     string `json:"name"`
		IsActive bool   `json:"is_active"`
	}
	decodeBody(t, rec, &agent)
	if agent.Name != "Bot" || !agent.IsActive {
		t.Fatalf("unexpected agent %+v", agent)
	}

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/agents",
		`{"name":"","wallet_address":"`+owner+`","price":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("nameless agent status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodPut, fmt.Sprintf("/api/v1/agents/%d", agent.ID), `{"price":"2.25","is_active":false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update agent status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Deactivated agents fall out of the default listing.
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/agents", "")
	var active []json.RawMessage
	decodeBody(t, rec, &active)
	if len(active) != 0 {
		t.Fatalf("active agent count = %d, want 0", len(active))
	}
	rec = doJSON(t, handler, http.MethodGet, "/api/v1/agents?active_only=false", "")
	var all []json.RawMessage
	decodeBody(t, rec, &all)
	if len(all) != 1 {
		t.Fatalf("total agent count = %d, want 1", len(all))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/agents/wallet/"+owner, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get agent by wallet status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodDelete, fmt.Sprintf("/api/v1/agents/%d", agent.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete agent status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/agents/%d", agent.ID), "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted agent status = %d", rec.Code)
	}
}

func TestSettlementFlow(t *testing.T) {
	handler := setupTestServer(t, nil)
	const (
		fundWallet  = "0x1111111111111111111111111111111111111111"
		agentWallet = "0x2222222222222222222222222222222222222222"
		txHash      = "0xabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd"
	)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"`+fundWallet+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create fund status = %d", rec.Code)
	}
	var fund struct {
		ID uint `json:"id"`
	}
	decodeBody(t, rec, &fund)

	rec = doJSON(t, handler, http.MethodPost, "/api/v1/agents",
		`{"name":"Bot","wallet_address":"`+agentWallet+`","price":"1.5"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create agent status = %d", rec.Code)
	}
	var agent struct {
		ID uint `json:"id"`
	}
	decodeBody(t, rec, &agent)

	body := fmt.Sprintf(`{"fund_id":%d,"agent_id":%d,"amount":"1.5","fee":"0.03","tx_hash":"%s"}`, fund.ID, agent.ID, txHash)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body.String())
	}
	var record struct {
		ID         uint            `json:"id"`
		Amount     decimal.Decimal `json:"amount"`
		Fee        decimal.Decimal `json:"fee"`
		TxHash     string          `json:"tx_hash"`
		FundWallet string          `json:"fund_wallet"`
		AgentName  string          `json:"agent_name"`
	}
	decodeBody(t, rec, &record)
	if record.FundWallet != fundWallet || record.AgentName != "Bot" {
		t.Fatalf("record not enriched: %+v", record)
	}
	if !record.Amount.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("amount = %s", record.Amount)
	}

	// Re-submitting the same hash, even with different amounts or
	// casing, conflicts.
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"fund_id":%d,"agent_id":%d,"amount":"9","fee":"0","tx_hash":"%s"}`, fund.ID, agent.ID, strings.ToUpper(txHash[2:])))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("prefixless hash status = %d", rec.Code)
	}
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions",
		fmt.Sprintf(`{"fund_id":%d,"agent_id":%d,"amount":"9","fee":"0","tx_hash":"0x%s"}`, fund.ID, agent.ID, strings.ToUpper(txHash[2:])))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate hash status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/hash/"+txHash, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get by hash status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, fmt.Sprintf("/api/v1/transactions/fund/%d", fund.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("fund transactions status = %d", rec.Code)
	}
	var byFund []json.RawMessage
	decodeBody(t, rec, &byFund)
	if len(byFund) != 1 {
		t.Fatalf("fund transaction count = %d, want 1", len(byFund))
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/wallet/"+fundWallet, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("wallet transactions status = %d", rec.Code)
	}
}

func TestCreateTransactionDerivesFee(t *testing.T) {
	handler := setupTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"0x3333333333333333333333333333333333333333"}`)
	var fund struct {
		ID uint `json:"id"`
	}
	decodeBody(t, rec, &fund)
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/agents",
		`{"name":"Bot","wallet_address":"0x4444444444444444444444444444444444444444","price":"10"}`)
	var agent struct {
		ID uint `json:"id"`
	}
	decodeBody(t, rec, &agent)

	body := fmt.Sprintf(`{"fund_id":%d,"agent_id":%d,"amount":"10","tx_hash":"0x%s"}`, fund.ID, agent.ID, strings.Repeat("ab", 32))
	rec = doJSON(t, handler, http.MethodPost, "/api/v1/transactions", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create transaction status = %d, body %s", rec.Code, rec.Body.String())
	}
	var record struct {
		Fee decimal.Decimal `json:"fee"`
	}
	decodeBody(t, rec, &record)
	// 200 bps of 10.
	if !record.Fee.Equal(decimal.RequireFromString("0.2")) {
		t.Fatalf("derived fee = %s, want 0.2", record.Fee)
	}
}

func TestTransactionValidationErrors(t *testing.T) {
	handler := setupTestServer(t, nil)

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/transactions",
		`{"fund_id":99,"agent_id":1,"amount":"1","fee":"0","tx_hash":"0x`+strings.Repeat("cd", 32)+`"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown fund status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/hash/not-a-hash", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed hash status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/transactions/fund/notanumber", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed fund id status = %d", rec.Code)
	}
}

func TestFundBalanceGatewayFailure(t *testing.T) {
	gatewayErr := &chain.GatewayError{Op: "getFundAccount", Err: errors.New("rpc unreachable")}
	handler := setupTestServer(t, &stubChain{err: gatewayErr})
	const addr = "0x5555555555555555555555555555555555555555"

	rec := doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"`+addr+`"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create fund status = %d", rec.Code)
	}

	rec = doJSON(t, handler, http.MethodGet, "/api/v1/funds/"+addr+"/balance", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("balance status = %d, want 502", rec.Code)
	}
}

func TestFundBalanceMergesChainViews(t *testing.T) {
	reader := &stubChain{
		account: &chain.FundAccount{
			Balance:             decimal.RequireFromString("25.5"),
			DailySpendingLimit:  decimal.RequireFromString("100"),
			PerTransactionLimit: decimal.RequireFromString("10"),
			TodaySpent:          decimal.RequireFromString("4.5"),
			LastResetDay:        20000,
		},
		balance: decimal.RequireFromString("7.25"),
	}
	handler := setupTestServer(t, reader)
	const addr = "0x6666666666666666666666666666666666666666"

	doJSON(t, handler, http.MethodPost, "/api/v1/funds", `{"wallet_address":"`+addr+`"}`)
	rec := doJSON(t, handler, http.MethodGet, "/api/v1/funds/"+addr+"/balance", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("balance status = %d, body %s", rec.Code, rec.Body.String())
	}
	var balance struct {
		Balance            decimal.Decimal `json:"balance"`
		TokenWalletBalance decimal.Decimal `json:"usdc_wallet_balance"`
	}
	decodeBody(t, rec, &balance)
	if !balance.Balance.Equal(decimal.RequireFromString("25.5")) {
		t.Fatalf("vault balance = %s", balance.Balance)
	}
	if !balance.TokenWalletBalance.Equal(decimal.RequireFromString("7.25")) {
		t.Fatalf("token balance = %s", balance.TokenWalletBalance)
	}
}
