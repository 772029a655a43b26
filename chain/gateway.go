package chain

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

// tokenDecimals is USDC's minor-unit precision; all raw contract
// amounts are integers scaled by 10^6.
const tokenDecimals = 6

// GatewayError wraps any RPC, ABI, or contract failure crossing the
// gateway boundary so callers can treat chain unavailability as a soft
// failure.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("chain gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// EVMClient is the subset of the Ethereum RPC client used by the
// gateway. ethclient.Client satisfies it; tests inject a double.
type EVMClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
}

// FundAccount is the vault's on-chain view of a fund, scaled into
// human-readable token units.
type FundAccount struct {
	Balance             decimal.Decimal `json:"balance"`
	DailySpendingLimit  decimal.Decimal `json:"daily_spending_limit"`
	PerTransactionLimit decimal.Decimal `json:"per_transaction_limit"`
	TodaySpent          decimal.Decimal `json:"today_spent"`
	LastResetDay        uint64          `json:"last_reset_day"`
}

// Purchase is a settled purchase read back from the vault.
type Purchase struct {
	Fund      string          `json:"fund"`
	Bot       string          `json:"bot"`
	Recipient string          `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	Timestamp uint64          `json:"timestamp"`
	Metadata  string          `json:"metadata"`
}

// Receipt summarises an on-chain transaction receipt.
type Receipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"block_number"`
	GasUsed     uint64 `json:"gas_used"`
}

// Gateway is the read-only view into the payment vault contract and
// the ERC-20 settlement token.
type Gateway struct {
	client    EVMClient
	vaultAddr common.Address
	tokenAddr common.Address
	vaultABI  abi.ABI
	erc20ABI  abi.ABI
	timeout   time.Duration
}

// Dial initialises an EVM RPC client for the provided endpoint.
func Dial(endpoint string) (*ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("rpc endpoint required")
	}
	return ethclient.Dial(trimmed)
}

// NewGateway builds a gateway over client for the given vault and
// token contract addresses. timeout bounds every chain call.
func NewGateway(client EVMClient, vaultAddr, tokenAddr string, timeout time.Duration) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("evm client required")
	}
	if !common.IsHexAddress(vaultAddr) {
		return nil, fmt.Errorf("invalid vault contract address %q", vaultAddr)
	}
	if !common.IsHexAddress(tokenAddr) {
		return nil, fmt.Errorf("invalid token contract address %q", tokenAddr)
	}
	vault, err := abi.JSON(strings.NewReader(vaultABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	erc20, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		client:    client,
		vaultAddr: common.HexToAddress(vaultAddr),
		tokenAddr: common.HexToAddress(tokenAddr),
		vaultABI:  vault,
		erc20ABI:  erc20,
		timeout:   timeout,
	}, nil
}

func (g *Gateway) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

func (g *Gateway) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, &GatewayError{Op: method, Err: err}
	}
	callCtx, cancel := g.bound(ctx)
	defer cancel()
	output, err := g.client.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, &GatewayError{Op: method, Err: err}
	}
	out, err := contract.Unpack(method, output)
	if err != nil {
		return nil, &GatewayError{Op: method, Err: err}
	}
	return out, nil
}

func scaleAmount(raw *big.Int) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -tokenDecimals)
}

// FundAccount reads the vault's account record for a fund wallet.
func (g *Gateway) FundAccount(ctx context.Context, fundAddr string) (*FundAccount, error) {
	out, err := g.call(ctx, g.vaultAddr, g.vaultABI, "getFundAccount", common.HexToAddress(fundAddr))
	if err != nil {
		return nil, err
	}
	if len(out) != 5 {
		return nil, &GatewayError{Op: "getFundAccount", Err: fmt.Errorf("expected 5 outputs, got %d", len(out))}
	}
	fields := make([]*big.Int, 5)
	for i, v := range out {
		value, ok := v.(*big.Int)
		if !ok {
			return nil, &GatewayError{Op: "getFundAccount", Err: fmt.Errorf("output %d is not uint256", i)}
		}
		fields[i] = value
	}
	return &FundAccount{
		Balance:             scaleAmount(fields[0]),
		DailySpendingLimit:  scaleAmount(fields[1]),
		PerTransactionLimit: scaleAmount(fields[2]),
		TodaySpent:          scaleAmount(fields[3]),
		LastResetDay:        fields[4].Uint64(),
	}, nil
}

// IsBotAuthorized reports whether the fund has authorized the bot
// wallet to spend on its behalf.
func (g *Gateway) IsBotAuthorized(ctx context.Context, fundAddr, botAddr string) (bool, error) {
	out, err := g.call(ctx, g.vaultAddr, g.vaultABI, "isBotAuthorized", common.HexToAddress(fundAddr), common.HexToAddress(botAddr))
	if err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, &GatewayError{Op: "isBotAuthorized", Err: fmt.Errorf("expected 1 output, got %d", len(out))}
	}
	authorized, ok := out[0].(bool)
	if !ok {
		return false, &GatewayError{Op: "isBotAuthorized", Err: fmt.Errorf("output is not bool")}
	}
	return authorized, nil
}

// FundPurchaseIDs lists the vault purchase identifiers recorded for a
// fund wallet.
func (g *Gateway) FundPurchaseIDs(ctx context.Context, fundAddr string) ([]uint64, error) {
	out, err := g.call(ctx, g.vaultAddr, g.vaultABI, "getFundPurchases", common.HexToAddress(fundAddr))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, &GatewayError{Op: "getFundPurchases", Err: fmt.Errorf("expected 1 output, got %d", len(out))}
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, &GatewayError{Op: "getFundPurchases", Err: fmt.Errorf("output is not uint256[]")}
	}
	ids := make([]uint64, 0, len(raw))
	for _, id := range raw {
		ids = append(ids, id.Uint64())
	}
	return ids, nil
}

type vaultPurchase struct {
	Fund      common.Address
	Bot       common.Address
	Recipient common.Address
	Amount    *big.Int
	Fee       *big.Int
	Timestamp *big.Int
	Metadata  string
}

// Purchase reads the details of a single vault purchase.
func (g *Gateway) Purchase(ctx context.Context, purchaseID uint64) (*Purchase, error) {
	out, err := g.call(ctx, g.vaultAddr, g.vaultABI, "getPurchase", new(big.Int).SetUint64(purchaseID))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, &GatewayError{Op: "getPurchase", Err: fmt.Errorf("expected 1 output, got %d", len(out))}
	}
	record := *abi.ConvertType(out[0], new(vaultPurchase)).(*vaultPurchase)
	return &Purchase{
		Fund:      record.Fund.Hex(),
		Bot:       record.Bot.Hex(),
		Recipient: record.Recipient.Hex(),
		Amount:    scaleAmount(record.Amount),
		Fee:       scaleAmount(record.Fee),
		Timestamp: record.Timestamp.Uint64(),
		Metadata:  record.Metadata,
	}, nil
}

// TokenBalance returns an address's ERC-20 balance in token units.
func (g *Gateway) TokenBalance(ctx context.Context, addr string) (decimal.Decimal, error) {
	out, err := g.call(ctx, g.tokenAddr, g.erc20ABI, "balanceOf", common.HexToAddress(addr))
	if err != nil {
		return decimal.Zero, err
	}
	if len(out) != 1 {
		return decimal.Zero, &GatewayError{Op: "balanceOf", Err: fmt.Errorf("expected 1 output, got %d", len(out))}
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return decimal.Zero, &GatewayError{Op: "balanceOf", Err: fmt.Errorf("output is not uint256")}
	}
	return scaleAmount(raw), nil
}

// Receipt fetches the receipt of an on-chain transaction.
func (g *Gateway) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	hash, err := parseTxHash(txHash)
	if err != nil {
		return nil, &GatewayError{Op: "getTransactionReceipt", Err: err}
	}
	callCtx, cancel := g.bound(ctx)
	defer cancel()
	receipt, err := g.client.TransactionReceipt(callCtx, hash)
	if err != nil {
		return nil, &GatewayError{Op: "getTransactionReceipt", Err: err}
	}
	if receipt == nil {
		return nil, &GatewayError{Op: "getTransactionReceipt", Err: fmt.Errorf("receipt missing for %s", txHash)}
	}
	result := &Receipt{Status: receipt.Status, GasUsed: receipt.GasUsed}
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	return result, nil
}

func parseTxHash(txHash string) (common.Hash, error) {
	trimmed := strings.TrimSpace(txHash)
	raw := strings.TrimPrefix(trimmed, "0x")
	if len(raw) != common.HashLength*2 {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	if _, err := hex.DecodeString(raw); err != nil {
		return common.Hash{}, fmt.Errorf("invalid transaction hash %q", txHash)
	}
	return common.HexToHash(trimmed), nil
}
