package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ZeroAddress disables a contract binding when configured as its
// address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// Config represents runtime configuration for the agentpay service.
type Config struct {
	Port               string
	Env                string
	DatabaseURL        string
	RPCURL             string
	ChainID            uint64
	VaultAddress       string
	TokenAddress       string
	CORSOrigins        []string
	RPCTimeout         time.Duration
	RateLimitPerMinute int
}

// FromEnv loads configuration from environment variables. Every value
// has a development-friendly default; production deployments override
// the database and contract settings.
func FromEnv() (*Config, error) {
	port := normalizePort(getEnvDefault("AGENTPAY_PORT", "8080"))
	env := getEnvDefault("AGENTPAY_ENV", "dev")
	dbURL := getEnvDefault("AGENTPAY_DB_URL", "agentpay.db")
	rpcURL := getEnvDefault("AGENTPAY_RPC_URL", "https://sepolia.base.org")

	chainIDRaw := getEnvDefault("AGENTPAY_CHAIN_ID", "84532")
	chainID, err := strconv.ParseUint(chainIDRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid AGENTPAY_CHAIN_ID %q", chainIDRaw)
	}

	vaultAddr := getEnvDefault("AGENTPAY_VAULT_ADDRESS", ZeroAddress)
	tokenAddr := getEnvDefault("AGENTPAY_USDC_ADDRESS", "0x036CbD53842c5426634e7929541eC2318f3dCF7e")

	origins := parseCSVEnv("AGENTPAY_CORS_ORIGINS")
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:3000"}
	}

	timeoutSeconds := parseIntEnv("AGENTPAY_RPC_TIMEOUT_SECONDS", 10)
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("AGENTPAY_RPC_TIMEOUT_SECONDS must be positive")
	}

	rateLimit := parseIntEnv("AGENTPAY_RATE_LIMIT_PER_MINUTE", 120)
	if rateLimit < 0 {
		rateLimit = 0
	}

	return &Config{
		Port:               port,
		Env:                env,
		DatabaseURL:        dbURL,
		RPCURL:             rpcURL,
		ChainID:            chainID,
		VaultAddress:       vaultAddr,
		TokenAddress:       tokenAddr,
		CORSOrigins:        origins,
		RPCTimeout:         time.Duration(timeoutSeconds) * time.Second,
		RateLimitPerMinute: rateLimit,
	}, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func normalizePort(port string) string {
	if port == "" {
		return "8080"
	}
	if port[0] == ':' {
		return port[1:]
	}
	return port
}

func parseIntEnv(key string, def int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return def
}

func parseCSVEnv(key string) []string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return nil
	}
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == ' '
	})
	return fields
}
