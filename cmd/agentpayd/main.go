package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agentpay/chain"
	"agentpay/config"
	"agentpay/ledger"
	"agentpay/observability/logging"
	"agentpay/server"
	"agentpay/settlement"
	"agentpay/wallet"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Setup("agentpayd", "dev").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("agentpayd", cfg.Env)

	store, err := ledger.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("open ledger", "error", err)
		os.Exit(1)
	}

	client, err := chain.Dial(cfg.RPCURL)
	if err != nil {
		logger.Error("dial rpc endpoint", "url", cfg.RPCURL, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	if cfg.VaultAddress == config.ZeroAddress {
		logger.Warn("vault contract address not configured; balance queries will fail")
	}
	gateway, err := chain.NewGateway(client, cfg.VaultAddress, cfg.TokenAddress, cfg.RPCTimeout)
	if err != nil {
		logger.Error("configure chain gateway", "error", err)
		os.Exit(1)
	}

	coordinator := settlement.New(wallet.NewVerifier(), store, gateway)
	handler := server.New(server.Config{
		Coordinator:        coordinator,
		Logger:             logger,
		ChainID:            cfg.ChainID,
		VaultAddress:       cfg.VaultAddress,
		TokenAddress:       cfg.TokenAddress,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}).Handler()

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: handler}

	go func() {
		logger.Info("agentpay listening", "port", cfg.Port, "chain_id", cfg.ChainID)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}
