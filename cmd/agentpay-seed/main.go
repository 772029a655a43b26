package main

import (
	"context"
	"errors"
	"os"

	"github.com/shopspring/decimal"

	"agentpay/config"
	"agentpay/ledger"
	"agentpay/observability/logging"
	"agentpay/settlement"
	"agentpay/wallet"
)

// sampleAgents are the marketplace listings installed by the seeder.
// Re-running the seeder skips listings whose owner wallet is already
// registered.
var sampleAgents = []settlement.AgentParams{
	{
		Name:          "ResearchGPT",
		WalletAddress: "0x1234567890123456789012345678901234567890",
		Price:         decimal.RequireFromString("25.00"),
		Description:   "Autonomous research agent that gathers, analyzes, and summarizes information from multiple sources. Perfect for market research and competitive analysis.",
		ImageURL:      "https://via.placeholder.com/400x300?text=ResearchGPT",
	},
	{
		Name:          "DataAnalyzer Pro",
		WalletAddress: "0x2345678901234567890123456789012345678901",
		Price:         decimal.RequireFromString("50.00"),
		Description:   "Advanced data analysis agent with machine learning capabilities. Processes large datasets and generates actionable insights automatically.",
		ImageURL:      "https://via.placeholder.com/400x300?text=DataAnalyzer",
	},
	{
		Name:          "ContentCreator AI",
		WalletAddress: "0x3456789012345678901234567890123456789012",
		Price:         decimal.RequireFromString("30.00"),
		Description:   "Creative writing agent for blog posts, social media, and marketing copy. Maintains brand voice and generates SEO-optimized content.",
		ImageURL:      "https://via.placeholder.com/400x300?text=ContentCreator",
	},
	{
		Name:          "CodeAssistant",
		WalletAddress: "0x4567890123456789012345678901234567890123",
		Price:         decimal.RequireFromString("75.00"),
		Description:   "AI coding assistant that writes, reviews, and debugs code across multiple languages. Integrates with GitHub for automated PR reviews.",
		ImageURL:      "https://via.placeholder.com/400x300?text=CodeAssistant",
	},
	{
		Name:          "CustomerSupport Bot",
		WalletAddress: "0x5678901234567890123456789012345678901234",
		Price:         decimal.RequireFromString("40.00"),
		Description:   "24/7 customer support agent with natural language understanding. Handles inquiries, escalates complex issues, and maintains conversation context.",
		ImageURL:      "https://via.placeholder.com/400x300?text=CustomerSupport",
	},
}

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logging.Setup("agentpay-seed", "dev").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup("agentpay-seed", cfg.Env)

	store, err := ledger.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("open ledger", "error", err)
		os.Exit(1)
	}
	coordinator := settlement.New(wallet.NewVerifier(), store, nil)

	ctx := context.Background()
	seeded := 0
	for _, params := range sampleAgents {
		agent, err := coordinator.RegisterAgent(ctx, params)
		if errors.Is(err, ledger.ErrConflict) {
			logger.Info("agent already seeded", "name", params.Name)
			continue
		}
		if err != nil {
			logger.Error("seed agent", "name", params.Name, "error", err)
			os.Exit(1)
		}
		logger.Info("seeded agent", "id", agent.ID, "name", agent.Name, "price", agent.Price.String())
		seeded++
	}
	logger.Info("seeding complete", "added", seeded, "total", len(sampleAgents))
}
