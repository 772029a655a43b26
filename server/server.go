package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"agentpay/chain"
	"agentpay/ledger"
	"agentpay/settlement"
	"agentpay/wallet"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500

	// platformFeeBps is the marketplace's advertised fee schedule.
	platformFeeBps = 200
)

// Config captures the dependencies required to construct the server.
type Config struct {
	Coordinator        *settlement.Coordinator
	Logger             *slog.Logger
	ChainID            uint64
	VaultAddress       string
	TokenAddress       string
	CORSOrigins        []string
	RateLimitPerMinute int
}

// Server is the HTTP front-end over the settlement coordinator.
type Server struct {
	coordinator  *settlement.Coordinator
	logger       *slog.Logger
	chainID      uint64
	vaultAddress string
	tokenAddress string
	obs          *Observability

	router http.Handler
}

// New constructs a configured HTTP router with logging, CORS,
// rate-limiting, and observability middleware installed.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		coordinator:  cfg.Coordinator,
		logger:       logger,
		chainID:      cfg.ChainID,
		vaultAddress: cfg.VaultAddress,
		tokenAddress: cfg.TokenAddress,
		obs:          NewObservability("agentpay"),
	}
	srv.router = srv.buildRouter(cfg)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(s.logger))
	r.Use(CORS(cfg.CORSOrigins))
	r.Use(NewRateLimiter(cfg.RateLimitPerMinute).Middleware)
	r.Use(s.obs.Middleware)

	r.Get("/", s.Root)
	r.Get("/healthz", s.Health)
	r.Method(http.MethodGet, "/metrics", s.obs.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/stats", s.Stats)

		api.Route("/funds", func(funds chi.Router) {
			funds.Post("/", s.CreateFund)
			funds.Get("/", s.ListFunds)
			funds.Get("/challenge", s.FundChallenge)
			funds.Get("/{address}", s.GetFund)
			funds.Get("/{address}/balance", s.FundBalance)
			funds.Delete("/{address}", s.DeleteFund)
		})

		api.Route("/agents", func(agents chi.Router) {
			agents.Post("/", s.CreateAgent)
			agents.Get("/", s.ListAgents)
			agents.Get("/wallet/{address}", s.GetAgentByWallet)
			agents.Get("/{id}", s.GetAgent)
			agents.Put("/{id}", s.UpdateAgent)
			agents.Delete("/{id}", s.DeleteAgent)
		})

		api.Route("/transactions", func(txns chi.Router) {
			txns.Post("/", s.CreateTransaction)
			txns.Get("/", s.ListTransactions)
			txns.Get("/fund/{fundID}", s.TransactionsForFund)
			txns.Get("/wallet/{address}", s.TransactionsForWallet)
			txns.Get("/hash/{hash}", s.GetTransactionByHash)
			txns.Get("/{id}", s.GetTransaction)
		})
	})

	return r
}

// Root reports service identity and chain bindings.
func (s *Server) Root(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"name":             "agentpay",
		"status":           "online",
		"chain_id":         s.chainID,
		"contract_address": s.vaultAddress,
	})
}

// Health is the liveness probe.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Stats reports the platform fee schedule and contract bindings.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"platform_fee_bps": platformFeeBps,
		"chain_id":         s.chainID,
		"contract_address": s.vaultAddress,
		"usdc_address":     s.tokenAddress,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeDomainError maps coordinator errors onto the response taxonomy:
// validation 400, challenge 401, not-found 404, conflict 409, chain
// gateway unavailability 502.
func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var gatewayErr *chain.GatewayError
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, wallet.ErrInvalidAddress),
		errors.Is(err, settlement.ErrInvalidAmount),
		errors.Is(err, settlement.ErrInvalidTxHash),
		errors.Is(err, settlement.ErrInvalidName):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, settlement.ErrChallengeFailed):
		s.writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &gatewayErr):
		s.writeError(w, http.StatusBadGateway, err.Error())
	default:
		s.logger.Error("internal error", slog.String("error", err.Error()))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// pagination reads offset/limit query parameters, applying the default
// page size and a hard cap. An explicit limit=0 is honoured as-is.
func pagination(r *http.Request) (offset, limit int) {
	offset = 0
	limit = defaultListLimit
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			limit = parsed
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return offset, limit
}

func parseUintParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	parsed, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(parsed), nil
}
