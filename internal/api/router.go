package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mcoot/ratingledger/internal/api/handler"
	"github.com/mcoot/ratingledger/internal/api/middleware"
	"github.com/mcoot/ratingledger/internal/api/response"
	"github.com/mcoot/ratingledger/internal/services/account"
	"github.com/mcoot/ratingledger/internal/services/ledger"
)

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	Logger         *slog.Logger
	AccountService *account.Service
	LedgerEngine   *ledger.Engine
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	// Create handlers
	accountHandler := handler.NewAccountHandler(cfg.AccountService, cfg.LedgerEngine)
	matchHandler := handler.NewMatchHandler(cfg.LedgerEngine)

	// API subrouter with common middleware
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Logging(cfg.Logger))
	api.Use(middleware.Recovery(cfg.Logger))

	// Account routes
	api.HandleFunc("/accounts", accountHandler.Register).Methods(http.MethodPost)
	api.HandleFunc("/accounts/by-username/{username}", accountHandler.GetByUsername).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", accountHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{id}", accountHandler.UpdateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/accounts/{id}/rename", accountHandler.Rename).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/disable", accountHandler.Disable).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}/coins", accountHandler.AdjustCoins).Methods(http.MethodPost)

	// Credential check for the session layer in front of this service
	api.HandleFunc("/credentials/verify", accountHandler.VerifyCredentials).Methods(http.MethodPost)

	// Ledger routes
	api.HandleFunc("/matches/results", matchHandler.ApplyResult).Methods(http.MethodPost)
	api.HandleFunc("/leaderboard", accountHandler.Leaderboard).Methods(http.MethodGet)

	// Health check endpoint
	api.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}
