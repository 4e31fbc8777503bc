package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mcoot/ratingledger/internal/api/request"
	"github.com/mcoot/ratingledger/internal/api/response"
	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/services/account"
	"github.com/mcoot/ratingledger/internal/services/ledger"
)

// AccountHandler handles account-related endpoints
type AccountHandler struct {
	accountService *account.Service
	ledgerEngine   *ledger.Engine
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accountService *account.Service, ledgerEngine *ledger.Engine) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		ledgerEngine:   ledgerEngine,
	}
}

// Register handles POST /api/v1/accounts
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req request.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Username == "" {
		WriteError(w, NewInvalidRequestError("username is required"))
		return
	}
	if req.Email == "" {
		WriteError(w, NewInvalidRequestError("email is required"))
		return
	}
	if req.Password == "" {
		WriteError(w, NewInvalidRequestError("password is required"))
		return
	}

	a, err := h.accountService.Register(r.Context(), account.RegisterParams{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.AccountFromModel(a))
}

// Get handles GET /api/v1/accounts/{id}
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.accountService.GetAccount(r.Context(), accountID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// GetByUsername handles GET /api/v1/accounts/by-username/{username}
func (h *AccountHandler) GetByUsername(w http.ResponseWriter, r *http.Request) {
	a, err := h.accountService.GetAccountByUsername(r.Context(), mux.Vars(r)["username"])
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// UpdateProfile handles PATCH /api/v1/accounts/{id}
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req request.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Email == nil && req.Password == nil && req.AvatarURL == nil && req.Status == nil && req.SocialLinks == nil {
		WriteError(w, NewInvalidRequestError("at least one profile field is required"))
		return
	}

	a, err := h.accountService.UpdateProfile(r.Context(), accountID(r), account.ProfileUpdate{
		Email:       req.Email,
		Password:    req.Password,
		AvatarURL:   req.AvatarURL,
		Status:      req.Status,
		SocialLinks: req.SocialLinks,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// Rename handles POST /api/v1/accounts/{id}/rename
func (h *AccountHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req request.RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Username == "" {
		WriteError(w, NewInvalidRequestError("username is required"))
		return
	}

	a, err := h.accountService.Rename(r.Context(), accountID(r), req.Username)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// Disable handles POST /api/v1/accounts/{id}/disable
func (h *AccountHandler) Disable(w http.ResponseWriter, r *http.Request) {
	a, err := h.accountService.Disable(r.Context(), accountID(r))
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// AdjustCoins handles POST /api/v1/accounts/{id}/coins
func (h *AccountHandler) AdjustCoins(w http.ResponseWriter, r *http.Request) {
	var req request.AdjustCoinsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Delta == 0 {
		WriteError(w, NewInvalidRequestError("delta must be non-zero"))
		return
	}

	a, err := h.ledgerEngine.AdjustCoins(r.Context(), accountID(r), req.Delta)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// VerifyCredentials handles POST /api/v1/credentials/verify
func (h *AccountHandler) VerifyCredentials(w http.ResponseWriter, r *http.Request) {
	var req request.VerifyCredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if req.Username == "" {
		WriteError(w, NewInvalidRequestError("username is required"))
		return
	}
	if req.Password == "" {
		WriteError(w, NewInvalidRequestError("password is required"))
		return
	}

	a, err := h.accountService.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.AccountFromModel(a))
}

// Leaderboard handles GET /api/v1/leaderboard?page=&limit=
func (h *AccountHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page", 1)
	if err != nil {
		WriteError(w, NewInvalidRequestError("page must be an integer"))
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		WriteError(w, NewInvalidRequestError("limit must be an integer"))
		return
	}

	p, err := h.accountService.Leaderboard(r.Context(), page, limit)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LeaderboardFromPage(p))
}

func accountID(r *http.Request) model.AccountID {
	return model.AccountID(mux.Vars(r)["id"])
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}
