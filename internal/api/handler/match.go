package handler

import (
	"encoding/json"
	"net/http"

	"github.com/mcoot/ratingledger/internal/api/request"
	"github.com/mcoot/ratingledger/internal/api/response"
	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/services/ledger"
)

// MatchHandler handles match settlement endpoints
type MatchHandler struct {
	ledgerEngine *ledger.Engine
}

// NewMatchHandler creates a new match handler
func NewMatchHandler(ledgerEngine *ledger.Engine) *MatchHandler {
	return &MatchHandler{
		ledgerEngine: ledgerEngine,
	}
}

// ApplyResult handles POST /api/v1/matches/results
func (h *MatchHandler) ApplyResult(w http.ResponseWriter, r *http.Request) {
	var req request.ApplyMatchResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, NewInvalidRequestError("invalid request body"))
		return
	}

	if len(req.Outcomes) == 0 {
		WriteError(w, NewInvalidRequestError("outcomes are required"))
		return
	}

	outcomes := make([]model.Outcome, len(req.Outcomes))
	for i, o := range req.Outcomes {
		outcomes[i] = model.Outcome{
			AccountID:   model.AccountID(o.AccountID),
			RatingDelta: o.DeltaRating,
			CoinsDelta:  o.DeltaCoins,
			Result:      model.MatchResult(o.Result),
		}
	}

	accounts, err := h.ledgerEngine.ApplyMatchResult(r.Context(), outcomes)
	if err != nil {
		WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.MatchResult{Accounts: response.AccountsFromModel(accounts)})
}
