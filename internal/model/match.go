package model

import "fmt"

// MatchResult is one account's result in a resolved match
type MatchResult string

const (
	ResultWin  MatchResult = "win"
	ResultLoss MatchResult = "loss"
	ResultDraw MatchResult = "draw"
)

// Valid reports whether the result is one of the known kinds
func (r MatchResult) Valid() bool {
	switch r {
	case ResultWin, ResultLoss, ResultDraw:
		return true
	}
	return false
}

// Outcome is one account's result and deltas from a single resolved match
type Outcome struct {
	AccountID   AccountID   `json:"account_id"`
	RatingDelta int         `json:"delta_rating"`
	CoinsDelta  int         `json:"delta_coins"`
	Result      MatchResult `json:"result"`
}

// ValidateOutcomes checks a batch before it reaches storage.
// A batch must be non-empty, name known results, and list every account once.
func ValidateOutcomes(outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return fmt.Errorf("%w: no outcomes in batch", ErrInvalidInput)
	}
	seen := make(map[AccountID]struct{}, len(outcomes))
	for i, o := range outcomes {
		if o.AccountID == "" {
			return fmt.Errorf("%w: outcome %d has no account id", ErrInvalidInput, i)
		}
		if !o.Result.Valid() {
			return fmt.Errorf("%w: outcome %d has unknown result %q", ErrInvalidInput, i, o.Result)
		}
		if _, dup := seen[o.AccountID]; dup {
			return fmt.Errorf("%w: account %s appears more than once", ErrInvalidInput, o.AccountID)
		}
		seen[o.AccountID] = struct{}{}
	}
	return nil
}
