package response

import (
	"time"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/services/account"
)

// Statistic is an account's match record
type Statistic struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// StatisticFromModel converts model.Statistic
func StatisticFromModel(s model.Statistic) Statistic {
	return Statistic{Wins: s.Wins, Losses: s.Losses, Draws: s.Draws}
}

// Account represents an account in API responses. Credentials are never included.
type Account struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	AvatarURL   string            `json:"avatar_url,omitempty"`
	Status      string            `json:"status,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"`
	Rating      int               `json:"rating"`
	Coins       int               `json:"coins"`
	Statistic   Statistic         `json:"statistic"`
	Disabled    bool              `json:"disabled"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// AccountFromModel converts a model.Account to a response Account
func AccountFromModel(a *model.Account) Account {
	return Account{
		ID:          string(a.ID),
		Username:    a.Username,
		Email:       a.Email,
		AvatarURL:   a.AvatarURL,
		Status:      a.Status,
		SocialLinks: a.SocialLinks,
		Rating:      a.Rating,
		Coins:       a.Coins,
		Statistic:   StatisticFromModel(a.Statistic),
		Disabled:    a.Disabled,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

// AccountsFromModel converts a slice, keeping order
func AccountsFromModel(accounts []*model.Account) []Account {
	out := make([]Account, len(accounts))
	for i, a := range accounts {
		out[i] = AccountFromModel(a)
	}
	return out
}

// MatchResult is the response for POST /matches/results
type MatchResult struct {
	Accounts []Account `json:"accounts"`
}

// LeaderboardEntry is one ranked account
type LeaderboardEntry struct {
	Rank      int       `json:"rank"`
	AccountID string    `json:"account_id"`
	Username  string    `json:"username"`
	Rating    int       `json:"rating"`
	Statistic Statistic `json:"statistic"`
}

// Leaderboard is the response for GET /leaderboard
type Leaderboard struct {
	Page    int                `json:"page"`
	Limit   int                `json:"limit"`
	Entries []LeaderboardEntry `json:"entries"`
}

// LeaderboardFromPage converts an account.LeaderboardPage, numbering ranks across pages
func LeaderboardFromPage(p *account.LeaderboardPage) Leaderboard {
	entries := make([]LeaderboardEntry, len(p.Accounts))
	first := (p.Page-1)*p.Limit + 1
	for i, a := range p.Accounts {
		entries[i] = LeaderboardEntry{
			Rank:      first + i,
			AccountID: string(a.ID),
			Username:  a.Username,
			Rating:    a.Rating,
			Statistic: StatisticFromModel(a.Statistic),
		}
	}
	return Leaderboard{Page: p.Page, Limit: p.Limit, Entries: entries}
}

// Health is the response for GET /health
type Health struct {
	Status string `json:"status"`
}
