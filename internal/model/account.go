package model

import (
	"maps"
	"time"
)

// Starting values for a freshly registered account
const (
	DefaultRating = 1500
	DefaultCoins  = 100
)

// AccountID uniquely identifies an account across the system
type AccountID string

// Statistic holds the match record of an account
type Statistic struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

// Total returns the number of match outcomes recorded
func (s Statistic) Total() int {
	return s.Wins + s.Losses + s.Draws
}

// Record increments the counter matching the result
func (s *Statistic) Record(result MatchResult) error {
	switch result {
	case ResultWin:
		s.Wins++
	case ResultLoss:
		s.Losses++
	case ResultDraw:
		s.Draws++
	default:
		return ErrInvalidInput
	}
	return nil
}

// Account is a user's durable identity, credentials, coin balance and statistics
type Account struct {
	ID           AccountID `json:"id"`
	Username     string    `json:"username"` // changed only through a rename
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	PasswordSalt string    `json:"password_salt"`
	Rating       int       `json:"rating"`
	Coins        int       `json:"coins"` // never negative
	Statistic    Statistic `json:"statistic"`
	Disabled     bool      `json:"disabled"` // accounts are soft-disabled, never deleted
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	// Public profile, edited through UpdateProfile
	AvatarURL   string            `json:"avatar_url,omitempty"`
	Status      string            `json:"status,omitempty"`
	SocialLinks map[string]string `json:"social_links,omitempty"` // network name -> profile URL
}

// NewAccount creates an account with the default rating, coins and an empty statistic
func NewAccount(id AccountID, username, email, passwordHash, passwordSalt string, now time.Time) *Account {
	return &Account{
		ID:           id,
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		PasswordSalt: passwordSalt,
		Rating:       DefaultRating,
		Coins:        DefaultCoins,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a copy that shares no state with the receiver
func (a *Account) Clone() *Account {
	c := *a
	c.SocialLinks = maps.Clone(a.SocialLinks)
	return &c
}

// Touch stamps the modification time, never moving it before creation
func (a *Account) Touch(now time.Time) {
	if now.Before(a.CreatedAt) {
		now = a.CreatedAt
	}
	a.UpdatedAt = now
}
