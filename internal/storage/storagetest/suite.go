// Package storagetest holds the behaviour every AccountStore backend must share.
// Backend packages embed Suite and assign Store in their SetupTest.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage"
)

// Epoch is the creation time given to fixture accounts
var Epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

type Suite struct {
	suite.Suite
	Store storage.AccountStore
	Ctx   context.Context
}

// NewAccount builds a fixture account with defaults and a unique email
func NewAccount(id, username string) *model.Account {
	return model.NewAccount(model.AccountID(id), username, username+"@example.com", "hash-"+username, "salt-"+username, Epoch)
}

func (s *Suite) mustCreate(accounts ...*model.Account) {
	for _, a := range accounts {
		s.Require().NoError(s.Store.CreateAccount(s.Ctx, a))
	}
}

func (s *Suite) mustGet(id string) *model.Account {
	a, err := s.Store.GetAccount(s.Ctx, model.AccountID(id))
	s.Require().NoError(err)
	return a
}

// CreateAccount tests

func (s *Suite) TestCreateAndGetAccount() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	a := s.mustGet("acc-1")
	s.Equal(model.AccountID("acc-1"), a.ID)
	s.Equal("artem", a.Username)
	s.Equal("artem@example.com", a.Email)
	s.Equal("hash-artem", a.PasswordHash)
	s.Equal("salt-artem", a.PasswordSalt)
	s.Equal(model.DefaultRating, a.Rating)
	s.Equal(model.DefaultCoins, a.Coins)
	s.Equal(model.Statistic{}, a.Statistic)
	s.False(a.Disabled)
	s.True(a.CreatedAt.Equal(Epoch))
	s.True(a.UpdatedAt.Equal(Epoch))
}

func (s *Suite) TestGetAccountByUsername() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))

	a, err := s.Store.GetAccountByUsername(s.Ctx, "maria")
	s.Require().NoError(err)
	s.Equal(model.AccountID("acc-2"), a.ID)
}

func (s *Suite) TestGetAccountNotFound() {
	_, err := s.Store.GetAccount(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrAccountNotFound)

	_, err = s.Store.GetAccountByUsername(s.Ctx, "missing")
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *Suite) TestCreateDuplicateUsername() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	dup := NewAccount("acc-2", "artem")
	dup.Email = "other@example.com"
	err := s.Store.CreateAccount(s.Ctx, dup)
	s.ErrorIs(err, model.ErrDuplicateUsername)

	_, err = s.Store.GetAccount(s.Ctx, "acc-2")
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *Suite) TestCreateDuplicateEmail() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	dup := NewAccount("acc-2", "maria")
	dup.Email = "artem@example.com"
	err := s.Store.CreateAccount(s.Ctx, dup)
	s.ErrorIs(err, model.ErrDuplicateEmail)

	_, err = s.Store.GetAccountByUsername(s.Ctx, "maria")
	s.ErrorIs(err, model.ErrAccountNotFound)
}

func (s *Suite) TestCreateConcurrentSameUsernameOneWins() {
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a := NewAccount(fmt.Sprintf("acc-%d", i), "artem")
			a.Email = fmt.Sprintf("artem%d@example.com", i)
			errs[i] = s.Store.CreateAccount(s.Ctx, a)
		}()
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
			continue
		}
		s.ErrorIs(err, model.ErrDuplicateUsername)
	}
	s.Equal(1, created)
}

// UpdateAccounts tests

func (s *Suite) TestUpdateAccountsCommitsAll() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))

	updated, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-2", "acc-1"}, func(accounts []*model.Account) error {
		s.Equal(model.AccountID("acc-2"), accounts[0].ID)
		s.Equal(model.AccountID("acc-1"), accounts[1].ID)
		accounts[0].Coins += 5
		accounts[1].Rating += 15
		return nil
	})
	s.Require().NoError(err)
	s.Require().Len(updated, 2)
	s.Equal(model.AccountID("acc-2"), updated[0].ID)
	s.Equal(model.DefaultCoins+5, updated[0].Coins)

	s.Equal(model.DefaultCoins+5, s.mustGet("acc-2").Coins)
	s.Equal(model.DefaultRating+15, s.mustGet("acc-1").Rating)
}

func (s *Suite) TestUpdateAccountsPersistsStatisticAndTimestamps() {
	s.mustCreate(NewAccount("acc-1", "artem"))
	later := Epoch.Add(time.Hour)

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Statistic = model.Statistic{Wins: 2, Losses: 1, Draws: 3}
		accounts[0].Touch(later)
		return nil
	})
	s.Require().NoError(err)

	a := s.mustGet("acc-1")
	s.Equal(model.Statistic{Wins: 2, Losses: 1, Draws: 3}, a.Statistic)
	s.True(a.UpdatedAt.Equal(later))
	s.True(a.CreatedAt.Equal(Epoch))
}

func (s *Suite) TestUpdateAccountsPersistsPublicProfile() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].AvatarURL = "https://cdn.example.com/artem.png"
		accounts[0].Status = "open to rematches"
		accounts[0].SocialLinks = map[string]string{
			"github":   "https://github.com/artem",
			"mastodon": "https://mastodon.social/@artem",
		}
		return nil
	})
	s.Require().NoError(err)

	a := s.mustGet("acc-1")
	s.Equal("https://cdn.example.com/artem.png", a.AvatarURL)
	s.Equal("open to rematches", a.Status)
	s.Equal(map[string]string{
		"github":   "https://github.com/artem",
		"mastodon": "https://mastodon.social/@artem",
	}, a.SocialLinks)

	_, err = s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].AvatarURL = ""
		accounts[0].SocialLinks = nil
		return nil
	})
	s.Require().NoError(err)

	a = s.mustGet("acc-1")
	s.Empty(a.AvatarURL)
	s.Equal("open to rematches", a.Status)
	s.Empty(a.SocialLinks)
}

func (s *Suite) TestLargeCountersRoundTrip() {
	a := NewAccount("acc-1", "artem")
	a.Rating = 1 << 40
	a.Coins = 1 << 41
	a.Statistic = model.Statistic{Wins: 1 << 33, Losses: 1 << 32, Draws: 1 << 34}
	s.mustCreate(a)

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Rating++
		accounts[0].Coins++
		return nil
	})
	s.Require().NoError(err)

	got := s.mustGet("acc-1")
	s.Equal(1<<40+1, got.Rating)
	s.Equal(1<<41+1, got.Coins)
	s.Equal(model.Statistic{Wins: 1 << 33, Losses: 1 << 32, Draws: 1 << 34}, got.Statistic)
}

func (s *Suite) TestUpdateAccountsMutateErrorWritesNothing() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))
	boom := errors.New("boom")

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1", "acc-2"}, func(accounts []*model.Account) error {
		accounts[0].Coins = 1
		accounts[1].Coins = 2
		return boom
	})
	s.ErrorIs(err, boom)

	s.Equal(model.DefaultCoins, s.mustGet("acc-1").Coins)
	s.Equal(model.DefaultCoins, s.mustGet("acc-2").Coins)
}

func (s *Suite) TestUpdateAccountsRejectsNegativeCoins() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1", "acc-2"}, func(accounts []*model.Account) error {
		accounts[0].Coins += 10
		accounts[1].Coins = -1
		return nil
	})
	s.ErrorIs(err, model.ErrInsufficientCoins)

	s.Equal(model.DefaultCoins, s.mustGet("acc-1").Coins)
	s.Equal(model.DefaultCoins, s.mustGet("acc-2").Coins)
}

func (s *Suite) TestUpdateAccountsUnknownID() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	called := false
	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1", "missing"}, func(accounts []*model.Account) error {
		called = true
		return nil
	})
	s.ErrorIs(err, model.ErrAccountNotFound)
	s.False(called)
}

func (s *Suite) TestUpdateAccountsRejectsRepeatedID() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1", "acc-1"}, func([]*model.Account) error { return nil })
	s.ErrorIs(err, model.ErrInvalidInput)
}

func (s *Suite) TestUpdateAccountsRejectsEmptyBatch() {
	_, err := s.Store.UpdateAccounts(s.Ctx, nil, func([]*model.Account) error { return nil })
	s.ErrorIs(err, model.ErrInvalidInput)
}

func (s *Suite) TestUpdateAccountsRejectsIDChange() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].ID = "acc-9"
		return nil
	})
	s.ErrorIs(err, model.ErrInvalidInput)
	s.mustGet("acc-1")
}

func (s *Suite) TestUpdateAccountsRenameReindexes() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Username = "artemis"
		return nil
	})
	s.Require().NoError(err)

	a, err := s.Store.GetAccountByUsername(s.Ctx, "artemis")
	s.Require().NoError(err)
	s.Equal(model.AccountID("acc-1"), a.ID)

	_, err = s.Store.GetAccountByUsername(s.Ctx, "artem")
	s.ErrorIs(err, model.ErrAccountNotFound)

	// the old name is free again
	reuse := NewAccount("acc-2", "artem")
	reuse.Email = "new@example.com"
	s.NoError(s.Store.CreateAccount(s.Ctx, reuse))
}

func (s *Suite) TestUpdateAccountsRenameToTakenUsername() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Username = "maria"
		return nil
	})
	s.ErrorIs(err, model.ErrDuplicateUsername)
	s.Equal("artem", s.mustGet("acc-1").Username)
}

func (s *Suite) TestUpdateAccountsEmailChange() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Email = "maria@example.com"
		return nil
	})
	s.ErrorIs(err, model.ErrDuplicateEmail)

	_, err = s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Email = "artem@new.example.com"
		return nil
	})
	s.Require().NoError(err)
	s.Equal("artem@new.example.com", s.mustGet("acc-1").Email)

	// the old address can be claimed by someone else now
	_, err = s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"acc-2"}, func(accounts []*model.Account) error {
		accounts[0].Email = "artem@example.com"
		return nil
	})
	s.NoError(err)
}

func (s *Suite) TestUpdateAccountsExpiredContextTimesOut() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	ctx, cancel := context.WithDeadline(s.Ctx, time.Now().Add(-time.Second))
	defer cancel()

	_, err := s.Store.UpdateAccounts(ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Coins = 0
		return nil
	})
	s.ErrorIs(err, model.ErrTimeout)
	s.Equal(model.DefaultCoins, s.mustGet("acc-1").Coins)
}

func (s *Suite) TestUpdateAccountsCancelledDuringMutateWritesNothing() {
	s.mustCreate(NewAccount("acc-1", "artem"))

	ctx, cancel := context.WithCancel(s.Ctx)
	_, err := s.Store.UpdateAccounts(ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].Coins = 0
		cancel()
		return nil
	})
	s.Error(err)
	s.Equal(model.DefaultCoins, s.mustGet("acc-1").Coins)
}

func (s *Suite) TestUpdateAccountsConcurrentIncrementsAreNotLost() {
	s.mustCreate(NewAccount("acc-1", "artem"), NewAccount("acc-2", "maria"))

	const n = 20
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := []model.AccountID{"acc-1", "acc-2"}
			if i%2 == 1 {
				ids = []model.AccountID{"acc-2", "acc-1"}
			}
			for {
				_, err := s.Store.UpdateAccounts(s.Ctx, ids, func(accounts []*model.Account) error {
					for _, a := range accounts {
						a.Coins++
					}
					return nil
				})
				if errors.Is(err, model.ErrConflict) {
					continue
				}
				s.NoError(err)
				return
			}
		}()
	}
	wg.Wait()

	s.Equal(model.DefaultCoins+n, s.mustGet("acc-1").Coins)
	s.Equal(model.DefaultCoins+n, s.mustGet("acc-2").Coins)
}

// ListAccountsByRating tests

func (s *Suite) seedRatings(ratings map[string]int) {
	for username, rating := range ratings {
		a := NewAccount("id-"+username, username)
		a.Rating = rating
		s.mustCreate(a)
	}
}

func usernames(accounts []*model.Account) []string {
	names := make([]string, len(accounts))
	for i, a := range accounts {
		names[i] = a.Username
	}
	return names
}

func (s *Suite) TestListAccountsByRatingOrdersDescending() {
	s.seedRatings(map[string]int{"a": 1400, "b": 1600, "c": 1500})

	list, err := s.Store.ListAccountsByRating(s.Ctx, 0, 10)
	s.Require().NoError(err)
	s.Equal([]string{"b", "c", "a"}, usernames(list))
}

func (s *Suite) TestListAccountsByRatingHandlesExtremeRatings() {
	s.seedRatings(map[string]int{"top": math.MaxInt, "mid": 1500, "low": -10, "bottom": math.MinInt})

	list, err := s.Store.ListAccountsByRating(s.Ctx, 0, 10)
	s.Require().NoError(err)
	s.Equal([]string{"top", "mid", "low", "bottom"}, usernames(list))
}

func (s *Suite) TestListAccountsByRatingPaginates() {
	s.seedRatings(map[string]int{"a": 1400, "b": 1600, "c": 1500, "d": 1300})

	page, err := s.Store.ListAccountsByRating(s.Ctx, 1, 2)
	s.Require().NoError(err)
	s.Equal([]string{"c", "a"}, usernames(page))

	page, err = s.Store.ListAccountsByRating(s.Ctx, 10, 2)
	s.Require().NoError(err)
	s.Empty(page)
}

func (s *Suite) TestListAccountsByRatingTracksRatingChanges() {
	s.seedRatings(map[string]int{"a": 1400, "b": 1600})

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"id-a"}, func(accounts []*model.Account) error {
		accounts[0].Rating = 1700
		return nil
	})
	s.Require().NoError(err)

	list, err := s.Store.ListAccountsByRating(s.Ctx, 0, 10)
	s.Require().NoError(err)
	s.Equal([]string{"a", "b"}, usernames(list))
}

func (s *Suite) TestListAccountsByRatingSkipsDisabled() {
	s.seedRatings(map[string]int{"a": 1400, "b": 1600})

	_, err := s.Store.UpdateAccounts(s.Ctx, []model.AccountID{"id-b"}, func(accounts []*model.Account) error {
		accounts[0].Disabled = true
		return nil
	})
	s.Require().NoError(err)

	list, err := s.Store.ListAccountsByRating(s.Ctx, 0, 10)
	s.Require().NoError(err)
	s.Equal([]string{"a"}, usernames(list))

	// disabled accounts remain readable
	b := s.mustGet("id-b")
	s.True(b.Disabled)
}
