package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage/storagetest"
)

type StorageSuite struct {
	storagetest.Suite
	storage *Storage
}

func TestStorageSuite(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

func (s *StorageSuite) SetupTest() {
	s.storage = New()
	s.Store = s.storage
	s.Ctx = context.Background()
}

func (s *StorageSuite) TestGetAccountReturnsCopy() {
	s.Require().NoError(s.storage.CreateAccount(s.Ctx, storagetest.NewAccount("acc-1", "artem")))

	a, _ := s.storage.GetAccount(s.Ctx, "acc-1")
	a.Coins = 0

	again, _ := s.storage.GetAccount(s.Ctx, "acc-1")
	s.Equal(model.DefaultCoins, again.Coins)
}

func (s *StorageSuite) TestSocialLinksAreNotShared() {
	a := storagetest.NewAccount("acc-1", "artem")
	a.SocialLinks = map[string]string{"github": "https://github.com/artem"}
	s.Require().NoError(s.storage.CreateAccount(s.Ctx, a))
	a.SocialLinks["github"] = "https://evil.example.com"

	got, _ := s.storage.GetAccount(s.Ctx, "acc-1")
	got.SocialLinks["twitch"] = "https://twitch.tv/artem"

	_, err := s.storage.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func(accounts []*model.Account) error {
		accounts[0].SocialLinks["github"] = "https://gitlab.com/artem"
		return model.ErrInvalidInput
	})
	s.ErrorIs(err, model.ErrInvalidInput)

	again, _ := s.storage.GetAccount(s.Ctx, "acc-1")
	s.Equal(map[string]string{"github": "https://github.com/artem"}, again.SocialLinks)
}

func (s *StorageSuite) TestUpdateAccountsSwapsUsernames() {
	s.Require().NoError(s.storage.CreateAccount(s.Ctx, storagetest.NewAccount("acc-1", "artem")))
	s.Require().NoError(s.storage.CreateAccount(s.Ctx, storagetest.NewAccount("acc-2", "maria")))

	_, err := s.storage.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1", "acc-2"}, func(accounts []*model.Account) error {
		accounts[0].Username, accounts[1].Username = accounts[1].Username, accounts[0].Username
		return nil
	})
	s.Require().NoError(err)

	a, err := s.storage.GetAccountByUsername(s.Ctx, "maria")
	s.Require().NoError(err)
	s.Equal(model.AccountID("acc-1"), a.ID)
	b, err := s.storage.GetAccountByUsername(s.Ctx, "artem")
	s.Require().NoError(err)
	s.Equal(model.AccountID("acc-2"), b.ID)
}

func (s *StorageSuite) TestUpdateAccountsWaitsForLockUntilDeadline() {
	s.Require().NoError(s.storage.CreateAccount(s.Ctx, storagetest.NewAccount("acc-1", "artem")))

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = s.storage.UpdateAccounts(s.Ctx, []model.AccountID{"acc-1"}, func([]*model.Account) error {
			close(holding)
			<-done
			return nil
		})
	}()
	<-holding
	defer close(done)

	ctx, cancel := context.WithTimeout(s.Ctx, 20*time.Millisecond)
	defer cancel()
	_, err := s.storage.UpdateAccounts(ctx, []model.AccountID{"acc-1"}, func([]*model.Account) error { return nil })
	s.ErrorIs(err, model.ErrTimeout)
}
