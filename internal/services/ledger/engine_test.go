package ledger

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/ratingledger/internal/dependencies/mocks"
	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage"
	"github.com/mcoot/ratingledger/internal/storage/memory"
	"github.com/mcoot/ratingledger/internal/testutil"
)

var start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// conflictingStore fails the first n UpdateAccounts calls with ErrConflict
type conflictingStore struct {
	storage.AccountStore

	mu        sync.Mutex
	conflicts int
	calls     int
}

func (c *conflictingStore) UpdateAccounts(ctx context.Context, ids []model.AccountID, mutate storage.MutateFunc) ([]*model.Account, error) {
	c.mu.Lock()
	c.calls++
	fail := c.calls <= c.conflicts
	c.mu.Unlock()
	if fail {
		return nil, model.ErrConflict
	}
	return c.AccountStore.UpdateAccounts(ctx, ids, mutate)
}

type EngineSuite struct {
	suite.Suite
	storage *memory.Storage
	clock   *mocks.MockClock
	random  *mocks.MockRandom
	engine  *Engine
	ctx     context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.storage = memory.New()
	s.clock = mocks.NewMockClock(start)
	s.random = mocks.NewMockRandom()
	s.engine = New(s.storage, s.clock, s.random, DefaultConfig(), testutil.NopLogger())
	s.ctx = context.Background()
}

func (s *EngineSuite) createAccount(id, username string) *model.Account {
	a := model.NewAccount(model.AccountID(id), username, username+"@example.com", "hash", "salt", start)
	s.Require().NoError(s.storage.CreateAccount(s.ctx, a))
	return a
}

func (s *EngineSuite) get(id string) *model.Account {
	a, err := s.storage.GetAccount(s.ctx, model.AccountID(id))
	s.Require().NoError(err)
	return a
}

// ApplyMatchResult tests

func (s *EngineSuite) TestApplyMatchResultWin() {
	s.createAccount("artem", "artem")
	s.clock.Advance(time.Minute)

	accounts, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "artem", RatingDelta: 15, CoinsDelta: 10, Result: model.ResultWin},
	})
	s.Require().NoError(err)
	s.Require().Len(accounts, 1)

	s.Equal(1515, accounts[0].Rating)
	s.Equal(110, accounts[0].Coins)
	s.Equal(model.Statistic{Wins: 1}, accounts[0].Statistic)
	s.Equal(start.Add(time.Minute), accounts[0].UpdatedAt)

	stored := s.get("artem")
	s.Equal(1515, stored.Rating)
	s.Equal(110, stored.Coins)
	s.Equal(model.Statistic{Wins: 1}, stored.Statistic)
}

func (s *EngineSuite) TestApplyMatchResultTwoPlayers() {
	s.createAccount("a", "alice")
	s.createAccount("b", "bob")

	accounts, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "b", RatingDelta: -12, CoinsDelta: -5, Result: model.ResultLoss},
		{AccountID: "a", RatingDelta: 12, CoinsDelta: 5, Result: model.ResultWin},
	})
	s.Require().NoError(err)

	s.Equal(model.AccountID("b"), accounts[0].ID)
	s.Equal(1488, accounts[0].Rating)
	s.Equal(95, accounts[0].Coins)
	s.Equal(model.Statistic{Losses: 1}, accounts[0].Statistic)
	s.Equal(model.AccountID("a"), accounts[1].ID)
	s.Equal(1512, accounts[1].Rating)
}

func (s *EngineSuite) TestApplyMatchResultDraw() {
	s.createAccount("a", "alice")
	s.createAccount("b", "bob")

	_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", Result: model.ResultDraw},
		{AccountID: "b", Result: model.ResultDraw},
	})
	s.Require().NoError(err)

	s.Equal(model.Statistic{Draws: 1}, s.get("a").Statistic)
	s.Equal(model.Statistic{Draws: 1}, s.get("b").Statistic)
}

func (s *EngineSuite) TestApplyMatchResultRatingMayGoNegative() {
	s.createAccount("a", "alice")

	accounts, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", RatingDelta: -2000, Result: model.ResultLoss},
	})
	s.Require().NoError(err)
	s.Equal(-500, accounts[0].Rating)
}

func (s *EngineSuite) TestApplyMatchResultInsufficientCoins() {
	s.createAccount("artem", "artem")

	_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "artem", RatingDelta: -10, CoinsDelta: -150, Result: model.ResultLoss},
	})
	s.ErrorIs(err, model.ErrInsufficientCoins)

	stored := s.get("artem")
	s.Equal(model.DefaultRating, stored.Rating)
	s.Equal(model.DefaultCoins, stored.Coins)
	s.Equal(model.Statistic{}, stored.Statistic)
	s.Equal(start, stored.UpdatedAt)
}

func (s *EngineSuite) TestApplyMatchResultInsufficientCoinsLeavesWholeBatchUnchanged() {
	s.createAccount("a", "alice")
	s.createAccount("b", "bob")

	_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", RatingDelta: 20, CoinsDelta: 50, Result: model.ResultWin},
		{AccountID: "b", RatingDelta: -20, CoinsDelta: -101, Result: model.ResultLoss},
	})
	s.ErrorIs(err, model.ErrInsufficientCoins)

	s.Equal(model.DefaultCoins, s.get("a").Coins)
	s.Equal(model.DefaultRating, s.get("a").Rating)
	s.Equal(model.Statistic{}, s.get("a").Statistic)
	s.Equal(model.DefaultCoins, s.get("b").Coins)
}

func (s *EngineSuite) TestApplyMatchResultSpendsExactBalance() {
	s.createAccount("a", "alice")

	accounts, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", CoinsDelta: -100, Result: model.ResultLoss},
	})
	s.Require().NoError(err)
	s.Equal(0, accounts[0].Coins)
}

func (s *EngineSuite) TestApplyMatchResultStatisticTotalsMatchOutcomes() {
	ids := []string{"a", "b", "c", "d"}
	for _, id := range ids {
		s.createAccount(id, "user-"+id)
	}
	results := []model.MatchResult{model.ResultWin, model.ResultLoss, model.ResultDraw, model.ResultDraw}

	outcomes := make([]model.Outcome, len(ids))
	for i, id := range ids {
		outcomes[i] = model.Outcome{AccountID: model.AccountID(id), Result: results[i]}
	}
	_, err := s.engine.ApplyMatchResult(s.ctx, outcomes)
	s.Require().NoError(err)

	total := 0
	for _, id := range ids {
		total += s.get(id).Statistic.Total()
	}
	s.Equal(len(outcomes), total)
}

func (s *EngineSuite) TestApplyMatchResultRejectsInvalidBatches() {
	s.createAccount("a", "alice")

	cases := map[string][]model.Outcome{
		"empty":          nil,
		"unknown result": {{AccountID: "a", Result: "forfeit"}},
		"missing id":     {{Result: model.ResultWin}},
		"repeated account": {
			{AccountID: "a", Result: model.ResultWin},
			{AccountID: "a", Result: model.ResultLoss},
		},
	}
	for name, outcomes := range cases {
		_, err := s.engine.ApplyMatchResult(s.ctx, outcomes)
		s.ErrorIs(err, model.ErrInvalidInput, name)
	}
	s.Equal(model.Statistic{}, s.get("a").Statistic)
}

func (s *EngineSuite) TestApplyMatchResultUnknownAccount() {
	s.createAccount("a", "alice")

	_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", Result: model.ResultWin},
		{AccountID: "ghost", Result: model.ResultLoss},
	})
	s.ErrorIs(err, model.ErrAccountNotFound)
	s.Equal(model.Statistic{}, s.get("a").Statistic)
}

func (s *EngineSuite) TestApplyMatchResultDisabledAccount() {
	s.createAccount("a", "alice")
	s.createAccount("b", "bob")
	_, err := s.storage.UpdateAccounts(s.ctx, []model.AccountID{"b"}, func(accounts []*model.Account) error {
		accounts[0].Disabled = true
		return nil
	})
	s.Require().NoError(err)

	_, err = s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", Result: model.ResultWin},
		{AccountID: "b", Result: model.ResultLoss},
	})
	s.ErrorIs(err, model.ErrAccountDisabled)
	s.Equal(model.Statistic{}, s.get("a").Statistic)
}

// Concurrency tests

func (s *EngineSuite) TestConcurrentDisjointMatchesBothApply() {
	for _, id := range []string{"a", "b", "c", "d"} {
		s.createAccount(id, "user-"+id)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	matches := [][]model.Outcome{
		{{AccountID: "a", RatingDelta: 10, CoinsDelta: 5, Result: model.ResultWin}, {AccountID: "b", RatingDelta: -10, CoinsDelta: -5, Result: model.ResultLoss}},
		{{AccountID: "c", RatingDelta: 7, CoinsDelta: 3, Result: model.ResultWin}, {AccountID: "d", RatingDelta: -7, CoinsDelta: -3, Result: model.ResultLoss}},
	}
	for i, m := range matches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.engine.ApplyMatchResult(s.ctx, m)
		}()
	}
	wg.Wait()

	s.NoError(errs[0])
	s.NoError(errs[1])
	s.Equal(105, s.get("a").Coins)
	s.Equal(95, s.get("b").Coins)
	s.Equal(103, s.get("c").Coins)
	s.Equal(97, s.get("d").Coins)
}

func (s *EngineSuite) TestConcurrentMatchesSharingAnAccountSerialize() {
	s.createAccount("a", "alice")
	s.createAccount("b", "bob")
	s.createAccount("c", "carol")

	const rounds = 25
	var wg sync.WaitGroup
	for range rounds {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
				{AccountID: "a", RatingDelta: 1, CoinsDelta: 2, Result: model.ResultWin},
				{AccountID: "b", RatingDelta: -1, CoinsDelta: -1, Result: model.ResultLoss},
			})
			s.NoError(err)
		}()
		go func() {
			defer wg.Done()
			_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
				{AccountID: "c", RatingDelta: 3, CoinsDelta: 1, Result: model.ResultWin},
				{AccountID: "a", RatingDelta: -3, CoinsDelta: -1, Result: model.ResultLoss},
			})
			s.NoError(err)
		}()
	}
	wg.Wait()

	a := s.get("a")
	s.Equal(model.DefaultRating+rounds*1-rounds*3, a.Rating)
	s.Equal(model.DefaultCoins+rounds*2-rounds*1, a.Coins)
	s.Equal(model.Statistic{Wins: rounds, Losses: rounds}, a.Statistic)
	s.Equal(model.DefaultCoins-rounds, s.get("b").Coins)
	s.Equal(model.DefaultCoins+rounds, s.get("c").Coins)
}

func (s *EngineSuite) TestApplyMatchResultRatingOverflowIsRejected() {
	a := model.NewAccount("a", "alice", "alice@example.com", "hash", "salt", start)
	a.Rating = math.MaxInt - 5
	s.Require().NoError(s.storage.CreateAccount(s.ctx, a))
	s.createAccount("b", "bob")

	_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", RatingDelta: 10, Result: model.ResultWin},
		{AccountID: "b", RatingDelta: -10, Result: model.ResultLoss},
	})
	s.ErrorIs(err, model.ErrInvalidInput)
	s.Equal(math.MaxInt-5, s.get("a").Rating)
	s.Equal(model.DefaultRating, s.get("b").Rating)
	s.Equal(model.Statistic{}, s.get("b").Statistic)

	accounts, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", RatingDelta: 5, Result: model.ResultWin},
	})
	s.Require().NoError(err)
	s.Equal(math.MaxInt, accounts[0].Rating)
}

func (s *EngineSuite) TestApplyMatchResultRatingUnderflowIsRejected() {
	a := model.NewAccount("a", "alice", "alice@example.com", "hash", "salt", start)
	a.Rating = math.MinInt + 5
	s.Require().NoError(s.storage.CreateAccount(s.ctx, a))

	_, err := s.engine.ApplyMatchResult(s.ctx, []model.Outcome{
		{AccountID: "a", RatingDelta: -10, Result: model.ResultLoss},
	})
	s.ErrorIs(err, model.ErrInvalidInput)
	s.Equal(math.MinInt+5, s.get("a").Rating)
}

// Retry tests

func (s *EngineSuite) TestRetriesConflictsWithinBudget() {
	s.createAccount("a", "alice")
	store := &conflictingStore{AccountStore: s.storage, conflicts: 2}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	engine := New(store, s.clock, s.random, cfg, testutil.NopLogger())

	_, err := engine.ApplyMatchResult(s.ctx, []model.Outcome{{AccountID: "a", Result: model.ResultWin}})
	s.Require().NoError(err)
	s.Equal(3, store.calls)
	s.Equal(1, s.get("a").Statistic.Wins)
}

func (s *EngineSuite) TestConflictAfterRetryBudget() {
	s.createAccount("a", "alice")
	store := &conflictingStore{AccountStore: s.storage, conflicts: 100}
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	engine := New(store, s.clock, s.random, cfg, testutil.NopLogger())

	_, err := engine.ApplyMatchResult(s.ctx, []model.Outcome{{AccountID: "a", Result: model.ResultWin}})
	s.ErrorIs(err, model.ErrConflict)
	s.Equal(cfg.MaxRetries+1, store.calls)
	s.Equal(0, s.get("a").Statistic.Wins)
}

func (s *EngineSuite) TestTimeoutWhileAccountIsLocked() {
	s.createAccount("a", "alice")
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	engine := New(s.storage, s.clock, s.random, cfg, testutil.NopLogger())

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.storage.UpdateAccounts(s.ctx, []model.AccountID{"a"}, func([]*model.Account) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	_, err := engine.ApplyMatchResult(s.ctx, []model.Outcome{{AccountID: "a", Result: model.ResultWin}})
	s.ErrorIs(err, model.ErrTimeout)

	close(release)
	<-done
	s.Equal(0, s.get("a").Statistic.Wins)
}

func (s *EngineSuite) TestCancelledContextDoesNotApply() {
	s.createAccount("a", "alice")
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()

	_, err := s.engine.ApplyMatchResult(ctx, []model.Outcome{{AccountID: "a", Result: model.ResultWin}})
	s.ErrorIs(err, context.Canceled)
	s.Equal(0, s.get("a").Statistic.Wins)
}

// AdjustCoins tests

func (s *EngineSuite) TestAdjustCoinsGrant() {
	s.createAccount("a", "alice")
	s.clock.Advance(time.Hour)

	a, err := s.engine.AdjustCoins(s.ctx, "a", 25)
	s.Require().NoError(err)
	s.Equal(125, a.Coins)
	s.Equal(start.Add(time.Hour), a.UpdatedAt)
	s.Equal(model.Statistic{}, a.Statistic)
}

func (s *EngineSuite) TestAdjustCoinsCharge() {
	s.createAccount("a", "alice")

	a, err := s.engine.AdjustCoins(s.ctx, "a", -40)
	s.Require().NoError(err)
	s.Equal(60, a.Coins)
}

func (s *EngineSuite) TestAdjustCoinsInsufficient() {
	s.createAccount("a", "alice")

	_, err := s.engine.AdjustCoins(s.ctx, "a", -101)
	s.ErrorIs(err, model.ErrInsufficientCoins)
	s.Equal(model.DefaultCoins, s.get("a").Coins)
}

func (s *EngineSuite) TestAdjustCoinsUnknownAccount() {
	_, err := s.engine.AdjustCoins(s.ctx, "ghost", 5)
	s.ErrorIs(err, model.ErrAccountNotFound)

	_, err = s.engine.AdjustCoins(s.ctx, "", 5)
	s.ErrorIs(err, model.ErrInvalidInput)
}

func (s *EngineSuite) TestAdjustCoinsOverflowIsRejected() {
	s.createAccount("a", "alice")

	_, err := s.engine.AdjustCoins(s.ctx, "a", math.MaxInt)
	s.ErrorIs(err, model.ErrInvalidInput)
	s.Equal(model.DefaultCoins, s.get("a").Coins)

	// a huge charge is still just insufficient funds
	_, err = s.engine.AdjustCoins(s.ctx, "a", math.MinInt)
	s.ErrorIs(err, model.ErrInsufficientCoins)
	s.Equal(model.DefaultCoins, s.get("a").Coins)
}

func TestCheckedAdd(t *testing.T) {
	tests := []struct {
		name   string
		a, b   int
		want   int
		wantOK bool
	}{
		{"plain", 1500, 15, 1515, true},
		{"negative", 10, -25, -15, true},
		{"reaches max", math.MaxInt - 1, 1, math.MaxInt, true},
		{"past max", math.MaxInt, 1, 0, false},
		{"reaches min", math.MinInt + 1, -1, math.MinInt, true},
		{"past min", math.MinInt, -1, 0, false},
		{"max plus min", math.MaxInt, math.MinInt, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := checkedAdd(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
