package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/mcoot/ratingledger/internal/dependencies/clock"
	"github.com/mcoot/ratingledger/internal/dependencies/random"
	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage"
)

// Config holds configuration for the ledger engine
type Config struct {
	// MaxRetries is how many times a conflicting transaction is retried
	// before ErrConflict reaches the caller
	MaxRetries int
	// RetryBackoff is the base delay; attempt n waits n*RetryBackoff plus jitter
	RetryBackoff time.Duration
	// Timeout bounds a whole call, retries included
	Timeout time.Duration
}

// DefaultConfig returns default ledger configuration
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		RetryBackoff: 20 * time.Millisecond,
		Timeout:      5 * time.Second,
	}
}

// Engine is the only writer of ratings, coin balances and statistics
type Engine struct {
	clock   clock.Clock
	retrier *storage.Retrier
	cfg     Config
	logger  *slog.Logger
}

// New creates a new ledger Engine
func New(
	store storage.AccountStore,
	clock clock.Clock,
	random random.Random,
	cfg Config,
	logger *slog.Logger,
) *Engine {
	def := DefaultConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Engine{
		clock: clock,
		retrier: storage.NewRetrier(store, storage.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		}, random, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// ApplyMatchResult applies every outcome of one match in a single transaction.
// Either all accounts change or none do. Results are returned in outcome order.
func (e *Engine) ApplyMatchResult(ctx context.Context, outcomes []model.Outcome) ([]*model.Account, error) {
	if err := model.ValidateOutcomes(outcomes); err != nil {
		return nil, err
	}

	ids := make([]model.AccountID, len(outcomes))
	for i, o := range outcomes {
		ids[i] = o.AccountID
	}

	accounts, err := e.update(ctx, "apply_match_result", ids, func(accounts []*model.Account) error {
		now := e.clock.Now()
		for i, a := range accounts {
			if err := apply(a, outcomes[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		e.logger.Warn("match result rejected",
			slog.Int("outcome_count", len(outcomes)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	e.logger.Info("match result applied",
		slog.Int("outcome_count", len(outcomes)),
	)
	return accounts, nil
}

// AdjustCoins grants (positive delta) or charges (negative delta) one account
func (e *Engine) AdjustCoins(ctx context.Context, id model.AccountID, delta int) (*model.Account, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: account id is empty", model.ErrInvalidInput)
	}

	accounts, err := e.update(ctx, "adjust_coins", []model.AccountID{id}, func(accounts []*model.Account) error {
		a := accounts[0]
		if a.Disabled {
			return fmt.Errorf("%w: %s", model.ErrAccountDisabled, a.ID)
		}
		if err := addCoins(a, delta); err != nil {
			return err
		}
		a.Touch(e.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("coins adjusted",
		slog.String("account_id", string(id)),
		slog.Int("delta", delta),
		slog.Int("balance", accounts[0].Coins),
	)
	return accounts[0], nil
}

func apply(a *model.Account, o model.Outcome, now time.Time) error {
	if a.Disabled {
		return fmt.Errorf("%w: %s", model.ErrAccountDisabled, a.ID)
	}
	if err := addCoins(a, o.CoinsDelta); err != nil {
		return err
	}
	// rating has no floor, only the int range
	rating, ok := checkedAdd(a.Rating, o.RatingDelta)
	if !ok {
		return fmt.Errorf("%w: rating change of %d overflows account %s", model.ErrInvalidInput, o.RatingDelta, a.ID)
	}
	a.Rating = rating
	if err := a.Statistic.Record(o.Result); err != nil {
		return err
	}
	a.Touch(now)
	return nil
}

func addCoins(a *model.Account, delta int) error {
	coins, ok := checkedAdd(a.Coins, delta)
	if !ok {
		return fmt.Errorf("%w: coin change of %d overflows account %s", model.ErrInvalidInput, delta, a.ID)
	}
	if coins < 0 {
		return fmt.Errorf("%w: account %s has %d coins, change of %d", model.ErrInsufficientCoins, a.ID, a.Coins, delta)
	}
	a.Coins = coins
	return nil
}

// checkedAdd returns a+b, or false when the sum does not fit in an int
func checkedAdd(a, b int) (int, bool) {
	if (b > 0 && a > math.MaxInt-b) || (b < 0 && a < math.MinInt-b) {
		return 0, false
	}
	return a + b, true
}

// update runs one storage transaction under the call timeout, retrying on conflict
func (e *Engine) update(ctx context.Context, op string, ids []model.AccountID, mutate storage.MutateFunc) ([]*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()
	return e.retrier.Update(ctx, op, ids, mutate)
}
