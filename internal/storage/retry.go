package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcoot/ratingledger/internal/dependencies/random"
	"github.com/mcoot/ratingledger/internal/model"
)

// RetryPolicy bounds how a Retrier handles lock contention
type RetryPolicy struct {
	// MaxRetries is how many times a conflicting transaction is retried
	// before ErrConflict reaches the caller
	MaxRetries int
	// Backoff is the base delay; retry n waits n*Backoff plus up to Backoff of jitter
	Backoff time.Duration
}

// Retrier runs UpdateAccounts, retrying transactions that fail with model.ErrConflict.
// mutate may run more than once and must only depend on the accounts it is given.
type Retrier struct {
	store  AccountStore
	policy RetryPolicy
	random random.Random
	logger *slog.Logger
}

// NewRetrier creates a Retrier over store
func NewRetrier(store AccountStore, policy RetryPolicy, rnd random.Random, logger *slog.Logger) *Retrier {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	return &Retrier{store: store, policy: policy, random: rnd, logger: logger}
}

// Update calls UpdateAccounts until it succeeds, fails with something other than
// a conflict, or the retry budget is spent. op names the call in logs and errors.
func (r *Retrier) Update(ctx context.Context, op string, ids []model.AccountID, mutate MutateFunc) ([]*model.Account, error) {
	for attempt := 0; ; attempt++ {
		accounts, err := r.store.UpdateAccounts(ctx, ids, mutate)
		if err == nil {
			return accounts, nil
		}
		if !errors.Is(err, model.ErrConflict) {
			return nil, ContextError(err)
		}
		if attempt >= r.policy.MaxRetries {
			return nil, fmt.Errorf("%s gave up after %d attempts: %w", op, attempt+1, err)
		}

		r.logger.Debug("retrying after lock conflict",
			slog.String("op", op),
			slog.Int("attempt", attempt+1),
		)
		if err := r.backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (r *Retrier) backoff(ctx context.Context, attempt int) error {
	delay := r.policy.Backoff * time.Duration(attempt+1)
	delay += time.Duration(r.random.Intn(int(r.policy.Backoff)))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ContextError(ctx.Err())
	}
}
