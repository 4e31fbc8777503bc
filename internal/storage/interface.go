package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/mcoot/ratingledger/internal/model"
)

// MutateFunc changes a set of locked accounts in place.
// Returning an error discards every change made by the call.
type MutateFunc func(accounts []*model.Account) error

// AccountStore defines the interface for account persistence
type AccountStore interface {
	// CreateAccount inserts a new account, enforcing username and email uniqueness
	CreateAccount(ctx context.Context, account *model.Account) error

	// Lookups return model.ErrAccountNotFound for unknown accounts
	GetAccount(ctx context.Context, id model.AccountID) (*model.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*model.Account, error)

	// UpdateAccounts locks the named accounts in ascending id order, passes copies
	// to mutate in the order the ids were given, and commits all of them together.
	// Nothing is written unless mutate returns nil. Username and email changes are
	// re-indexed under the same uniqueness rules as CreateAccount.
	UpdateAccounts(ctx context.Context, ids []model.AccountID, mutate MutateFunc) ([]*model.Account, error)

	// ListAccountsByRating returns active accounts, highest rating first.
	// Ties are broken by descending id.
	ListAccountsByRating(ctx context.Context, offset, limit int) ([]*model.Account, error)

	// Close releases the underlying connections
	Close() error
}

// LockOrder validates a batch of ids and returns them in the order locks must be taken
func LockOrder(ids []model.AccountID) ([]model.AccountID, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no accounts to update", model.ErrInvalidInput)
	}
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return nil, fmt.Errorf("%w: account %s listed twice", model.ErrInvalidInput, sorted[i])
		}
	}
	return sorted, nil
}

// ContextError translates an expired deadline into model.ErrTimeout.
// Other errors, cancellation included, are returned unchanged.
func ContextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", model.ErrTimeout, err)
	}
	return err
}

// CheckInvariants verifies the rules every committed account must satisfy
func CheckInvariants(a *model.Account) error {
	if a.Coins < 0 {
		return fmt.Errorf("%w: account %s would have %d coins", model.ErrInsufficientCoins, a.ID, a.Coins)
	}
	if a.Username == "" {
		return fmt.Errorf("%w: account %s has no username", model.ErrInvalidInput, a.ID)
	}
	return nil
}

// CheckBatchUniqueness rejects a batch in which two accounts claim the same username or email
func CheckBatchUniqueness(accounts []*model.Account) error {
	usernames := make(map[string]struct{}, len(accounts))
	emails := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		if _, dup := usernames[a.Username]; dup {
			return fmt.Errorf("%w: %s", model.ErrDuplicateUsername, a.Username)
		}
		usernames[a.Username] = struct{}{}
		if a.Email == "" {
			continue
		}
		if _, dup := emails[a.Email]; dup {
			return fmt.Errorf("%w: %s", model.ErrDuplicateEmail, a.Email)
		}
		emails[a.Email] = struct{}{}
	}
	return nil
}

// CheckImmutable rejects mutations that touch fields fixed at creation
func CheckImmutable(before, after *model.Account) error {
	if before.ID != after.ID || !before.CreatedAt.Equal(after.CreatedAt) {
		return fmt.Errorf("%w: account %s identity is immutable", model.ErrInvalidInput, before.ID)
	}
	return nil
}

// Username and Email select the uniquely indexed fields of an account
func Username(a *model.Account) string { return a.Username }
func Email(a *model.Account) string    { return a.Email }

// ReleasedInBatch reports whether owner, the current holder of an indexed value,
// is part of the batch and gives the value up in it, as in a swap of two usernames.
func ReleasedInBatch(owner model.AccountID, value string, before, after []*model.Account, field func(*model.Account) string) bool {
	for i := range before {
		if before[i].ID == owner {
			return field(after[i]) != value
		}
	}
	return false
}
