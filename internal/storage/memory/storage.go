package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage"
)

// Storage is an in-memory implementation of the account store.
// mu guards the maps; each account additionally has a one-slot channel used
// as a lock that can be waited on together with a context.
type Storage struct {
	mu sync.RWMutex

	accounts      map[model.AccountID]*model.Account
	usernameIndex map[string]model.AccountID
	emailIndex    map[string]model.AccountID
	locks         map[model.AccountID]chan struct{}
}

// New creates a new in-memory storage instance
func New() *Storage {
	return &Storage{
		accounts:      make(map[model.AccountID]*model.Account),
		usernameIndex: make(map[string]model.AccountID),
		emailIndex:    make(map[string]model.AccountID),
		locks:         make(map[model.AccountID]chan struct{}),
	}
}

// Ensure Storage implements the interface
var _ storage.AccountStore = (*Storage)(nil)

func (s *Storage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := ctx.Err(); err != nil {
		return storage.ContextError(err)
	}
	if err := storage.CheckInvariants(account); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return fmt.Errorf("%w: account %s already exists", model.ErrInvalidInput, account.ID)
	}
	if _, taken := s.usernameIndex[account.Username]; taken {
		return fmt.Errorf("%w: %s", model.ErrDuplicateUsername, account.Username)
	}
	if account.Email != "" {
		if _, taken := s.emailIndex[account.Email]; taken {
			return fmt.Errorf("%w: %s", model.ErrDuplicateEmail, account.Email)
		}
		s.emailIndex[account.Email] = account.ID
	}

	s.accounts[account.ID] = account.Clone()
	s.usernameIndex[account.Username] = account.ID
	s.locks[account.ID] = make(chan struct{}, 1)
	return nil
}

func (s *Storage) GetAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, id)
	}
	return account.Clone(), nil
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernameIndex[username]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, username)
	}
	return s.accounts[id].Clone(), nil
}

func (s *Storage) UpdateAccounts(ctx context.Context, ids []model.AccountID, mutate storage.MutateFunc) ([]*model.Account, error) {
	order, err := storage.LockOrder(ids)
	if err != nil {
		return nil, err
	}

	release, err := s.lockAll(ctx, order)
	if err != nil {
		return nil, err
	}
	defer release()

	// Holding every per-account lock means no other writer can change these
	// records until release, so the copies below stay current.
	s.mu.RLock()
	before := make([]*model.Account, len(ids))
	working := make([]*model.Account, len(ids))
	for i, id := range ids {
		account := s.accounts[id]
		before[i] = account
		working[i] = account.Clone()
	}
	s.mu.RUnlock()

	if err := mutate(working); err != nil {
		return nil, err
	}
	for i := range working {
		if err := storage.CheckImmutable(before[i], working[i]); err != nil {
			return nil, err
		}
		if err := storage.CheckInvariants(working[i]); err != nil {
			return nil, err
		}
	}
	if err := storage.CheckBatchUniqueness(working); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.ContextError(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkIndexes(before, working); err != nil {
		return nil, err
	}
	result := make([]*model.Account, len(working))
	for i, account := range working {
		s.reindex(before[i], account)
		s.accounts[account.ID] = account
		result[i] = account.Clone()
	}
	return result, nil
}

func (s *Storage) ListAccountsByRating(ctx context.Context, offset, limit int) ([]*model.Account, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative offset or limit", model.ErrInvalidInput)
	}

	s.mu.RLock()
	active := make([]*model.Account, 0, len(s.accounts))
	for _, account := range s.accounts {
		if !account.Disabled {
			active = append(active, account.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(active, func(a, b *model.Account) int {
		// Compare rather than subtract: ratings can sit near the int limits
		if c := cmp.Compare(b.Rating, a.Rating); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	if offset >= len(active) {
		return []*model.Account{}, nil
	}
	end := min(offset+limit, len(active))
	return active[offset:end], nil
}

// Close is a no-op for the in-memory store
func (s *Storage) Close() error {
	return nil
}

// lockAll takes the per-account locks in the given order, giving up when ctx ends.
// The returned func releases every lock taken.
func (s *Storage) lockAll(ctx context.Context, order []model.AccountID) (func(), error) {
	s.mu.RLock()
	chans := make([]chan struct{}, len(order))
	for i, id := range order {
		ch, ok := s.locks[id]
		if !ok {
			s.mu.RUnlock()
			return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, id)
		}
		chans[i] = ch
	}
	s.mu.RUnlock()

	held := 0
	release := func() {
		for i := held - 1; i >= 0; i-- {
			<-chans[i]
		}
	}
	for _, ch := range chans {
		select {
		case ch <- struct{}{}:
			held++
		case <-ctx.Done():
			release()
			return nil, storage.ContextError(ctx.Err())
		}
	}
	return release, nil
}

// checkIndexes must be called with mu held
func (s *Storage) checkIndexes(before, after []*model.Account) error {
	for i, a := range after {
		if a.Username != before[i].Username {
			if owner, taken := s.usernameIndex[a.Username]; taken && !storage.ReleasedInBatch(owner, a.Username, before, after, storage.Username) {
				return fmt.Errorf("%w: %s", model.ErrDuplicateUsername, a.Username)
			}
		}
		if a.Email != "" && a.Email != before[i].Email {
			if owner, taken := s.emailIndex[a.Email]; taken && !storage.ReleasedInBatch(owner, a.Email, before, after, storage.Email) {
				return fmt.Errorf("%w: %s", model.ErrDuplicateEmail, a.Email)
			}
		}
	}
	return nil
}

// reindex must be called with mu held
func (s *Storage) reindex(before, after *model.Account) {
	if before.Username != after.Username {
		if s.usernameIndex[before.Username] == before.ID {
			delete(s.usernameIndex, before.Username)
		}
		s.usernameIndex[after.Username] = after.ID
	}
	if before.Email != after.Email {
		if before.Email != "" && s.emailIndex[before.Email] == before.ID {
			delete(s.emailIndex, before.Email)
		}
		if after.Email != "" {
			s.emailIndex[after.Email] = after.ID
		}
	}
}
