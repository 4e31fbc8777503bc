package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage"
)

// Storage is a Redis-backed implementation of the account store.
// Accounts are JSON documents; multi-account updates run as WATCH/MULTI/EXEC
// transactions over the account keys and any index keys they claim.
type Storage struct {
	client *redis.Client
	cfg    Config
}

// New creates a new Redis storage instance
func New(cfg Config) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config) *Storage {
	if cfg.CreateRetries <= 0 {
		cfg.CreateRetries = DefaultConfig().CreateRetries
	}
	return &Storage{
		client: client,
		cfg:    cfg,
	}
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ensure Storage implements the interface
var _ storage.AccountStore = (*Storage)(nil)

func (s *Storage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := storage.CheckInvariants(account); err != nil {
		return err
	}
	data, err := json.Marshal(account)
	if err != nil {
		return err
	}

	keys := []string{accountKey(account.ID), usernameIndexKey(account.Username)}
	if account.Email != "" {
		keys = append(keys, emailIndexKey(account.Email))
	}

	create := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, accountKey(account.ID)).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: account %s already exists", model.ErrInvalidInput, account.ID)
		}
		if n, err = tx.Exists(ctx, usernameIndexKey(account.Username)).Result(); err != nil {
			return err
		} else if n > 0 {
			return fmt.Errorf("%w: %s", model.ErrDuplicateUsername, account.Username)
		}
		if account.Email != "" {
			if n, err = tx.Exists(ctx, emailIndexKey(account.Email)).Result(); err != nil {
				return err
			} else if n > 0 {
				return fmt.Errorf("%w: %s", model.ErrDuplicateEmail, account.Email)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey(account.ID), data, 0)
			pipe.Set(ctx, usernameIndexKey(account.Username), string(account.ID), 0)
			if account.Email != "" {
				pipe.Set(ctx, emailIndexKey(account.Email), string(account.ID), 0)
			}
			if !account.Disabled {
				pipe.ZAdd(ctx, ratingIndexKey(), ratingMember(account))
			}
			return nil
		})
		return err
	}

	// A lost race on an index key is retried so the loser observes the
	// winner's claim and reports a duplicate instead of a conflict.
	for attempt := 0; attempt <= s.cfg.CreateRetries; attempt++ {
		err = s.client.Watch(ctx, create, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return translate(ctx, err)
		}
	}
	return fmt.Errorf("%w: create account %s", model.ErrConflict, account.ID)
}

func (s *Storage) GetAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	data, err := s.client.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, id)
		}
		return nil, translate(ctx, err)
	}

	var account model.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	id, err := s.client.Get(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, username)
		}
		return nil, translate(ctx, err)
	}
	return s.GetAccount(ctx, model.AccountID(id))
}

func (s *Storage) UpdateAccounts(ctx context.Context, ids []model.AccountID, mutate storage.MutateFunc) ([]*model.Account, error) {
	order, err := storage.LockOrder(ids)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.ContextError(err)
	}

	keys := make([]string, len(order))
	for i, id := range order {
		keys[i] = accountKey(id)
	}

	var result []*model.Account
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		before, err := load(ctx, tx, ids)
		if err != nil {
			return err
		}
		working := make([]*model.Account, len(before))
		for i, a := range before {
			working[i] = a.Clone()
		}

		if err := mutate(working); err != nil {
			return err
		}
		for i := range working {
			if err := storage.CheckImmutable(before[i], working[i]); err != nil {
				return err
			}
			if err := storage.CheckInvariants(working[i]); err != nil {
				return err
			}
		}
		if err := storage.CheckBatchUniqueness(working); err != nil {
			return err
		}
		if err := claimIndexes(ctx, tx, before, working); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		docs := make([][]byte, len(working))
		for i, a := range working {
			if docs[i], err = json.Marshal(a); err != nil {
				return err
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			// Release every old index entry before claiming new ones so that
			// values swapped within the batch end up with their new owner.
			for i, a := range working {
				if a.Username != before[i].Username {
					pipe.Del(ctx, usernameIndexKey(before[i].Username))
				}
				if a.Email != before[i].Email && before[i].Email != "" {
					pipe.Del(ctx, emailIndexKey(before[i].Email))
				}
			}
			for i, a := range working {
				pipe.Set(ctx, accountKey(a.ID), docs[i], 0)
				if a.Username != before[i].Username {
					pipe.Set(ctx, usernameIndexKey(a.Username), string(a.ID), 0)
				}
				if a.Email != before[i].Email && a.Email != "" {
					pipe.Set(ctx, emailIndexKey(a.Email), string(a.ID), 0)
				}
				if a.Disabled {
					pipe.ZRem(ctx, ratingIndexKey(), string(a.ID))
				} else {
					pipe.ZAdd(ctx, ratingIndexKey(), ratingMember(a))
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = working
		return nil
	}, keys...)
	if err != nil {
		return nil, translate(ctx, err)
	}
	return result, nil
}

func (s *Storage) ListAccountsByRating(ctx context.Context, offset, limit int) ([]*model.Account, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative offset or limit", model.ErrInvalidInput)
	}
	if limit == 0 {
		return []*model.Account{}, nil
	}

	// ZREVRANGE orders equal scores by descending member, which is the account id
	ids, err := s.client.ZRevRange(ctx, ratingIndexKey(), int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, translate(ctx, err)
	}
	if len(ids) == 0 {
		return []*model.Account{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(model.AccountID(id))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, translate(ctx, err)
	}

	accounts := make([]*model.Account, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		var account model.Account
		if err := json.Unmarshal([]byte(str), &account); err != nil {
			return nil, err
		}
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

// load reads the accounts in the given order on the watching connection
func load(ctx context.Context, tx *redis.Tx, ids []model.AccountID) ([]*model.Account, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = accountKey(id)
	}
	values, err := tx.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	accounts := make([]*model.Account, len(ids))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, ids[i])
		}
		var account model.Account
		if err := json.Unmarshal([]byte(str), &account); err != nil {
			return nil, err
		}
		accounts[i] = &account
	}
	return accounts, nil
}

// claimIndexes watches every index key the batch is about to take and fails
// if one already belongs to an account that keeps it
func claimIndexes(ctx context.Context, tx *redis.Tx, before, after []*model.Account) error {
	type claim struct {
		key   string
		value string
		field func(*model.Account) string
		dup   error
	}
	var claims []claim
	for i, a := range after {
		if a.Username != before[i].Username {
			claims = append(claims, claim{usernameIndexKey(a.Username), a.Username, storage.Username, model.ErrDuplicateUsername})
		}
		if a.Email != before[i].Email && a.Email != "" {
			claims = append(claims, claim{emailIndexKey(a.Email), a.Email, storage.Email, model.ErrDuplicateEmail})
		}
	}
	if len(claims) == 0 {
		return nil
	}

	keys := make([]string, len(claims))
	for i, c := range claims {
		keys[i] = c.key
	}
	if err := tx.Watch(ctx, keys...).Err(); err != nil {
		return err
	}

	for _, c := range claims {
		owner, err := tx.Get(ctx, c.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return err
		}
		if !storage.ReleasedInBatch(model.AccountID(owner), c.value, before, after, c.field) {
			return fmt.Errorf("%w: %s", c.dup, c.value)
		}
	}
	return nil
}

func ratingMember(a *model.Account) redis.Z {
	return redis.Z{Score: float64(a.Rating), Member: string(a.ID)}
}

// translate maps transaction aborts and deadline expiry onto the store's errors
func translate(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %w", model.ErrConflict, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return storage.ContextError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && ctx.Err() != nil {
		return storage.ContextError(ctx.Err())
	}
	return err
}
