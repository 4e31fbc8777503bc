package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    id            TEXT PRIMARY KEY,
    username      TEXT NOT NULL,
    email         TEXT,
    password_hash TEXT NOT NULL,
    password_salt TEXT NOT NULL,
    rating        BIGINT  NOT NULL DEFAULT 1500,
    coins         BIGINT  NOT NULL DEFAULT 100,
    wins          BIGINT  NOT NULL DEFAULT 0,
    losses        BIGINT  NOT NULL DEFAULT 0,
    draws         BIGINT  NOT NULL DEFAULT 0,
    avatar_url    TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT '',
    social_links  JSONB NOT NULL DEFAULT '{}',
    disabled      BOOLEAN NOT NULL DEFAULT false,
    created_at    TIMESTAMPTZ NOT NULL,
    updated_at    TIMESTAMPTZ NOT NULL,
    CONSTRAINT accounts_username_key UNIQUE (username) DEFERRABLE INITIALLY IMMEDIATE,
    CONSTRAINT accounts_email_key UNIQUE (email) DEFERRABLE INITIALLY IMMEDIATE,
    CONSTRAINT accounts_coins_check CHECK (coins >= 0),
    CONSTRAINT accounts_updated_at_check CHECK (updated_at >= created_at)
);
ALTER TABLE accounts ADD COLUMN IF NOT EXISTS avatar_url TEXT NOT NULL DEFAULT '';
ALTER TABLE accounts ADD COLUMN IF NOT EXISTS status TEXT NOT NULL DEFAULT '';
ALTER TABLE accounts ADD COLUMN IF NOT EXISTS social_links JSONB NOT NULL DEFAULT '{}';
ALTER TABLE accounts
    ALTER COLUMN rating TYPE BIGINT,
    ALTER COLUMN coins TYPE BIGINT,
    ALTER COLUMN wins TYPE BIGINT,
    ALTER COLUMN losses TYPE BIGINT,
    ALTER COLUMN draws TYPE BIGINT;
CREATE INDEX IF NOT EXISTS idx_accounts_rating ON accounts (rating DESC, id DESC) WHERE NOT disabled;
`

const accountColumns = `id, username, COALESCE(email, ''), password_hash, password_salt,
	rating, coins, wins, losses, draws, avatar_url, status, social_links::text,
	disabled, created_at, updated_at`

// Postgres error codes the store translates
const (
	codeUniqueViolation     = "23505"
	codeCheckViolation      = "23514"
	codeLockNotAvailable    = "55P03"
	codeSerializationFailed = "40001"
	codeDeadlockDetected    = "40P01"
)

// Storage is a PostgreSQL-backed implementation of the account store.
// Multi-account updates lock rows with SELECT ... FOR UPDATE in id order.
type Storage struct {
	pool *pgxpool.Pool
	cfg  Config
}

// New connects to PostgreSQL and initializes the schema
func New(ctx context.Context, cfg Config) (*Storage, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, err
	}

	return &Storage{pool: pool, cfg: cfg}, nil
}

// Close releases database resources
func (s *Storage) Close() error {
	s.pool.Close()
	return nil
}

// Ensure Storage implements the interface
var _ storage.AccountStore = (*Storage)(nil)

func (s *Storage) CreateAccount(ctx context.Context, account *model.Account) error {
	if err := storage.CheckInvariants(account); err != nil {
		return err
	}
	links, err := encodeLinks(account.SocialLinks)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (id, username, email, password_hash, password_salt,
		     rating, coins, wins, losses, draws, avatar_url, status, social_links,
		     disabled, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::jsonb, $14, $15, $16)`,
		string(account.ID), account.Username, account.Email, account.PasswordHash, account.PasswordSalt,
		account.Rating, account.Coins, account.Statistic.Wins, account.Statistic.Losses, account.Statistic.Draws,
		account.AvatarURL, account.Status, links,
		account.Disabled, account.CreatedAt, account.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "accounts_pkey" {
			return fmt.Errorf("%w: account %s already exists", model.ErrInvalidInput, account.ID)
		}
		return translate(err, account.Username, account.Email)
	}
	return nil
}

func (s *Storage) GetAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, string(id))
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, translate(err, "", "")
	}
	return account, nil
}

func (s *Storage) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, username)
	}
	if err != nil {
		return nil, translate(err, "", "")
	}
	return account, nil
}

func (s *Storage) UpdateAccounts(ctx context.Context, ids []model.AccountID, mutate storage.MutateFunc) ([]*model.Account, error) {
	order, err := storage.LockOrder(ids)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, translate(err, "", "")
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	lockTimeout := fmt.Sprintf("%dms", s.cfg.LockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, lockTimeout); err != nil {
		return nil, translate(err, "", "")
	}
	// Uniqueness is checked at commit so values can move between accounts of one batch
	if _, err := tx.Exec(ctx, `SET CONSTRAINTS accounts_username_key, accounts_email_key DEFERRED`); err != nil {
		return nil, translate(err, "", "")
	}

	keys := make([]string, len(order))
	for i, id := range order {
		keys[i] = string(id)
	}
	rows, err := tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, keys)
	if err != nil {
		return nil, translate(err, "", "")
	}
	locked, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Account, error) {
		return scanAccount(row)
	})
	if err != nil {
		return nil, translate(err, "", "")
	}

	byID := make(map[model.AccountID]*model.Account, len(locked))
	for _, a := range locked {
		byID[a.ID] = a
	}
	before := make([]*model.Account, len(ids))
	working := make([]*model.Account, len(ids))
	for i, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, id)
		}
		before[i] = a
		working[i] = a.Clone()
	}

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

	for _, a := range working {
		links, err := encodeLinks(a.SocialLinks)
		if err != nil {
			return nil, err
		}
		_, err = tx.Exec(ctx,
			`UPDATE accounts SET username = $2, email = NULLIF($3, ''), password_hash = $4, password_salt = $5,
			     rating = $6, coins = $7, wins = $8, losses = $9, draws = $10,
			     avatar_url = $11, status = $12, social_links = $13::jsonb,
			     disabled = $14, updated_at = $15
			 WHERE id = $1`,
			string(a.ID), a.Username, a.Email, a.PasswordHash, a.PasswordSalt,
			a.Rating, a.Coins, a.Statistic.Wins, a.Statistic.Losses, a.Statistic.Draws,
			a.AvatarURL, a.Status, links, a.Disabled, a.UpdatedAt)
		if err != nil {
			return nil, translate(err, a.Username, a.Email)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, storage.ContextError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translate(err, "", "")
	}
	return working, nil
}

func (s *Storage) ListAccountsByRating(ctx context.Context, offset, limit int) ([]*model.Account, error) {
	if offset < 0 || limit < 0 {
		return nil, fmt.Errorf("%w: negative offset or limit", model.ErrInvalidInput)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts
		 WHERE NOT disabled
		 ORDER BY rating DESC, id COLLATE "C" DESC
		 LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, translate(err, "", "")
	}
	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*model.Account, error) {
		return scanAccount(row)
	})
	if err != nil {
		return nil, translate(err, "", "")
	}
	return accounts, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var id, links string
	err := row.Scan(&id, &a.Username, &a.Email, &a.PasswordHash, &a.PasswordSalt,
		&a.Rating, &a.Coins, &a.Statistic.Wins, &a.Statistic.Losses, &a.Statistic.Draws,
		&a.AvatarURL, &a.Status, &links,
		&a.Disabled, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = model.AccountID(id)
	if err := json.Unmarshal([]byte(links), &a.SocialLinks); err != nil {
		return nil, fmt.Errorf("decode social_links of %s: %w", id, err)
	}
	if len(a.SocialLinks) == 0 {
		a.SocialLinks = nil
	}
	return &a, nil
}

// encodeLinks renders social links as a JSON object; no links is an empty object
func encodeLinks(links map[string]string) (string, error) {
	if len(links) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(links)
	if err != nil {
		return "", fmt.Errorf("encode social_links: %w", err)
	}
	return string(b), nil
}

// translate maps driver errors onto the store's errors.
// username and email name the values involved, for error context only.
func translate(err error, username, email string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return storage.ContextError(err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case "accounts_username_key":
			return fmt.Errorf("%w: %s", model.ErrDuplicateUsername, username)
		case "accounts_email_key":
			return fmt.Errorf("%w: %s", model.ErrDuplicateEmail, email)
		}
	case codeCheckViolation:
		if pgErr.ConstraintName == "accounts_coins_check" {
			return fmt.Errorf("%w: %s", model.ErrInsufficientCoins, pgErr.Message)
		}
	case codeLockNotAvailable, codeSerializationFailed, codeDeadlockDetected:
		return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.Message)
	}
	return err
}
