package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcoot/ratingledger/internal/dependencies/clock"
	"github.com/mcoot/ratingledger/internal/dependencies/random"
	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/services/credential"
	"github.com/mcoot/ratingledger/internal/storage"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong password.
// The two cases are not distinguished.
var ErrInvalidCredentials = errors.New("invalid credentials")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// Config holds configuration for the account service
type Config struct {
	// PageLimit is the leaderboard page size used when the caller gives none
	PageLimit int
	// MaxPageLimit caps caller-supplied page sizes
	MaxPageLimit int
	// Timeout bounds each storage call, retries included
	Timeout time.Duration
	// MaxRetries and RetryBackoff govern retries of profile writes on lock contention
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultConfig returns default account configuration
func DefaultConfig() Config {
	return Config{
		PageLimit:    30,
		MaxPageLimit: 100,
		Timeout:      5 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 20 * time.Millisecond,
	}
}

// RegisterParams are the inputs to Register
type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// ProfileUpdate lists the profile fields to change; nil fields are left alone.
// A non-nil empty SocialLinks map removes every link.
type ProfileUpdate struct {
	Email       *string
	Password    *string
	AvatarURL   *string
	Status      *string
	SocialLinks map[string]string
}

func (u ProfileUpdate) empty() bool {
	return u.Email == nil && u.Password == nil && u.AvatarURL == nil && u.Status == nil && u.SocialLinks == nil
}

// LeaderboardPage is one page of active accounts ordered by rating
type LeaderboardPage struct {
	Page     int
	Limit    int
	Accounts []*model.Account
}

// Service handles registration, credential checks and profile changes
type Service struct {
	storage     storage.AccountStore
	retrier     *storage.Retrier
	credentials *credential.Store
	clock       clock.Clock
	cfg         Config
	logger      *slog.Logger
}

// New creates a new account Service
func New(
	store storage.AccountStore,
	credentials *credential.Store,
	clock clock.Clock,
	random random.Random,
	cfg Config,
	logger *slog.Logger,
) *Service {
	def := DefaultConfig()
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = def.PageLimit
	}
	if cfg.MaxPageLimit < cfg.PageLimit {
		cfg.MaxPageLimit = max(def.MaxPageLimit, cfg.PageLimit)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	return &Service{
		storage: store,
		retrier: storage.NewRetrier(store, storage.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
		}, random, logger),
		credentials: credentials,
		clock:       clock,
		cfg:         cfg,
		logger:      logger,
	}
}

// Register creates an account with a fresh salt and the default rating and coins
func (s *Service) Register(ctx context.Context, params RegisterParams) (*model.Account, error) {
	if err := ValidateUsername(params.Username); err != nil {
		return nil, err
	}
	email, err := NormalizeEmail(params.Email)
	if err != nil {
		return nil, err
	}

	salt, hash, err := s.derive(params.Password)
	if err != nil {
		return nil, err
	}

	account := model.NewAccount(model.AccountID(uuid.NewString()), params.Username, email, hash, salt, s.clock.Now())

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if err := s.storage.CreateAccount(ctx, account); err != nil {
		return nil, storage.ContextError(err)
	}

	s.logger.Info("account registered",
		slog.String("account_id", string(account.ID)),
		slog.String("username", account.Username),
	)
	return account, nil
}

// Authenticate checks a username and password pair for an external session layer
func (s *Service) Authenticate(ctx context.Context, username, password string) (*model.Account, error) {
	account, err := s.GetAccountByUsername(ctx, username)
	if errors.Is(err, model.ErrAccountNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !s.credentials.Verify(password, account.PasswordSalt, account.PasswordHash) {
		s.logger.Debug("credential check failed", slog.String("account_id", string(account.ID)))
		return nil, ErrInvalidCredentials
	}
	if account.Disabled {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountDisabled, account.ID)
	}
	return account, nil
}

// GetAccount retrieves an account by ID
func (s *Service) GetAccount(ctx context.Context, id model.AccountID) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	account, err := s.storage.GetAccount(ctx, id)
	return account, storage.ContextError(err)
}

// GetAccountByUsername retrieves an account by its current username
func (s *Service) GetAccountByUsername(ctx context.Context, username string) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	account, err := s.storage.GetAccountByUsername(ctx, username)
	return account, storage.ContextError(err)
}

// UpdateProfile changes contact, credential and public profile fields.
// A new password always gets a new salt.
func (s *Service) UpdateProfile(ctx context.Context, id model.AccountID, update ProfileUpdate) (*model.Account, error) {
	if update.empty() {
		return nil, fmt.Errorf("%w: nothing to update", model.ErrInvalidInput)
	}

	var (
		email, salt, hash, avatar, status string
		links                             map[string]string
		err                               error
	)
	if update.Email != nil {
		if email, err = NormalizeEmail(*update.Email); err != nil {
			return nil, err
		}
	}
	if update.AvatarURL != nil {
		if avatar, err = ValidateAvatarURL(*update.AvatarURL); err != nil {
			return nil, err
		}
	}
	if update.Status != nil {
		if status, err = NormalizeStatus(*update.Status); err != nil {
			return nil, err
		}
	}
	if update.SocialLinks != nil {
		if links, err = NormalizeSocialLinks(update.SocialLinks); err != nil {
			return nil, err
		}
	}
	// Hashing is slow, so it happens before any row is locked
	if update.Password != nil {
		if salt, hash, err = s.derive(*update.Password); err != nil {
			return nil, err
		}
	}

	account, err := s.updateOne(ctx, "update_profile", id, func(a *model.Account) error {
		if update.Email != nil {
			a.Email = email
		}
		if update.Password != nil {
			a.PasswordSalt = salt
			a.PasswordHash = hash
		}
		if update.AvatarURL != nil {
			a.AvatarURL = avatar
		}
		if update.Status != nil {
			a.Status = status
		}
		if update.SocialLinks != nil {
			a.SocialLinks = maps.Clone(links)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("profile updated",
		slog.String("account_id", string(id)),
		slog.Bool("email_changed", update.Email != nil),
		slog.Bool("password_changed", update.Password != nil),
		slog.Bool("public_profile_changed", update.AvatarURL != nil || update.Status != nil || update.SocialLinks != nil),
	)
	return account, nil
}

// Rename gives the account a new unique username
func (s *Service) Rename(ctx context.Context, id model.AccountID, username string) (*model.Account, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}

	var previous string
	account, err := s.updateOne(ctx, "rename", id, func(a *model.Account) error {
		previous = a.Username
		a.Username = username
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account renamed",
		slog.String("account_id", string(id)),
		slog.String("from", previous),
		slog.String("to", username),
	)
	return account, nil
}

// Disable soft-disables an account. Disabling twice is not an error.
func (s *Service) Disable(ctx context.Context, id model.AccountID) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	accounts, err := s.retrier.Update(ctx, "disable", []model.AccountID{id}, func(accounts []*model.Account) error {
		a := accounts[0]
		if !a.Disabled {
			a.Disabled = true
			a.Touch(s.clock.Now())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account disabled", slog.String("account_id", string(id)))
	return accounts[0], nil
}

// Leaderboard returns a 1-based page of active accounts, highest rating first.
// A limit of zero selects the configured page size.
func (s *Service) Leaderboard(ctx context.Context, page, limit int) (*LeaderboardPage, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", model.ErrInvalidInput)
	}
	if limit == 0 {
		limit = s.cfg.PageLimit
	}
	if limit < 0 || limit > s.cfg.MaxPageLimit {
		return nil, fmt.Errorf("%w: limit must be between 1 and %d", model.ErrInvalidInput, s.cfg.MaxPageLimit)
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	accounts, err := s.storage.ListAccountsByRating(ctx, (page-1)*limit, limit)
	if err != nil {
		return nil, storage.ContextError(err)
	}
	return &LeaderboardPage{Page: page, Limit: limit, Accounts: accounts}, nil
}

// updateOne applies a profile change to an active account and stamps updated_at
func (s *Service) updateOne(ctx context.Context, op string, id model.AccountID, change func(*model.Account) error) (*model.Account, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	accounts, err := s.retrier.Update(ctx, op, []model.AccountID{id}, func(accounts []*model.Account) error {
		a := accounts[0]
		if a.Disabled {
			return fmt.Errorf("%w: %s", model.ErrAccountDisabled, a.ID)
		}
		if err := change(a); err != nil {
			return err
		}
		a.Touch(s.clock.Now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return accounts[0], nil
}

func (s *Service) derive(password string) (salt, hash string, err error) {
	if password == "" {
		return "", "", fmt.Errorf("%w: password is empty", model.ErrInvalidInput)
	}
	if salt, err = s.credentials.GenerateSalt(); err != nil {
		return "", "", err
	}
	if hash, err = s.credentials.Hash(password, salt); err != nil {
		return "", "", err
	}
	return salt, hash, nil
}

// ValidateUsername checks length and alphabet of a username
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", model.ErrInvalidInput)
	}
	return nil
}

// NormalizeEmail validates a bare address and lower-cases it, so uniqueness is case-insensitive
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", fmt.Errorf("%w: %q is not a valid email address", model.ErrInvalidInput, email)
	}
	return strings.ToLower(addr.Address), nil
}
