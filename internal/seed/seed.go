// Package seed loads fixture accounts from YAML and registers them at startup.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mcoot/ratingledger/internal/model"
	"github.com/mcoot/ratingledger/internal/services/account"
)

// Fixture is one account to register
type Fixture struct {
	Username string `yaml:"username"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// File is the top level of a seed document
type File struct {
	Accounts []Fixture `yaml:"accounts"`
}

// Registrar is the subset of the account service that seeding needs
type Registrar interface {
	Register(ctx context.Context, params account.RegisterParams) (*model.Account, error)
}

// Load reads and parses a seed file
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a seed document, rejecting unknown fields
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return &f, nil
}

// Apply registers every fixture. Fixtures whose username or email already
// exists are skipped, so applying the same file twice is harmless.
// It returns the number of accounts created.
func Apply(ctx context.Context, registrar Registrar, f *File, logger *slog.Logger) (int, error) {
	created := 0
	for _, fx := range f.Accounts {
		a, err := registrar.Register(ctx, account.RegisterParams{
			Username: fx.Username,
			Email:    fx.Email,
			Password: fx.Password,
		})
		switch {
		case errors.Is(err, model.ErrDuplicateUsername), errors.Is(err, model.ErrDuplicateEmail):
			logger.Debug("seed account already present", slog.String("username", fx.Username))
			continue
		case err != nil:
			return created, fmt.Errorf("seed account %q: %w", fx.Username, err)
		}
		created++
		logger.Info("seed account created",
			slog.String("account_id", string(a.ID)),
			slog.String("username", a.Username),
		)
	}
	return created, nil
}
