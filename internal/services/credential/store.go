package credential

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/mcoot/ratingledger/internal/dependencies/random"
	"github.com/mcoot/ratingledger/internal/model"
)

const (
	hashPrefix = "argon2id"
	minKeyLen  = 4
	maxKeyLen  = 1024
	maxMemory  = 1 << 21
	maxTime    = 64
)

// Params holds the argon2id cost parameters
type Params struct {
	Time      uint32 // iterations
	Memory    uint32 // KiB
	Threads   uint8
	KeyLen    uint32
	SaltBytes int
}

// DefaultParams returns the RFC 9106 second recommended argon2id profile
func DefaultParams() Params {
	return Params{
		Time:      1,
		Memory:    64 * 1024,
		Threads:   4,
		KeyLen:    32,
		SaltBytes: 16,
	}
}

// Store derives and checks password hashes. It holds no mutable state and is
// safe for concurrent use.
type Store struct {
	random random.Random
	params Params
}

// New creates a new credential Store
func New(rnd random.Random, params Params) *Store {
	def := DefaultParams()
	if params.Time == 0 {
		params.Time = def.Time
	}
	if params.Memory == 0 {
		params.Memory = def.Memory
	}
	if params.Threads == 0 {
		params.Threads = def.Threads
	}
	if params.KeyLen == 0 {
		params.KeyLen = def.KeyLen
	}
	if params.SaltBytes <= 0 {
		params.SaltBytes = def.SaltBytes
	}
	// Verify refuses stored hashes beyond these caps, so hashing must stay under them too
	params.Time = min(params.Time, maxTime)
	params.Memory = min(params.Memory, maxMemory)
	params.KeyLen = min(params.KeyLen, maxKeyLen)
	return &Store{random: rnd, params: params}
}

// GenerateSalt returns a fresh base64url-encoded salt
func (s *Store) GenerateSalt() (string, error) {
	b, err := s.random.Bytes(s.params.SaltBytes)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Hash derives the encoded hash for password and salt.
// The result records its parameters so Verify keeps working after they change.
func (s *Store) Hash(password, salt string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", model.ErrInvalidInput)
	}
	if salt == "" {
		return "", fmt.Errorf("%w: salt is empty", model.ErrInvalidInput)
	}
	key := argon2.IDKey([]byte(password), []byte(salt), s.params.Time, s.params.Memory, s.params.Threads, s.params.KeyLen)
	return encode(s.params, key), nil
}

// Verify reports whether password and salt produce expectedHash.
// Malformed hashes yield false.
func (s *Store) Verify(password, salt, expectedHash string) bool {
	if password == "" || salt == "" {
		return false
	}
	p, expected, ok := decode(expectedHash)
	if !ok {
		return false
	}
	key := argon2.IDKey([]byte(password), []byte(salt), p.Time, p.Memory, p.Threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}

func encode(p Params, key []byte) string {
	return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d$%s",
		hashPrefix, argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(key))
}

func decode(encoded string) (Params, []byte, bool) {
	var p Params
	parts := strings.Split(encoded, "$")
	if len(parts) != 4 || parts[0] != hashPrefix {
		return p, nil, false
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, false
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &threads); err != nil {
		return p, nil, false
	}
	if p.Memory == 0 || p.Memory > maxMemory || p.Time == 0 || p.Time > maxTime || threads == 0 || threads > 255 {
		return p, nil, false
	}
	p.Threads = uint8(threads)

	key, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil || len(key) < minKeyLen || len(key) > maxKeyLen {
		return p, nil, false
	}
	return p, key, true
}
