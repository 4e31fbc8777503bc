package factory

import (
	"time"

	"github.com/mcoot/ratingledger/internal/dependencies/mocks"
	"github.com/mcoot/ratingledger/internal/services/account"
	"github.com/mcoot/ratingledger/internal/services/credential"
	"github.com/mcoot/ratingledger/internal/services/ledger"
	"github.com/mcoot/ratingledger/internal/storage/memory"
	"github.com/mcoot/ratingledger/internal/testutil"
)

// TestCredentialParams are argon2id parameters cheap enough for unit tests
var TestCredentialParams = credential.Params{Time: 1, Memory: 64, Threads: 1}

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App configured for testing with mocked dependencies
func NewTestApp() *TestApp {
	store := memory.New()
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(store, mockClock, mockRandom, TestCredentialParams,
		ledger.DefaultConfig(), account.DefaultConfig(), testutil.NopLogger())

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}
