package e2e_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcoot/ratingledger/internal/api"
	"github.com/mcoot/ratingledger/internal/factory"
	"github.com/mcoot/ratingledger/internal/services/credential"
)

// cliRunner manages CLI binary execution
type cliRunner struct {
	binaryPath string
	serverURL  string
}

func newCLIRunner(t *testing.T, serverURL string) *cliRunner {
	t.Helper()

	// Find project root (where go.mod is)
	projectRoot := findProjectRoot(t)

	// Build the CLI binary
	binaryPath := filepath.Join(t.TempDir(), "ledgerctl-test")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/ledgerctl")
	cmd.Dir = projectRoot
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "failed to build CLI: %s", string(output))

	return &cliRunner{
		binaryPath: binaryPath,
		serverURL:  serverURL,
	}
}

func (r *cliRunner) run(args ...string) (string, error) {
	fullArgs := append([]string{
		"--server", r.serverURL,
		"--output", "json",
	}, args...)

	cmd := exec.Command(r.binaryPath, fullArgs...)
	output, err := cmd.CombinedOutput()
	return string(output), err
}

func findProjectRoot(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}

// testServer manages a real HTTP server for e2e tests
type testServer struct {
	addr     string
	shutdown func()
}

func startTestServer(t *testing.T) *testServer {
	t.Helper()

	// Find a free port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	// Real clock and randomness, cheap hashing
	app, err := factory.New(factory.Config{
		Logger:           logger,
		CredentialParams: credential.Params{Time: 1, Memory: 64, Threads: 1},
	})
	require.NoError(t, err)

	router := api.NewRouter(api.RouterConfig{
		Logger:         logger,
		AccountService: app.AccountService,
		LedgerEngine:   app.LedgerEngine,
	})

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server
	go func() {
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	// Wait for server to be ready
	serverURL := "http://" + addr
	waitForServer(t, serverURL+"/api/v1/health")

	return &testServer{
		addr: serverURL,
		shutdown: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(ctx)
			_ = app.Close()
		},
	}
}

func waitForServer(t *testing.T, url string) {
	t.Helper()

	client := &http.Client{Timeout: 100 * time.Millisecond}
	deadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}

	t.Fatal("server did not become ready in time")
}

// Response types for JSON parsing
type statisticResponse struct {
	Wins   int `json:"wins"`
	Losses int `json:"losses"`
	Draws  int `json:"draws"`
}

type accountResponse struct {
	ID          string            `json:"id"`
	Username    string            `json:"username"`
	Email       string            `json:"email"`
	Status      string            `json:"status"`
	SocialLinks map[string]string `json:"social_links"`
	Rating      int               `json:"rating"`
	Coins       int               `json:"coins"`
	Statistic   statisticResponse `json:"statistic"`
	Disabled    bool              `json:"disabled"`
}

type matchResponse struct {
	Accounts []accountResponse `json:"accounts"`
}

type leaderboardResponse struct {
	Page    int `json:"page"`
	Limit   int `json:"limit"`
	Entries []struct {
		Rank     int    `json:"rank"`
		Username string `json:"username"`
		Rating   int    `json:"rating"`
	} `json:"entries"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func registerAccount(t *testing.T, cli *cliRunner, user string) accountResponse {
	t.Helper()

	output, err := cli.run("account", "register", "--user", user, "--email", user+"@example.com", "--pass", "1234")
	require.NoError(t, err, "output: %s", output)

	var acc accountResponse
	require.NoError(t, json.Unmarshal([]byte(output), &acc))
	return acc
}

// Tests

func TestCLI_HealthCheck(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	output, err := cli.run("health")
	require.NoError(t, err, "output: %s", output)

	var resp healthResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestCLI_AccountCommands(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	// Register
	acc := registerAccount(t, cli, "alice")
	assert.Equal(t, "alice", acc.Username)
	assert.Equal(t, 1500, acc.Rating)
	assert.Equal(t, 100, acc.Coins)

	// Get by id and username
	output, err := cli.run("account", "get", acc.ID)
	require.NoError(t, err, "output: %s", output)
	var got accountResponse
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, acc.ID, got.ID)

	output, err = cli.run("account", "find", "alice")
	require.NoError(t, err, "output: %s", output)
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, acc.ID, got.ID)

	// Duplicate username fails
	output, err = cli.run("account", "register", "--user", "alice", "--email", "other@example.com", "--pass", "x")
	require.Error(t, err)
	assert.Contains(t, output, "USERNAME_EXISTS")

	// Verify credentials
	output, err = cli.run("account", "verify", "--user", "alice", "--pass", "1234")
	require.NoError(t, err, "output: %s", output)
	_, err = cli.run("account", "verify", "--user", "alice", "--pass", "wrong")
	require.Error(t, err)

	// Update, rename, coins
	output, err = cli.run("account", "update", acc.ID, "--email", "alice2@example.com")
	require.NoError(t, err, "output: %s", output)
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "alice2@example.com", got.Email)

	output, err = cli.run("account", "update", acc.ID, "--status", "ready", "--link", "github=https://github.com/alice")
	require.NoError(t, err, "output: %s", output)
	got = accountResponse{}
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "ready", got.Status)
	assert.Equal(t, map[string]string{"github": "https://github.com/alice"}, got.SocialLinks)
	assert.Equal(t, "alice2@example.com", got.Email)

	output, err = cli.run("account", "rename", acc.ID, "alicia")
	require.NoError(t, err, "output: %s", output)
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, "alicia", got.Username)

	output, err = cli.run("account", "coins", acc.ID, "--", "-40")
	require.NoError(t, err, "output: %s", output)
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.Equal(t, 60, got.Coins)

	// Disable
	output, err = cli.run("account", "disable", acc.ID)
	require.NoError(t, err, "output: %s", output)
	require.NoError(t, json.Unmarshal([]byte(output), &got))
	assert.True(t, got.Disabled)

	output, err = cli.run("account", "verify", "--user", "alicia", "--pass", "1234")
	require.Error(t, err)
	assert.Contains(t, output, "ACCOUNT_DISABLED")
}

func TestCLI_MatchAndLeaderboard(t *testing.T) {
	ts := startTestServer(t)
	defer ts.shutdown()

	cli := newCLIRunner(t, ts.addr)

	alice := registerAccount(t, cli, "alice")
	bob := registerAccount(t, cli, "bob")

	// Apply a match
	output, err := cli.run("match", "apply",
		"--outcome", alice.ID+":+15:+10:win",
		"--outcome", bob.ID+":-15:-10:loss",
	)
	require.NoError(t, err, "output: %s", output)

	var match matchResponse
	require.NoError(t, json.Unmarshal([]byte(output), &match))
	require.Len(t, match.Accounts, 2)
	assert.Equal(t, 1515, match.Accounts[0].Rating)
	assert.Equal(t, 110, match.Accounts[0].Coins)
	assert.Equal(t, 1, match.Accounts[0].Statistic.Wins)
	assert.Equal(t, 1485, match.Accounts[1].Rating)
	assert.Equal(t, 90, match.Accounts[1].Coins)
	assert.Equal(t, 1, match.Accounts[1].Statistic.Losses)

	// A batch that would overdraw bob is rejected as a whole
	output, err = cli.run("match", "apply",
		"--outcome", alice.ID+":+15:+10:win",
		"--outcome", bob.ID+":-15:-500:loss",
	)
	require.Error(t, err)
	assert.Contains(t, output, "INSUFFICIENT_COINS")

	// Leaderboard
	output, err = cli.run("leaderboard")
	require.NoError(t, err, "output: %s", output)

	var board leaderboardResponse
	require.NoError(t, json.Unmarshal([]byte(output), &board))
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "alice", board.Entries[0].Username)
	assert.Equal(t, 1515, board.Entries[0].Rating)
	assert.Equal(t, 2, board.Entries[1].Rank)
}
