package cli

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientRetriesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"LOCK_CONFLICT","message":"busy"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	var result HealthResult
	require.NoError(t, NewClient(srv.URL).Get("/health", &result))
	assert.Equal(t, "ok", result.Status)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClientReportsAPIError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"ACCOUNT_NOT_FOUND","message":"Account not found"}}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Get("/accounts/x", nil)
	require.Error(t, err)
	assert.Equal(t, "Account not found (ACCOUNT_NOT_FOUND)", err.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryAfter(t *testing.T) {
	assert.Zero(t, retryAfter(""))
	assert.Zero(t, retryAfter("soon"))
	assert.Zero(t, retryAfter("0"))
	assert.Equal(t, 2e9, float64(retryAfter("2")))
}

func TestClientDoesNotReplayTimedOutWrite(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"code":"TIMEOUT","message":"Storage timed out"}}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).Post("/accounts/x/coins", map[string]int{"delta": 10}, nil)
	require.Error(t, err)
	assert.Equal(t, "Storage timed out (TIMEOUT)", err.Error())
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientReplaysWriteAfterLockConflict(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":{"code":"LOCK_CONFLICT","message":"busy"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"x","coins":10}`))
	}))
	defer srv.Close()

	var result Account
	require.NoError(t, NewClient(srv.URL).Post("/accounts/x/coins", map[string]int{"delta": 10}, &result))
	assert.Equal(t, 10, result.Coins)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCanRetry(t *testing.T) {
	tests := []struct {
		method string
		code   string
		want   bool
	}{
		{http.MethodGet, codeTimeout, true},
		{http.MethodPost, codeTimeout, false},
		{http.MethodPatch, codeTimeout, false},
		{http.MethodPost, codeLockConflict, true},
		{http.MethodPatch, codeLockConflict, true},
		{http.MethodGet, "ACCOUNT_NOT_FOUND", false},
		{http.MethodGet, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.method+"_"+tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, canRetry(tt.method, tt.code))
		})
	}
}
