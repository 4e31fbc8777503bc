package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is an HTTP client for the API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps an API error
type ErrorResponse struct {
	Error APIError `json:"error"`
}

func (e *APIError) String() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Error codes the server marks retryable
const (
	codeLockConflict = "LOCK_CONFLICT"
	codeTimeout      = "TIMEOUT"
)

// maxAttempts bounds how often a retryable error response is retried
const maxAttempts = 3

// Do performs an HTTP request. Error responses marked retryable with
// Retry-After are retried when replaying cannot apply a change twice.
func (c *Client) Do(method, path string, body, result any) error {
	var data []byte
	if body != nil {
		var err error
		if data, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		status, delay, respBody, err := c.send(method, c.baseURL+path, data)
		if err != nil {
			return err
		}

		if status < 400 {
			if result != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, result); err != nil {
					return fmt.Errorf("failed to parse response: %w", err)
				}
			}
			return nil
		}

		var errResp ErrorResponse
		parsed := json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Code != ""

		if delay > 0 && attempt < maxAttempts && canRetry(method, errResp.Error.Code) {
			time.Sleep(delay)
			continue
		}

		if parsed {
			return fmt.Errorf("%s", errResp.Error.String())
		}
		return fmt.Errorf("HTTP %d: %s", status, string(respBody))
	}
}

// canRetry reports whether a failed request may be sent again. A lock
// conflict rolled the write back, so any method is safe to replay. A
// timeout may have committed, so only reads are replayed.
func canRetry(method, code string) bool {
	switch code {
	case codeLockConflict:
		return true
	case codeTimeout:
		return method == http.MethodGet
	default:
		return false
	}
}

func (c *Client) send(method, url string, data []byte) (int, time.Duration, []byte, error) {
	var bodyReader io.Reader
	if data != nil {
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "ledgerctl")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, retryAfter(resp.Header.Get("Retry-After")), respBody, nil
}

// retryAfter parses a delay-seconds Retry-After value; anything else means no retry
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Get performs a GET request
func (c *Client) Get(path string, result any) error {
	return c.Do(http.MethodGet, path, nil, result)
}

// Post performs a POST request
func (c *Client) Post(path string, body, result any) error {
	return c.Do(http.MethodPost, path, body, result)
}

// Patch performs a PATCH request
func (c *Client) Patch(path string, body, result any) error {
	return c.Do(http.MethodPatch, path, body, result)
}
