// Package apiclient is the HTTP client for the POS server's sync endpoints:
// delta pulls per reference collection, idempotent mutation writes, and the
// cheap health probe used by the connectivity monitor.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/marcus/till/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")

	// ErrRetryable wraps transient failures: transport errors, timeouts,
	// and 5xx responses. The coordinator backs off and retries these.
	ErrRetryable = errors.New("retryable error")
)

// ValidationError is a permanent 4xx rejection from the server. Items hitting
// one are not retried automatically.
type ValidationError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Code)
}

// IsRetryable reports whether err should be treated as transient.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err is a validation rejection that must not be
// retried automatically.
func IsPermanent(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Client is an HTTP client for the POS sync server.
type Client struct {
	BaseURL    string
	APIKey     string
	TerminalID string
	HTTP       *http.Client
}

// New creates a new sync client with the default data-call timeout.
func New(baseURL, apiKey, terminalID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		TerminalID: terminalID,
		HTTP:       &http.Client{Timeout: 15 * time.Second},
	}
}

// --- Pull types ---

// PulledRecord is one reference record in a pull response.
type PulledRecord struct {
	ID        string          `json:"id"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PullResponse is the response from a changes request.
type PullResponse struct {
	Records    []PulledRecord `json:"records"`
	ServerTime time.Time      `json:"server_time"`
	HasMore    bool           `json:"has_more"`
}

// --- Push types ---

// MutationRequest is the body for a mutation write. The queue item id rides
// along as the idempotency key so duplicate delivery has one effect.
type MutationRequest struct {
	ID         string            `json:"id"`
	Operation  models.Operation  `json:"operation"`
	Collection models.Collection `json:"collection"`
	EntityID   string            `json:"entity_id"`
	Payload    json.RawMessage   `json:"payload"`
	TerminalID string            `json:"terminal_id"`
	CreatedAt  string            `json:"created_at"`
}

// MutationResponse is the server acknowledgment of a mutation, carrying the
// canonical record to fold back into the local store.
type MutationResponse struct {
	Record *PulledRecord `json:"record,omitempty"`
}

// HealthResponse is the response from GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

// --- Methods ---

// PullChanges requests records in a collection changed since the given
// timestamp. Pass nil since for a full pull.
func (c *Client) PullChanges(ctx context.Context, collection models.Collection, since *time.Time, limit int) (*PullResponse, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if since != nil {
		params.Set("since", since.UTC().Format(time.RFC3339Nano))
	}

	var resp PullResponse
	path := fmt.Sprintf("/v1/collections/%s/changes?%s", collection, params.Encode())
	if err := c.do(ctx, "GET", path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PushMutation delivers one queued mutation. The request id is sent both in
// the body and as the Idempotency-Key header.
func (c *Client) PushMutation(ctx context.Context, req *MutationRequest) (*MutationResponse, error) {
	var resp MutationResponse
	path := fmt.Sprintf("/v1/collections/%s/mutations", req.Collection)
	headers := map[string]string{"Idempotency-Key": req.ID}
	if err := c.do(ctx, "POST", path, headers, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Probe hits /healthz. reachable is true whenever any HTTP response arrives,
// even a 5xx (the path works, the service is degraded); err is non-nil for
// anything other than a healthy 200.
func (c *Client) Probe(ctx context.Context) (latency time.Duration, reachable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/healthz", nil)
	if err != nil {
		return 0, false, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	latency = time.Since(start)
	if err != nil {
		return latency, false, fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusOK {
		return latency, true, nil
	}
	return latency, true, fmt.Errorf("%w: healthz HTTP %d", ErrRetryable, resp.StatusCode)
}

// --- HTTP plumbing ---

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	if c.TerminalID != "" {
		req.Header.Set("X-Till-Terminal", c.TerminalID)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// Transport failure or timeout; always worth a retry
		return fmt.Errorf("%w: %v", ErrRetryable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrRetryable, err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d: %s", ErrRetryable, resp.StatusCode, string(respBody))
	}

	if resp.StatusCode >= 400 {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %s", ErrUnauthorized, string(respBody))
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s", ErrForbidden, string(respBody))
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", ErrNotFound, string(respBody))
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: HTTP 429", ErrRetryable)
		}

		ve := &ValidationError{StatusCode: resp.StatusCode}
		if json.Unmarshal(respBody, ve) != nil || ve.Code == "" {
			ve.Code = "rejected"
			ve.Message = string(respBody)
		}
		return ve
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
