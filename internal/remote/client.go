// Package remote implements the dispatch contract between the console core
// and the provider-facing backend: every provider I/O operation is a named
// call with a JSON request and a JSON response. The core depends only on
// this contract, not on how the backend reaches the actual cloud APIs.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/skyporthq/skyport/internal/util"
)

// ErrUnavailable marks transport-level failures: the backend could not be
// reached or answered with a server error. Callers use it to trigger
// degraded-mode fallbacks.
var ErrUnavailable = errors.New("remote backend unavailable")

// Envelope is the response shape of every dispatch operation.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Client performs named dispatch calls against the remote backend.
type Client struct {
	base         string
	http         *http.Client
	retryTimeout time.Duration
}

// New builds a dispatch client. retryTimeout bounds transparent retries of
// unreachable-backend failures; zero disables retrying.
func New(base string, timeout, retryTimeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:         trimSlash(base),
		http:         &http.Client{Timeout: timeout},
		retryTimeout: retryTimeout,
	}
}

func trimSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

// Call invokes the named operation with the given request body and decodes
// the envelope data into out (when out is non-nil). A backend that answers
// with success=false yields a plain error; transport failures and 5xx
// responses yield ErrUnavailable.
func (c *Client) Call(ctx context.Context, operation string, body any, out any) error {
	attempt := func() (bool, error) {
		err := c.callOnce(ctx, operation, body, out)
		if errors.Is(err, ErrUnavailable) && ctx.Err() == nil {
			return true, err
		}
		return false, err
	}
	if c.retryTimeout <= 0 {
		_, err := attempt()
		return err
	}
	return util.Retry(c.retryTimeout, attempt)
}

func (c *Client) callOnce(ctx context.Context, operation string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("dispatch %s: encode request: %w", operation, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/v1/dispatch/"+operation, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w: %v", operation, ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("dispatch %s: %w: status %s", operation, ErrUnavailable, resp.Status)
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("dispatch %s: decode response: %w", operation, err)
	}
	if !env.Success {
		msg := env.Error
		if msg == "" {
			msg = "operation failed"
		}
		return fmt.Errorf("dispatch %s: %s", operation, msg)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("dispatch %s: decode data: %w", operation, err)
		}
	}
	return nil
}
