// Package callback delivers asynchronous command results to roaming partners.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout bounds a callback delivery.
const DefaultTimeout = 10 * time.Second

// ErrEmptyBody is wrapped by a CallbackError when the partner answered 200
// without a body.
var ErrEmptyBody = errors.New("empty response body")

// CallbackError reports a failed delivery: transport error, timeout,
// non-200 status or empty response body.
type CallbackError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *CallbackError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("callback to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("callback to %s failed with status %d", e.URL, e.StatusCode)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Notifier posts JSON payloads with a partner token.
type Notifier struct {
	HTTP *http.Client
}

// NewNotifier returns a Notifier whose requests time out after timeout.
func NewNotifier(timeout time.Duration) *Notifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{HTTP: &http.Client{Timeout: timeout}}
}

// Notify posts payload to url with "Authorization: Token <token>".
func (n *Notifier) Notify(ctx context.Context, url, token string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode callback payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &CallbackError{URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+token)

	resp, err := n.HTTP.Do(req)
	if err != nil {
		return &CallbackError{URL: url, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &CallbackError{URL: url, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &CallbackError{URL: url, StatusCode: resp.StatusCode}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &CallbackError{URL: url, StatusCode: resp.StatusCode, Err: ErrEmptyBody}
	}
	return nil
}
