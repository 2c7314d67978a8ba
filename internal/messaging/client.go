// Package messaging is the HTTP client for the external messaging
// provider. The provider owns actual delivery; this client only sends
// and classifies failures for the dispatch retry policy.
package messaging

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

// Failure taxonomy consumed by the dispatch loop
var (
	// ErrTransient covers provider failures worth retrying
	ErrTransient = errors.New("transient send failure")
	// ErrTerminal covers failures no retry can fix, e.g. an invalid
	// destination number
	ErrTerminal = errors.New("terminal send failure")
)

// SendError wraps a provider failure with its HTTP status
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("messaging provider returned status %d: %s", e.StatusCode, e.Body)
}

// Unwrap classifies the failure: client errors are terminal except
// timeout and throttling.
func (e *SendError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusRequestTimeout &&
		e.StatusCode != http.StatusTooManyRequests {
		return ErrTerminal
	}
	return ErrTransient
}

// SendRequest is the outbound message
type SendRequest struct {
	LeadID string `json:"lead_id"`
	Phone  string `json:"phone"`
	Body   string `json:"body"`
	// Stage identifies the bump for provider-side idempotency
	Stage int `json:"stage"`
}

// SendResult is the provider acknowledgment
type SendResult struct {
	MessageID string `json:"message_id"`
}

// Sender sends one rendered message to a lead
type Sender interface {
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}

// Client talks to the messaging provider over HTTP
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a provider client. The timeout bounds every send
// attempt so no dispatch is ever left in flight indefinitely.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal send request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build send request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Network errors and timeouts are retryable
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return nil, &SendError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result SendResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode provider response: %v", ErrTransient, err)
	}
	return &result, nil
}
