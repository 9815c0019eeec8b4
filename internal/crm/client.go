package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/twilio-se-anz/demo-crelay-snow-sub001/internal/reliability"
)

var ErrNotConfigured = errors.New("crm base url not configured")

// CustomerProfile is the caller record returned by the customer lookup.
type CustomerProfile struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// TicketRequest creates a support ticket against the CRM collaborator.
type TicketRequest struct {
	CallSID     string `json:"callSid"`
	Phone       string `json:"phone"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

// TicketResult follows the uniform tool contract: success, message, plus
// tool-specific fields.
type TicketResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	TicketID string `json:"ticketId,omitempty"`
}

// Client talks to the CRM collaborator over its tools HTTP surface.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

const (
	lookupAttempts    = 3
	lookupBackoffBase = 100 * time.Millisecond
	lookupBackoffCap  = time.Second
)

// GetCustomer resolves a caller profile by phone number, retrying transient
// upstream failures. Callers treat any error as "unknown caller" and degrade
// to an anonymous greeting.
func (c *Client) GetCustomer(ctx context.Context, from string) (CustomerProfile, error) {
	if c.baseURL == "" {
		return CustomerProfile{}, ErrNotConfigured
	}

	payload, err := json.Marshal(map[string]string{"from": from})
	if err != nil {
		return CustomerProfile{}, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < lookupAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return CustomerProfile{}, ctx.Err()
			case <-time.After(reliability.ExponentialBackoff(attempt-1, lookupBackoffBase, lookupBackoffCap)):
			}
		}

		profile, retryable, err := c.getCustomerOnce(ctx, payload)
		if err == nil {
			return profile, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}
	return CustomerProfile{}, lastErr
}

func (c *Client) getCustomerOnce(ctx context.Context, payload []byte) (CustomerProfile, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/get-customer", bytes.NewReader(payload))
	if err != nil {
		return CustomerProfile{}, false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return CustomerProfile{}, true, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return CustomerProfile{}, reliability.IsRetryableHTTPStatus(res.StatusCode),
			fmt.Errorf("crm status %d: %s", res.StatusCode, string(body))
	}

	var profile CustomerProfile
	if err := json.NewDecoder(res.Body).Decode(&profile); err != nil {
		return CustomerProfile{}, false, fmt.Errorf("decode profile: %w", err)
	}
	return profile, false, nil
}

// CreateTicket files a support ticket. Failures come back as an error so the
// dispatcher can tag the tool result instead of aborting the turn.
func (c *Client) CreateTicket(ctx context.Context, ticket TicketRequest) (TicketResult, error) {
	if c.baseURL == "" {
		return TicketResult{}, ErrNotConfigured
	}

	payload, err := json.Marshal(ticket)
	if err != nil {
		return TicketResult{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/create-ticket", bytes.NewReader(payload))
	if err != nil {
		return TicketResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return TicketResult{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return TicketResult{}, fmt.Errorf("crm status %d: %s", res.StatusCode, string(body))
	}

	var result TicketResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return TicketResult{}, fmt.Errorf("decode result: %w", err)
	}
	return result, nil
}
