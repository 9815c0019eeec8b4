package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("twilio credentials not configured")

// Sender delivers outbound SMS messages.
type Sender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// TwilioClient sends SMS through the Twilio Messages REST resource.
type TwilioClient struct {
	baseURL    string
	accountSID string
	authToken  string
	from       string
	client     *http.Client
}

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	FromNumber string
}

func NewTwilioClient(cfg TwilioConfig) *TwilioClient {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = "https://api.twilio.com"
	}
	return &TwilioClient{
		baseURL:    base,
		accountSID: strings.TrimSpace(cfg.AccountSID),
		authToken:  strings.TrimSpace(cfg.AuthToken),
		from:       strings.TrimSpace(cfg.FromNumber),
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *TwilioClient) SendSMS(ctx context.Context, to, body string) error {
	if c.accountSID == "" || c.authToken == "" || c.from == "" {
		return ErrNotConfigured
	}

	form := url.Values{}
	form.Set("To", strings.TrimSpace(to))
	form.Set("From", c.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", c.baseURL, c.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return fmt.Errorf("twilio status %d: %s", res.StatusCode, string(respBody))
	}
	return nil
}

// MockSender records messages for local runs and tests.
type MockSender struct {
	Sent []SentMessage
}

type SentMessage struct {
	To   string
	Body string
}

func (m *MockSender) SendSMS(_ context.Context, to, body string) error {
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
