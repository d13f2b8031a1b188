// Package payments talks to the hosted checkout gateway used for online orders
// and receives its payment notifications.
package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"storefront_backend/platform/config"
)

// Status is the gateway's view of a transaction.
type Status string

const (
	StatusAccepted  Status = "ACCEPTED"
	StatusRefused   Status = "REFUSED"
	StatusCancelled Status = "CANCELLED"
	StatusPending   Status = "PENDING"
)

const (
	codeCreated = "201"
	codeOK      = "00"
	currency    = "XOF"
)

// ErrNotConfigured is returned when no gateway credentials are set.
var ErrNotConfigured = errors.New("payment gateway not configured")

// Checkout is the input of a hosted checkout.
type Checkout struct {
	TransactionID string
	Amount        int64
	Description   string
	CustomerName  string
	CustomerPhone string
	CustomerEmail string
	NotifyURL     string
	ReturnURL     string
}

// Client is a CinetPay-style checkout client.
type Client struct {
	baseURL   string
	apiKey    string
	siteID    string
	secretKey string
	http      *http.Client
}

// NewClient returns a client for the configured gateway. It returns a usable
// client even when unconfigured; every call then fails with ErrNotConfigured.
func NewClient(cfg config.PaymentConfig) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.GetPaymentBaseURL(), "/"),
		apiKey:    cfg.GetPaymentAPIKey(),
		siteID:    cfg.GetPaymentSiteID(),
		secretKey: cfg.GetPaymentSecretKey(),
		http:      &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != "" && c.siteID != ""
}

// SiteID is the merchant site identifier notifications must carry.
func (c *Client) SiteID() string { return c.siteID }

type initiateRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerPhone string `json:"customer_phone_number,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	NotifyURL     string `json:"notify_url"`
	ReturnURL     string `json:"return_url"`
	Channels      string `json:"channels"`
	Lang          string `json:"lang"`
}

type checkRequest struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
}

type gatewayResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Initiate opens a hosted checkout and returns the URL the customer pays on.
func (c *Client) Initiate(ctx context.Context, in Checkout) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	resp, err := c.post(ctx, "/v2/payment", initiateRequest{
		APIKey:        c.apiKey,
		SiteID:        c.siteID,
		TransactionID: in.TransactionID,
		Amount:        in.Amount,
		Currency:      currency,
		Description:   in.Description,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		CustomerEmail: in.CustomerEmail,
		NotifyURL:     in.NotifyURL,
		ReturnURL:     in.ReturnURL,
		Channels:      "ALL",
		Lang:          "fr",
	})
	if err != nil {
		return "", err
	}
	if resp.Code != codeCreated {
		return "", fmt.Errorf("payment init refused (%s): %s", resp.Code, resp.Message)
	}

	var data struct {
		PaymentURL string `json:"payment_url"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode payment init data: %w", err)
	}
	if data.PaymentURL == "" {
		return "", errors.New("payment init returned no payment url")
	}
	return data.PaymentURL, nil
}

// Check asks the gateway for the current status of a transaction. Unknown
// gateway statuses are reported as pending.
func (c *Client) Check(ctx context.Context, transactionID string) (Status, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	resp, err := c.post(ctx, "/v2/payment/check", checkRequest{
		APIKey:        c.apiKey,
		SiteID:        c.siteID,
		TransactionID: transactionID,
	})
	if err != nil {
		return "", err
	}
	if resp.Code != codeOK {
		return "", fmt.Errorf("payment check refused (%s): %s", resp.Code, resp.Message)
	}

	var data struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return "", fmt.Errorf("decode payment check data: %w", err)
	}

	switch Status(data.Status) {
	case StatusAccepted, StatusRefused, StatusCancelled:
		return Status(data.Status), nil
	default:
		return StatusPending, nil
	}
}

// VerifySignature checks an HMAC-SHA256 hex token over payload. An empty
// secret disables verification.
func (c *Client) VerifySignature(payload []byte, token string) bool {
	if c.secretKey == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write(payload)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(strings.TrimSpace(token))
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

func (c *Client) post(ctx context.Context, path string, payload any) (gatewayResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("marshal payment payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return gatewayResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("payment request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gatewayResponse{}, fmt.Errorf("read payment response: %w", err)
	}

	var out gatewayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return gatewayResponse{}, fmt.Errorf("payment gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		}
		return gatewayResponse{}, fmt.Errorf("decode payment response: %w", err)
	}
	return out, nil
}
