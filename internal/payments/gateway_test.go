package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type testPaymentConfig struct {
	baseURL string
	secret  string
}

func (c testPaymentConfig) GetPaymentBaseURL() string   { return c.baseURL }
func (c testPaymentConfig) GetPaymentAPIKey() string    { return "key" }
func (c testPaymentConfig) GetPaymentSiteID() string    { return "site-1" }
func (c testPaymentConfig) GetPaymentSecretKey() string { return c.secret }
func (c testPaymentConfig) GetAppBaseURL() string       { return "https://shop.example" }
func (c testPaymentConfig) GetPublicAPIURL() string     { return "https://api.example" }

func TestInitiateReturnsPaymentURL(t *testing.T) {
	var got initiateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/payment" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"code":"201","message":"CREATED","data":{"payment_url":"https://checkout.example/abc"}}`))
	}))
	defer srv.Close()

	client := NewClient(testPaymentConfig{baseURL: srv.URL})
	url, err := client.Initiate(context.Background(), Checkout{TransactionID: "tx-1", Amount: 12000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://checkout.example/abc" {
		t.Fatalf("unexpected url %q", url)
	}
	if got.Currency != "XOF" || got.Amount != 12000 || got.SiteID != "site-1" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestInitiateRejectsUnexpectedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"608","message":"MINIMUM_REQUIRED_FIELDS"}`))
	}))
	defer srv.Close()

	client := NewClient(testPaymentConfig{baseURL: srv.URL})
	if _, err := client.Initiate(context.Background(), Checkout{TransactionID: "tx-1", Amount: 10}); err == nil {
		t.Fatalf("expected error for code 608")
	}
}

func TestCheckMapsStatuses(t *testing.T) {
	cases := map[string]Status{
		"ACCEPTED":  StatusAccepted,
		"REFUSED":   StatusRefused,
		"CANCELLED": StatusCancelled,
		"WAITING":   StatusPending,
	}
	for raw, want := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"code":"00","message":"SUCCES","data":{"status":"` + raw + `"}}`))
		}))

		status, err := NewClient(testPaymentConfig{baseURL: srv.URL}).Check(context.Background(), "tx-1")
		srv.Close()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", raw, err)
		}
		if status != want {
			t.Fatalf("%s: expected %s, got %s", raw, want, status)
		}
	}
}

func TestUnconfiguredClientFails(t *testing.T) {
	client := NewClient(testPaymentConfig{})
	if _, err := client.Check(context.Background(), "tx"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}

func TestVerifySignature(t *testing.T) {
	client := NewClient(testPaymentConfig{secret: "s3cret"})
	payload := []byte(`{"cpm_trans_id":"abc"}`)

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(payload)
	token := hex.EncodeToString(mac.Sum(nil))

	if !client.VerifySignature(payload, token) {
		t.Fatalf("expected valid signature")
	}
	if client.VerifySignature(payload, "00"+token[2:]) {
		t.Fatalf("expected tampered token to fail")
	}
	if client.VerifySignature(payload, "not-hex") {
		t.Fatalf("expected malformed token to fail")
	}
}

func TestParseNotificationAcceptsFormAndJSON(t *testing.T) {
	n, ok := parseNotification([]byte("cpm_trans_id=abc&cpm_site_id=site-1"))
	if !ok || n.TransactionID != "abc" || n.SiteID != "site-1" {
		t.Fatalf("form: unexpected %+v ok=%v", n, ok)
	}
	n, ok = parseNotification([]byte(`{"cpm_trans_id":"def","cpm_site_id":"site-1"}`))
	if !ok || n.TransactionID != "def" {
		t.Fatalf("json: unexpected %+v ok=%v", n, ok)
	}
	if _, ok := parseNotification([]byte("")); ok {
		t.Fatalf("expected empty body to be rejected")
	}
}
