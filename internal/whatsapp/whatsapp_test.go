package whatsapp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"storefront_backend/platform/logger"
)

type bridgeConfig struct {
	url string
}

func (c bridgeConfig) GetBridgeURL() string                 { return c.url }
func (c bridgeConfig) GetBridgeUsername() string            { return "admin" }
func (c bridgeConfig) GetBridgePassword() string            { return "secret" }
func (c bridgeConfig) GetBridgeWebhookSecret() string       { return "hook" }
func (c bridgeConfig) GetBridgePollInterval() time.Duration { return 10 * time.Millisecond }

func TestSendTextUsesDeviceAndDigits(t *testing.T) {
	var gotDevice, gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/send/message" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotDevice = r.Header.Get("X-Device-Id")
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		gotBody = string(data)
		_, _ = w.Write([]byte(`{"code":"SUCCESS","results":{"message_id":"3EB0ABC","status":"sent"}}`))
	}))
	defer srv.Close()

	c := NewClient(bridgeConfig{url: srv.URL}, "device-1", logger.New("test"))
	id, err := c.SendText(context.Background(), "+225 07 07 07 07 07", "Bonjour")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "3EB0ABC" {
		t.Fatalf("expected message id, got %q", id)
	}
	if gotDevice != "device-1" || !strings.HasPrefix(gotAuth, "Basic ") {
		t.Fatalf("expected device and auth headers, got %q %q", gotDevice, gotAuth)
	}
	if !strings.Contains(gotBody, `"phone":"2250707070707"`) {
		t.Fatalf("expected digits-only phone, got %s", gotBody)
	}
}

func TestUnauthorizedMapsToLoggedOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"UNAUTHORIZED","message":"device logged out"}`))
	}))
	defer srv.Close()

	c := NewClient(bridgeConfig{url: srv.URL}, "device-1", logger.New("test"))
	if _, err := c.Status(context.Background()); !errors.Is(err, ErrLoggedOut) {
		t.Fatalf("expected ErrLoggedOut, got %v", err)
	}
}

func TestConnectionEmitsQRThenOpen(t *testing.T) {
	linked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/status":
			select {
			case <-linked:
				_, _ = w.Write([]byte(`{"code":"SUCCESS","results":{"is_connected":true,"is_logged_in":true}}`))
			default:
				_, _ = w.Write([]byte(`{"code":"SUCCESS","results":{"is_connected":false,"is_logged_in":false}}`))
			}
		case "/app/login":
			_, _ = w.Write([]byte(`{"code":"SUCCESS","results":{"qr_code":"2@abc","qr_duration":30}}`))
		case "/app/devices":
			_, _ = w.Write([]byte(`{"code":"SUCCESS","results":[{"name":"Shop","device":"2250707070707:12@s.whatsapp.net"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	connector := NewConnector(bridgeConfig{url: srv.URL}, logger.New("test"))
	conn, err := connector.Open(context.Background(), uuid.New(), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	first := <-conn.Events()
	if first.Kind != EventQR || first.QR != "2@abc" {
		t.Fatalf("expected QR event, got %+v", first)
	}
	close(linked)

	second := <-conn.Events()
	if second.Kind != EventOpen || second.Phone != "2250707070707" {
		t.Fatalf("expected open event with phone, got %+v", second)
	}
	if len(second.Credentials[credentialDevice]) == 0 {
		t.Fatalf("expected device credential on open")
	}
}

func TestParseInboundText(t *testing.T) {
	body := []byte(`{"device_id":"dev","from":"2250707070707@s.whatsapp.net","pushname":"Awa","timestamp":"2026-10-01T10:00:00Z","message":{"id":"ABC","text":" Bonjour "}}`)
	in, err := ParseInbound(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.From != "2250707070707" || in.Text != "Bonjour" || in.Type != MessageText || in.ProviderMessageID != "ABC" {
		t.Fatalf("unexpected inbound %+v", in)
	}
}

func TestParseInboundIgnoresGroupsAndEchoes(t *testing.T) {
	cases := []string{
		`{"from":"123@g.us","message":{"id":"A","text":"hi"}}`,
		`{"from":"2250707070707@s.whatsapp.net","is_from_me":true,"message":{"id":"B","text":"hi"}}`,
		`{"from":"2250707070707@s.whatsapp.net","message":{"id":"C","text":""}}`,
	}
	for _, body := range cases {
		if _, err := ParseInbound([]byte(body)); !errors.Is(err, ErrIgnoredEvent) {
			t.Fatalf("expected ignored for %s, got %v", body, err)
		}
	}
}

func TestParseInboundVoice(t *testing.T) {
	body := []byte(`{"from":"2250707070707@s.whatsapp.net","message":{"id":"V1"},"ptt":{"url":"https://media.example/v.ogg"}}`)
	in, err := ParseInbound(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if in.Type != MessageVoice || in.MediaURL != "https://media.example/v.ogg" {
		t.Fatalf("unexpected voice inbound %+v", in)
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"a":1}`)
	if !VerifySignature("hook", body, Sign("hook", body)) {
		t.Fatalf("expected signature to verify")
	}
	if VerifySignature("hook", body, Sign("other", body)) {
		t.Fatalf("expected wrong secret to fail")
	}
	if !VerifySignature("", body, "") {
		t.Fatalf("expected empty secret to disable the check")
	}
}
