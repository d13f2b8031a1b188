package whatsapp

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/phone"
)

// Client talks to the bridge on behalf of one device.
type Client struct {
	baseURL  string
	auth     string
	deviceID string
	http     *http.Client
	log      *logger.Logger
}

// bridgeResponse is the envelope every bridge endpoint answers with.
type bridgeResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Results json.RawMessage `json:"results"`
}

type sendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

type sendResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// LoginResult is the pairing material returned by /app/login.
type LoginResult struct {
	QRCode     string `json:"qr_code"`
	QRLink     string `json:"qr_link"`
	QRDuration int    `json:"qr_duration"`
}

// Code returns the best available pairing payload.
func (r LoginResult) Code() string {
	if r.QRCode != "" {
		return r.QRCode
	}
	return r.QRLink
}

// Status is the bridge's view of the device.
type Status struct {
	IsConnected bool   `json:"is_connected"`
	IsLoggedIn  bool   `json:"is_logged_in"`
	DeviceID    string `json:"device_id"`
}

type deviceEntry struct {
	Name   string `json:"name"`
	Device string `json:"device"`
}

// NewClient creates a bridge client for deviceID.
func NewClient(cfg config.BridgeConfig, deviceID string, log *logger.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimRight(cfg.GetBridgeURL(), "/"),
		auth:     basicAuth(cfg.GetBridgeUsername(), cfg.GetBridgePassword()),
		deviceID: deviceID,
		http:     &http.Client{Timeout: 15 * time.Second},
		log:      log,
	}
}

// DeviceID returns the bridge device this client acts for.
func (c *Client) DeviceID() string { return c.deviceID }

// Login starts pairing and returns the QR material.
func (c *Client) Login(ctx context.Context) (LoginResult, error) {
	var out LoginResult
	if err := c.do(ctx, http.MethodGet, "/app/login", nil, "", &out); err != nil {
		return LoginResult{}, err
	}
	return out, nil
}

// Reconnect asks the bridge to resume a previously linked device.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/app/reconnect", nil, "", nil)
}

// Logout unlinks the device.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/app/logout", nil, "", nil)
}

// Status reports whether the device is linked and connected.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/app/status", nil, "", &out); err != nil {
		return Status{}, err
	}
	return out, nil
}

// Phone returns the phone number bound to the device, without the plus.
func (c *Client) Phone(ctx context.Context) (string, error) {
	var devices []deviceEntry
	if err := c.do(ctx, http.MethodGet, "/app/devices", nil, "", &devices); err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", fmt.Errorf("bridge reported no device")
	}
	return phone.FromJID(devices[0].Device), nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, text string) (string, error) {
	body, err := json.Marshal(sendRequest{Phone: phone.Digits(to), Message: text})
	if err != nil {
		return "", fmt.Errorf("marshal whatsapp payload: %w", err)
	}
	var out sendResult
	if err := c.do(ctx, http.MethodPost, "/send/message", bytes.NewReader(body), "application/json", &out); err != nil {
		return "", err
	}
	c.log.Debug("whatsapp text sent", "deviceId", c.deviceID, "messageId", out.MessageID)
	return out.MessageID, nil
}

// SendImage sends an image fetched by the bridge from imageURL.
func (c *Client) SendImage(ctx context.Context, to, imageURL, caption string) (string, error) {
	return c.sendMedia(ctx, "/send/image", map[string]string{
		"phone":     phone.Digits(to),
		"image_url": imageURL,
		"caption":   caption,
	})
}

// SendAudio sends a voice note fetched by the bridge from audioURL.
func (c *Client) SendAudio(ctx context.Context, to, audioURL string) (string, error) {
	return c.sendMedia(ctx, "/send/audio", map[string]string{
		"phone":     phone.Digits(to),
		"audio_url": audioURL,
	})
}

func (c *Client) sendMedia(ctx context.Context, path string, fields map[string]string) (string, error) {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := form.WriteField(k, v); err != nil {
			return "", fmt.Errorf("build %s form: %w", path, err)
		}
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("build %s form: %w", path, err)
	}

	var out sendResult
	if err := c.do(ctx, http.MethodPost, path, &buf, form.FormDataContentType(), &out); err != nil {
		return "", err
	}
	return out.MessageID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, results any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read whatsapp response: %w", err)
	}

	var envelope bridgeResponse
	_ = json.Unmarshal(data, &envelope)

	if resp.StatusCode >= http.StatusBadRequest {
		if resp.StatusCode == http.StatusUnauthorized || strings.Contains(strings.ToLower(envelope.Message), "logged out") {
			return fmt.Errorf("%w: %s", ErrLoggedOut, strings.TrimSpace(envelope.Message))
		}
		return fmt.Errorf("whatsapp service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if results == nil || len(envelope.Results) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Results, results); err != nil {
		return fmt.Errorf("decode whatsapp %s results: %w", path, err)
	}
	return nil
}

func basicAuth(username, password string) string {
	if username == "" && password == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(username), "basic ") {
		return username
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}
