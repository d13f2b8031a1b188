package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"storefront_backend/platform/phone"
)

// SignatureHeader carries the HMAC of the webhook body.
const SignatureHeader = "X-Hub-Signature-256"

// MessageType classifies inbound content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVoice MessageType = "voice"
)

// ErrIgnoredEvent marks webhook deliveries that carry no customer message
// (receipts, group traffic, our own echoes).
var ErrIgnoredEvent = errors.New("webhook event ignored")

// Inbound is a customer message received through the bridge webhook.
type Inbound struct {
	DeviceID          string
	ProviderMessageID string
	// From is the sender's phone number without the plus.
	From      string
	PushName  string
	Type      MessageType
	Text      string
	MediaURL  string
	Timestamp time.Time
}

type webhookMedia struct {
	MediaPath string `json:"media_path"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type"`
	Caption   string `json:"caption"`
}

type webhookPayload struct {
	DeviceID  string `json:"device_id"`
	From      string `json:"from"`
	SenderID  string `json:"sender_id"`
	ChatID    string `json:"chat_id"`
	PushName  string `json:"pushname"`
	Timestamp string `json:"timestamp"`
	IsFromMe  bool   `json:"is_from_me"`
	Message   struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"message"`
	Image *webhookMedia `json:"image"`
	Audio *webhookMedia `json:"audio"`
	Voice *webhookMedia `json:"ptt"`
}

// VerifySignature checks the "sha256=<hex>" HMAC of body. An empty secret
// disables the check.
func VerifySignature(secret string, body []byte, header string) bool {
	if secret == "" {
		return true
	}
	sig := strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the header value VerifySignature accepts.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// ParseInbound decodes a bridge webhook body. It returns ErrIgnoredEvent
// for anything that is not a direct customer message.
func ParseInbound(body []byte) (Inbound, error) {
	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Inbound{}, err
	}

	jid := p.From
	if jid == "" {
		jid = p.ChatID
	}
	if p.IsFromMe || p.Message.ID == "" || strings.HasSuffix(jid, "@g.us") || strings.Contains(jid, "@broadcast") {
		return Inbound{}, ErrIgnoredEvent
	}

	sender := p.SenderID
	if sender == "" {
		sender = phone.FromJID(jid)
	}

	in := Inbound{
		DeviceID:          p.DeviceID,
		ProviderMessageID: p.Message.ID,
		From:              phone.FromJID(sender),
		PushName:          strings.TrimSpace(p.PushName),
		Type:              MessageText,
		Text:              strings.TrimSpace(p.Message.Text),
		Timestamp:         parseTimestamp(p.Timestamp),
	}

	switch {
	case p.Voice != nil:
		in.Type = MessageVoice
		in.MediaURL = p.Voice.location()
	case p.Audio != nil:
		in.Type = MessageVoice
		in.MediaURL = p.Audio.location()
	case p.Image != nil:
		in.Type = MessageImage
		in.MediaURL = p.Image.location()
		if in.Text == "" {
			in.Text = strings.TrimSpace(p.Image.Caption)
		}
	}

	if in.From == "" || (in.Type == MessageText && in.Text == "") {
		return Inbound{}, ErrIgnoredEvent
	}
	return in, nil
}

func (m *webhookMedia) location() string {
	if m.URL != "" {
		return m.URL
	}
	return m.MediaPath
}

func parseTimestamp(value string) time.Time {
	if value == "" {
		return time.Now().UTC()
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.UTC()
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	return time.Now().UTC()
}
