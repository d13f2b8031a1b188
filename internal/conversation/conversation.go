// Package conversation runs the per-message pipeline between a customer on
// WhatsApp and the tenant's assistant.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"storefront_backend/internal/whatsapp"
)

// Status is the conversation-level state.
type Status string

const (
	StatusActive    Status = "active"
	StatusEscalated Status = "escalated"
)

// Role identifies who wrote a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus tracks outbound delivery of assistant messages.
type MessageStatus string

const (
	MessagePending MessageStatus = "pending"
	MessageSent    MessageStatus = "sent"
	MessageFailed  MessageStatus = "failed"
)

// Conversation is one customer thread of an agent.
type Conversation struct {
	ID            uuid.UUID
	AgentID       uuid.UUID
	ContactPhone  string
	ContactName   string
	Status        Status
	BotPaused     bool
	LastMessageAt *time.Time
}

// Answerable reports whether the bot may reply.
func (c Conversation) Answerable() bool {
	return c.Status != StatusEscalated && !c.BotPaused
}

// Message is one stored chat message.
type Message struct {
	ID                uuid.UUID
	ConversationID    uuid.UUID
	Role              Role
	Content           string
	Type              whatsapp.MessageType
	Status            MessageStatus
	ProviderMessageID string
	MediaURL          string
	Error             string
	CreatedAt         time.Time
}

// PendingMessage is an assistant message waiting for delivery, with what is
// needed to send it.
type PendingMessage struct {
	Message
	AgentID      uuid.UUID
	ContactPhone string
}

// InboundMessage is a customer message routed to an agent.
type InboundMessage struct {
	AgentID uuid.UUID
	whatsapp.Inbound
}

// placeholder is stored when a media message carries no text.
func placeholder(t whatsapp.MessageType) string {
	switch t {
	case whatsapp.MessageVoice:
		return "[Message vocal]"
	case whatsapp.MessageImage:
		return "[Image]"
	default:
		return ""
	}
}
