// Package delivery sends stored messages over the live WhatsApp sessions.
// It reacts to Postgres notifications and sweeps for anything missed.
package delivery

import (
	"time"

	"github.com/google/uuid"
)

// OutboundKind tags why a standalone message was queued.
type OutboundKind string

const (
	KindNotification    OutboundKind = "notification"
	KindPaymentReminder OutboundKind = "payment_reminder"
	KindOrderCancelled  OutboundKind = "order_cancelled"
	KindFeedbackRequest OutboundKind = "feedback_request"
)

// OutboundStatus tracks a queued message.
type OutboundStatus string

const (
	OutboundPending OutboundStatus = "pending"
	OutboundSent    OutboundStatus = "sent"
	OutboundFailed  OutboundStatus = "failed"
)

// OutboundMessage is a message sent outside any conversation turn, such as
// a payment reminder.
type OutboundMessage struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	RecipientPhone string
	Content        string
	MediaURL       string
	Kind           OutboundKind
	Status         OutboundStatus
	Error          string
	SentAt         *time.Time
	CreatedAt      time.Time
}
