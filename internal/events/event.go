// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"storefront_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewInMemoryBus = events.NewInMemoryBus
)

// =============================================================================
// Fulfillment Events
// =============================================================================

// OrderCreated is published once an order and its items are committed.
type OrderCreated struct {
	BaseEvent
	AgentID       uuid.UUID `json:"agentId"`
	OrderID       uuid.UUID `json:"orderId"`
	CustomerName  string    `json:"customerName"`
	CustomerPhone string    `json:"customerPhone"`
	Total         int64     `json:"total"`
	PaymentMethod string    `json:"paymentMethod"`
	ItemsSummary  string    `json:"itemsSummary"`
}

func (e OrderCreated) EventName() string { return "orders.created" }
func (e OrderCreated) Agent() uuid.UUID { return e.AgentID }

// OrderPaid is published when the payment gateway confirms an order.
type OrderPaid struct {
	BaseEvent
	AgentID uuid.UUID `json:"agentId"`
	OrderID uuid.UUID `json:"orderId"`
	Total   int64     `json:"total"`
}

func (e OrderPaid) EventName() string { return "orders.paid" }
func (e OrderPaid) Agent() uuid.UUID { return e.AgentID }

// StockDepleted is published when an order takes the last unit of a product.
type StockDepleted struct {
	BaseEvent
	AgentID     uuid.UUID `json:"agentId"`
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
}

func (e StockDepleted) EventName() string { return "catalog.stock_depleted" }
func (e StockDepleted) Agent() uuid.UUID { return e.AgentID }

// BookingCreated is published once a booking is committed.
type BookingCreated struct {
	BaseEvent
	AgentID       uuid.UUID `json:"agentId"`
	BookingID     uuid.UUID `json:"bookingId"`
	ServiceName   string    `json:"serviceName"`
	CustomerPhone string    `json:"customerPhone"`
	StartTime     string    `json:"startTime"`
}

func (e BookingCreated) EventName() string { return "bookings.created" }
func (e BookingCreated) Agent() uuid.UUID { return e.AgentID }

// =============================================================================
// Conversation Events
// =============================================================================

// ConversationEscalated is published when sentiment hands a chat to a human.
type ConversationEscalated struct {
	BaseEvent
	AgentID        uuid.UUID `json:"agentId"`
	ConversationID uuid.UUID `json:"conversationId"`
	ContactPhone   string    `json:"contactPhone"`
	Sentiment      string    `json:"sentiment"`
	LastMessage    string    `json:"lastMessage"`
}

func (e ConversationEscalated) EventName() string { return "conversations.escalated" }
func (e ConversationEscalated) Agent() uuid.UUID { return e.AgentID }

// PriceIntegrityFlagged is published when a reply quotes an amount the catalog cannot explain.
type PriceIntegrityFlagged struct {
	BaseEvent
	AgentID        uuid.UUID `json:"agentId"`
	ConversationID uuid.UUID `json:"conversationId"`
	Amounts        []int64   `json:"amounts"`
}

func (e PriceIntegrityFlagged) EventName() string { return "conversations.price_integrity_flagged" }
func (e PriceIntegrityFlagged) Agent() uuid.UUID { return e.AgentID }

// =============================================================================
// Session Events
// =============================================================================

// SessionConnected is published when an agent's WhatsApp session opens.
type SessionConnected struct {
	BaseEvent
	AgentID uuid.UUID `json:"agentId"`
	Phone   string    `json:"phone"`
}

func (e SessionConnected) EventName() string { return "sessions.connected" }
func (e SessionConnected) Agent() uuid.UUID { return e.AgentID }

// SessionLoggedOut is published after a terminal logout wiped the credentials.
type SessionLoggedOut struct {
	BaseEvent
	AgentID uuid.UUID `json:"agentId"`
}

func (e SessionLoggedOut) EventName() string { return "sessions.logged_out" }
func (e SessionLoggedOut) Agent() uuid.UUID { return e.AgentID }
