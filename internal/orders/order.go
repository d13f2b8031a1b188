// Package orders models orders and bookings produced by the fulfillment tools.
// Prices are snapshotted at creation and never recomputed.
package orders

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusPending         Status = "pending"
	StatusPaid            Status = "paid"
	StatusPendingDelivery Status = "pending_delivery"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
)

// PaymentMethod is what the customer chose in the chat.
type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "online"
	PaymentCOD    PaymentMethod = "cod"
)

// InitialStatus returns the status a fresh order starts in.
func InitialStatus(method PaymentMethod) Status {
	if method == PaymentCOD {
		return StatusPendingDelivery
	}
	return StatusPending
}

// Item is one priced order line.
type Item struct {
	ProductID   uuid.UUID `json:"productId"`
	ProductName string    `json:"productName"`
	Quantity    int       `json:"quantity"`
	UnitPrice   int64     `json:"unitPrice"`
}

// LineTotal is unit price times quantity.
func (i Item) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Total sums every line.
func Total(items []Item) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}

// Order aggregates a customer purchase.
type Order struct {
	ID              uuid.UUID
	AgentID         uuid.UUID
	ConversationID  *uuid.UUID
	CustomerName    string
	CustomerPhone   string
	DeliveryAddress string
	Email           string
	PaymentMethod   PaymentMethod
	PaymentURL      string
	Status          Status
	Total           int64
	Notes           string
	CreatedAt       time.Time
	Items           []Item
}

// ShortID is the human-facing order reference.
func (o Order) ShortID() string {
	s := o.ID.String()
	return s[:8]
}

// StockError reports that an order wanted more units than remain.
type StockError struct {
	ProductID   uuid.UUID
	ProductName string
	Remaining   int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: %d remaining", e.ProductName, e.Remaining)
}

// DepletedProduct names a product whose finite stock reached zero.
type DepletedProduct struct {
	ProductID   uuid.UUID
	ProductName string
}

// BookingStatus is the booking lifecycle state.
type BookingStatus string

const (
	BookingScheduled  BookingStatus = "scheduled"
	BookingInProgress BookingStatus = "in_progress"
	BookingCompleted  BookingStatus = "completed"
	BookingCancelled  BookingStatus = "cancelled"
)

// BookingType tells how a service is consumed.
type BookingType string

const (
	BookingStay   BookingType = "stay"
	BookingTable  BookingType = "table"
	BookingSlot   BookingType = "slot"
	BookingRental BookingType = "rental"
)

// ParseBookingType defaults unknown values to a time slot.
func ParseBookingType(value string) BookingType {
	switch BookingType(value) {
	case BookingStay, BookingTable, BookingRental:
		return BookingType(value)
	default:
		return BookingSlot
	}
}

// Booking is a time-based reservation of a service product.
type Booking struct {
	ID             uuid.UUID
	AgentID        uuid.UUID
	ConversationID *uuid.UUID
	ProductID      uuid.UUID
	ServiceName    string
	CustomerName   string
	CustomerPhone  string
	StartTime      time.Time
	EndDate        *time.Time
	Type           BookingType
	PartySize      int
	Location       string
	VariantLabel   string
	Price          int64
	Status         BookingStatus
	Notes          string
	CreatedAt      time.Time
}
