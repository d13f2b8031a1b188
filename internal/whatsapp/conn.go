// Package whatsapp adapts the multi-device bridge (a GOWA server) to the
// connection primitives the session manager consumes: open, QR, send, and
// a stream of lifecycle events.
package whatsapp

import (
	"context"
	"errors"
)

// ErrLoggedOut is returned by the bridge when the device was unlinked from the phone.
var ErrLoggedOut = errors.New("whatsapp device logged out")

// Sender delivers messages on a live connection. Recipients are phone
// numbers in any format phone.Digits understands. Each call returns the
// provider message id when the bridge reports one.
type Sender interface {
	SendText(ctx context.Context, to, text string) (string, error)
	SendImage(ctx context.Context, to, imageURL, caption string) (string, error)
	SendAudio(ctx context.Context, to, audioURL string) (string, error)
}

// EventKind enumerates connection lifecycle events.
type EventKind int

const (
	// EventQR carries a fresh pairing code to present to the tenant.
	EventQR EventKind = iota + 1
	// EventOpen means the device is linked and able to send.
	EventOpen
	// EventClosed means the connection dropped. LoggedOut tells a transient
	// drop from an unlinked device.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventQR:
		return "qr"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Event is one lifecycle notification from a connection.
type Event struct {
	Kind EventKind
	// QR is either the raw pairing payload or a link to a rendered image.
	QR string
	// Phone is the bound identity, set on EventOpen.
	Phone string
	// Credentials are the records to persist, set on EventOpen.
	Credentials Credentials
	LoggedOut   bool
	Err         error
}

// Credentials are opaque key/value records that let a connection resume
// without a new QR scan.
type Credentials map[string][]byte

// Conn is a live (or pairing) connection for one tenant.
type Conn interface {
	Sender
	// Events yields lifecycle events. The channel is closed once the
	// connection stops, either after an EventClosed or after Close.
	Events() <-chan Event
	// Logout unlinks the device. It is terminal.
	Logout(ctx context.Context) error
	// Close stops the connection without unlinking the device.
	Close() error
}
