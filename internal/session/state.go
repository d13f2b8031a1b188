// Package session keeps at most one live WhatsApp connection per agent and
// drives it through pairing, reconnects and terminal logout.
package session

import (
	"errors"
	"time"
)

// State is the lifecycle position of one agent's connection.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateQRWaiting    State = "qr_waiting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateLoggedOut    State = "logged_out"
)

// Active reports whether a connection attempt or connection exists, in
// which case another connect request is a no-op.
func (s State) Active() bool {
	switch s {
	case StateConnecting, StateQRWaiting, StateConnected, StateReconnecting:
		return true
	default:
		return false
	}
}

var (
	// ErrNotConnected is returned by Sender when the agent has no open connection.
	ErrNotConnected = errors.New("whatsapp session not connected")
	// ErrTransientDisconnect marks a dropped connection that will be retried.
	ErrTransientDisconnect = errors.New("whatsapp session disconnected")
	// ErrLoggedOut marks a terminal logout; a new QR scan is required.
	ErrLoggedOut = errors.New("whatsapp session logged out")
)

// Backoff returns the delay before reconnect attempt n (1-based):
// min(base × 2^(n−1), max).
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
