package whatsapp

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

// credentialDevice is the credential record holding the bridge device id.
const credentialDevice = "device"

const defaultQRRefresh = 30 * time.Second

// Connector opens bridge connections.
type Connector struct {
	cfg  config.BridgeConfig
	log  *logger.Logger
	poll time.Duration
}

// NewConnector creates a connector polling the bridge at the configured interval.
func NewConnector(cfg config.BridgeConfig, log *logger.Logger) *Connector {
	poll := cfg.GetBridgePollInterval()
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Connector{cfg: cfg, log: log.WithComponent("whatsapp"), poll: poll}
}

// Open starts a connection for agentID. Saved credentials resume the
// existing device; without them a new device is paired through QR events.
func (c *Connector) Open(ctx context.Context, agentID uuid.UUID, creds Credentials) (Conn, error) {
	deviceID := agentID.String()
	resume := false
	if saved, ok := creds[credentialDevice]; ok && len(saved) > 0 {
		deviceID = string(saved)
		resume = true
	}

	client := NewClient(c.cfg, deviceID, c.log.WithAgent(agentID.String()))
	if resume {
		if err := client.Reconnect(ctx); err != nil && !errors.Is(err, ErrLoggedOut) {
			return nil, err
		}
	}

	return startBridgeConn(client, c.poll, c.log.WithAgent(agentID.String())), nil
}

// bridgeConn turns bridge status polling into lifecycle events.
type bridgeConn struct {
	*Client
	poll   time.Duration
	log    *logger.Logger
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func startBridgeConn(client *Client, poll time.Duration, log *logger.Logger) *bridgeConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &bridgeConn{
		Client: client,
		poll:   poll,
		log:    log,
		events: make(chan Event, 4),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c
}

func (c *bridgeConn) Events() <-chan Event { return c.events }

func (c *bridgeConn) Close() error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
	})
	return nil
}

func (c *bridgeConn) Logout(ctx context.Context) error {
	err := c.Client.Logout(ctx)
	_ = c.Close()
	return err
}

func (c *bridgeConn) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.events)

	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	var (
		open      bool
		qrExpires time.Time
	)
	for {
		status, err := c.Status(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrLoggedOut):
			c.emit(ctx, Event{Kind: EventClosed, LoggedOut: true, Err: err})
			return
		case err != nil:
			if open {
				c.emit(ctx, Event{Kind: EventClosed, Err: err})
				return
			}
			c.log.Warn("bridge status poll failed", "error", err)
		case status.IsLoggedIn && status.IsConnected:
			if !open {
				open = true
				phone, perr := c.Phone(ctx)
				if perr != nil {
					c.log.Warn("bridge phone lookup failed", "error", perr)
				}
				c.emit(ctx, Event{
					Kind:        EventOpen,
					Phone:       phone,
					Credentials: Credentials{credentialDevice: []byte(c.DeviceID())},
				})
			}
		case open && !status.IsLoggedIn:
			c.emit(ctx, Event{Kind: EventClosed, LoggedOut: true, Err: ErrLoggedOut})
			return
		case open:
			c.emit(ctx, Event{Kind: EventClosed, Err: errors.New("bridge reports device disconnected")})
			return
		case time.Now().After(qrExpires):
			login, lerr := c.Login(ctx)
			if lerr != nil {
				c.log.Warn("bridge login failed", "error", lerr)
				break
			}
			refresh := defaultQRRefresh
			if login.QRDuration > 0 {
				refresh = time.Duration(login.QRDuration) * time.Second
			}
			qrExpires = time.Now().Add(refresh)
			c.emit(ctx, Event{Kind: EventQR, QR: login.Code()})
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *bridgeConn) emit(ctx context.Context, e Event) {
	select {
	case c.events <- e:
	case <-ctx.Done():
	}
}
