package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"storefront_backend/internal/events"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

// Connector opens protocol connections.
type Connector interface {
	Open(ctx context.Context, agentID uuid.UUID, creds whatsapp.Credentials) (whatsapp.Conn, error)
}

// AgentStore records the tenant-facing session status.
type AgentStore interface {
	ListConnected(ctx context.Context) ([]uuid.UUID, error)
	SetWhatsAppStatus(ctx context.Context, agentID uuid.UUID, status string) error
	SaveQR(ctx context.Context, agentID uuid.UUID, qrDataURL string) error
	MarkConnected(ctx context.Context, agentID uuid.UUID, phone string) error
	MarkDisconnected(ctx context.Context, agentID uuid.UUID) error
}

// Snapshot is a read-only view of one agent's session.
type Snapshot struct {
	State   State  `json:"state"`
	Phone   string `json:"phone,omitempty"`
	QR      string `json:"qr,omitempty"`
	Attempt int    `json:"attempt"`
}

type entry struct {
	gen     uint64
	state   State
	conn    whatsapp.Conn
	attempt int
	phone   string
	qr      string
}

// Manager is the only owner of the agent → connection registry.
type Manager struct {
	connector Connector
	creds     CredentialStore
	agents    AgentStore
	bus       events.Bus
	log       *logger.Logger
	base      time.Duration
	max       time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	group  singleflight.Group
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[uuid.UUID]*entry
	nextGen  uint64
	closing  bool
}

// NewManager creates a manager. Background work stops on Shutdown.
func NewManager(connector Connector, creds CredentialStore, agents AgentStore, bus events.Bus, cfg config.SessionConfig, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		connector: connector,
		creds:     creds,
		agents:    agents,
		bus:       bus,
		log:       log.WithComponent("session"),
		base:      cfg.GetReconnectBaseDelay(),
		max:       cfg.GetReconnectMaxDelay(),
		sleep:     sleepCtx,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[uuid.UUID]*entry),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Connect starts a connection for agentID. It is a no-op while a
// connection or attempt already exists.
func (m *Manager) Connect(ctx context.Context, agentID uuid.UUID) error {
	_, err, _ := m.group.Do(agentID.String(), func() (any, error) {
		m.mu.Lock()
		if m.closing {
			m.mu.Unlock()
			return nil, errors.New("session manager is shutting down")
		}
		if e, ok := m.sessions[agentID]; ok && e.state.Active() {
			m.mu.Unlock()
			return nil, nil
		}
		m.nextGen++
		e := &entry{gen: m.nextGen, state: StateConnecting}
		m.sessions[agentID] = e
		m.mu.Unlock()

		m.log.SessionEvent(agentID.String(), string(StateIdle), string(StateConnecting), 0)
		m.setStatus(ctx, agentID, StateConnecting)
		m.dial(agentID, e.gen)
		return nil, nil
	})
	return err
}

// Disconnect logs the device out. It is terminal: credentials are wiped and
// a new QR scan is needed to connect again.
func (m *Manager) Disconnect(ctx context.Context, agentID uuid.UUID) error {
	m.mu.Lock()
	e, ok := m.sessions[agentID]
	delete(m.sessions, agentID)
	m.mu.Unlock()

	if ok && e.conn != nil {
		if err := e.conn.Logout(ctx); err != nil {
			m.log.Warn("bridge logout failed", "agentId", agentID, "error", err)
		}
	}
	return m.wipe(ctx, agentID)
}

// Status returns the current snapshot for agentID.
func (m *Manager) Status(agentID uuid.UUID) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[agentID]
	if !ok {
		return Snapshot{State: StateIdle}
	}
	return Snapshot{State: e.state, Phone: e.phone, QR: e.qr, Attempt: e.attempt}
}

// Sender returns the live connection of agentID for sending.
func (m *Manager) Sender(agentID uuid.UUID) (whatsapp.Sender, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[agentID]
	if !ok || e.state != StateConnected || e.conn == nil {
		return nil, ErrNotConnected
	}
	return e.conn, nil
}

// Restore reconnects every agent that was connected before the restart.
func (m *Manager) Restore(ctx context.Context) error {
	ids, err := m.agents.ListConnected(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := m.Connect(ctx, id); err != nil {
			m.log.Error("session restore failed", "agentId", id, "error", err)
		}
	}
	m.log.Info("sessions restored", "count", len(ids))
	return nil
}

// Shutdown closes every connection without logging out, then waits for the
// background goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closing = true
	conns := make([]whatsapp.Conn, 0, len(m.sessions))
	for id, e := range m.sessions {
		if e.conn != nil {
			conns = append(conns, e.conn)
		}
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	m.cancel()
	for _, c := range conns {
		_ = c.Close()
	}
	m.wg.Wait()
}

// spawn runs fn in the background unless the manager is shutting down.
func (m *Manager) spawn(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closing {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
}

// current reports whether gen still owns agentID's registry slot.
func (m *Manager) current(agentID uuid.UUID, gen uint64) (*entry, bool) {
	e, ok := m.sessions[agentID]
	if !ok || e.gen != gen || m.closing {
		return nil, false
	}
	return e, true
}

func (m *Manager) dial(agentID uuid.UUID, gen uint64) {
	creds, err := m.creds.Load(m.ctx, agentID)
	if err != nil {
		m.log.DatabaseError("load_session_credentials", err)
		creds = nil
	}

	conn, err := m.connector.Open(m.ctx, agentID, creds)
	if err != nil {
		m.log.Warn("session open failed", "agentId", agentID, "error", err)
		m.scheduleReconnect(agentID, gen)
		return
	}

	m.mu.Lock()
	e, ok := m.current(agentID, gen)
	if ok {
		e.conn = conn
	}
	m.mu.Unlock()
	if !ok {
		_ = conn.Close()
		return
	}

	m.spawn(func() { m.supervise(agentID, gen, conn) })
}

func (m *Manager) supervise(agentID uuid.UUID, gen uint64, conn whatsapp.Conn) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case whatsapp.EventQR:
			m.onQR(agentID, gen, ev.QR)
		case whatsapp.EventOpen:
			m.onOpen(agentID, gen, ev)
		case whatsapp.EventClosed:
			_ = conn.Close()
			if ev.LoggedOut {
				m.onLoggedOut(agentID, gen)
				return
			}
			m.log.Warn("session dropped", "agentId", agentID, "error", errors.Join(ErrTransientDisconnect, ev.Err))
			m.scheduleReconnect(agentID, gen)
			return
		}
	}
}

func (m *Manager) onQR(agentID uuid.UUID, gen uint64, code string) {
	dataURL, err := RenderQR(code)
	if err != nil {
		m.log.Error("qr render failed", "agentId", agentID, "error", err)
		return
	}

	m.mu.Lock()
	e, ok := m.current(agentID, gen)
	var from State
	if ok {
		from = e.state
		e.state = StateQRWaiting
		e.qr = dataURL
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.log.SessionEvent(agentID.String(), string(from), string(StateQRWaiting), 0)
	if err := m.agents.SaveQR(m.ctx, agentID, dataURL); err != nil {
		m.log.DatabaseError("save_qr", err)
	}
}

func (m *Manager) onOpen(agentID uuid.UUID, gen uint64, ev whatsapp.Event) {
	m.mu.Lock()
	e, ok := m.current(agentID, gen)
	var from State
	if ok {
		from = e.state
		e.state = StateConnected
		e.attempt = 0
		e.phone = ev.Phone
		e.qr = ""
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	m.log.SessionEvent(agentID.String(), string(from), string(StateConnected), 0)
	if err := m.creds.Save(m.ctx, agentID, ev.Credentials); err != nil {
		m.log.DatabaseError("save_session_credentials", err)
	}
	if err := m.agents.MarkConnected(m.ctx, agentID, ev.Phone); err != nil {
		m.log.DatabaseError("mark_connected", err)
	}
	m.bus.Publish(m.ctx, events.SessionConnected{
		BaseEvent: events.NewBaseEvent(),
		AgentID:   agentID,
		Phone:     ev.Phone,
	})
}

func (m *Manager) onLoggedOut(agentID uuid.UUID, gen uint64) {
	m.mu.Lock()
	_, ok := m.current(agentID, gen)
	if ok {
		delete(m.sessions, agentID)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	_ = m.wipe(m.ctx, agentID)
}

func (m *Manager) scheduleReconnect(agentID uuid.UUID, gen uint64) {
	m.mu.Lock()
	e, ok := m.current(agentID, gen)
	var from State
	var attempt int
	if ok {
		from = e.state
		e.state = StateReconnecting
		e.conn = nil
		e.attempt++
		attempt = e.attempt
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	delay := Backoff(attempt, m.base, m.max)
	m.log.SessionEvent(agentID.String(), string(from), string(StateReconnecting), attempt)
	m.setStatus(m.ctx, agentID, StateReconnecting)

	m.spawn(func() {
		if err := m.sleep(m.ctx, delay); err != nil {
			return
		}
		m.mu.Lock()
		_, still := m.current(agentID, gen)
		m.mu.Unlock()
		if still {
			m.dial(agentID, gen)
		}
	})
}

func (m *Manager) wipe(ctx context.Context, agentID uuid.UUID) error {
	m.log.SessionEvent(agentID.String(), "", string(StateLoggedOut), 0)
	var errs []error
	if err := m.creds.Delete(ctx, agentID); err != nil {
		m.log.DatabaseError("delete_session_credentials", err)
		errs = append(errs, err)
	}
	if err := m.agents.MarkDisconnected(ctx, agentID); err != nil {
		m.log.DatabaseError("mark_disconnected", err)
		errs = append(errs, err)
	}
	m.bus.Publish(ctx, events.SessionLoggedOut{BaseEvent: events.NewBaseEvent(), AgentID: agentID})
	return errors.Join(errs...)
}

func (m *Manager) setStatus(ctx context.Context, agentID uuid.UUID, state State) {
	if err := m.agents.SetWhatsAppStatus(ctx, agentID, string(state)); err != nil {
		m.log.DatabaseError("set_whatsapp_status", err)
	}
}
