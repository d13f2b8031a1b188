package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"storefront_backend/internal/conversation"
	"storefront_backend/internal/whatsapp"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
	"storefront_backend/platform/ratelimit"
)

// Notification channels raised by the database triggers.
const (
	ChannelAssistantMessages = "storefront_assistant_messages"
	ChannelOutboundMessages  = "storefront_outbound_messages"
	ChannelAgentConnect      = "storefront_agent_connect"
)

const (
	sweepBatch        = 100
	maxListenBackoff  = 30 * time.Second
	listenBackoffStep = 2 * time.Second
)

// MessageStore reads and settles pending assistant messages.
type MessageStore interface {
	GetPending(ctx context.Context, id uuid.UUID) (conversation.PendingMessage, error)
	ListPending(ctx context.Context, minAge time.Duration, limit int) ([]conversation.PendingMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// OutboundStore reads and settles queued standalone messages.
type OutboundStore interface {
	GetPending(ctx context.Context, id uuid.UUID) (OutboundMessage, error)
	ListPending(ctx context.Context, minAge time.Duration, limit int) ([]OutboundMessage, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Senders locates the live connection of an agent.
type Senders interface {
	Sender(agentID uuid.UUID) (whatsapp.Sender, error)
}

// Connector starts agent sessions on dashboard request.
type Connector interface {
	Connect(ctx context.Context, agentID uuid.UUID) error
}

// Listener delivers pending messages. Delivery is at least once: the
// in-flight set only guards against concurrent duplicates in this process.
type Listener struct {
	pool     *pgxpool.Pool
	messages MessageStore
	outbound OutboundStore
	senders  Senders
	sessions Connector
	limiter  *ratelimit.Keyed
	inflight inflightSet
	every    time.Duration
	minAge   time.Duration
	log      *logger.Logger
	wg       sync.WaitGroup
}

// NewListener creates a listener. With a nil pool, Run only sweeps.
func NewListener(pool *pgxpool.Pool, messages MessageStore, outbound OutboundStore, senders Senders, sessions Connector, cfg config.DeliveryConfig, log *logger.Logger) *Listener {
	every := cfg.GetDeliverySweepInterval()
	if every <= 0 {
		every = 2 * time.Minute
	}
	minAge := cfg.GetDeliverySweepMinAge()
	if minAge <= 0 {
		minAge = 30 * time.Second
	}
	return &Listener{
		pool:     pool,
		messages: messages,
		outbound: outbound,
		senders:  senders,
		sessions: sessions,
		limiter:  ratelimit.PerMinute(cfg.GetDeliveryRatePerMinute()),
		inflight: inflightSet{ids: make(map[string]struct{})},
		every:    every,
		minAge:   minAge,
		log:      log.WithComponent("delivery"),
	}
}

// Run listens and sweeps until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	if l.pool != nil {
		g.Go(func() error { return l.listenLoop(ctx) })
	}
	g.Go(func() error { return l.sweepLoop(ctx) })
	err := g.Wait()
	l.wg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (l *Listener) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(l.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := l.Sweep(ctx); err != nil {
				l.log.Error("delivery sweep failed", "error", err)
			}
		}
	}
}

func (l *Listener) listenLoop(ctx context.Context) error {
	failures := 0
	for {
		err := l.listen(ctx, func() { failures = 0 })
		if ctx.Err() != nil {
			return nil
		}
		failures++
		delay := time.Duration(failures) * listenBackoffStep
		if delay > maxListenBackoff {
			delay = maxListenBackoff
		}
		l.log.Warn("notification listener dropped", "error", err, "retryIn", delay.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// listen holds one connection in LISTEN mode. Anything notified while it
// was down is recovered by a sweep right after subscribing.
func (l *Listener) listen(ctx context.Context, onReady func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen connection: %w", err)
	}
	defer conn.Release()

	for _, ch := range []string{ChannelAssistantMessages, ChannelOutboundMessages, ChannelAgentConnect} {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			return fmt.Errorf("listen %s: %w", ch, err)
		}
	}
	onReady()
	l.log.Info("notification listener subscribed")
	if err := l.Sweep(ctx); err != nil {
		l.log.Error("catch-up sweep failed", "error", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.spawn(ctx, n.Channel, n.Payload)
	}
}

func (l *Listener) spawn(ctx context.Context, channel, payload string) {
	id, err := uuid.Parse(payload)
	if err != nil {
		l.log.Warn("bad notification payload", "channel", channel, "payload", payload)
		return
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		var err error
		switch channel {
		case ChannelAssistantMessages:
			err = l.HandleAssistantMessage(ctx, id)
		case ChannelOutboundMessages:
			err = l.HandleOutbound(ctx, id)
		case ChannelAgentConnect:
			err = l.HandleConnectRequest(ctx, id)
		}
		if err != nil {
			l.log.Error("notification handling failed", "channel", channel, "id", id, "error", err)
		}
	}()
}

// Sweep delivers whatever is still pending after the minimum age.
func (l *Listener) Sweep(ctx context.Context) error {
	pending, err := l.messages.ListPending(ctx, l.minAge, sweepBatch)
	if err != nil {
		return err
	}
	for _, p := range pending {
		if err := l.deliverMessage(ctx, p); err != nil {
			l.log.Error("sweep delivery failed", "messageId", p.ID, "error", err)
		}
	}

	queued, err := l.outbound.ListPending(ctx, l.minAge, sweepBatch)
	if err != nil {
		return err
	}
	for _, m := range queued {
		if err := l.deliverOutbound(ctx, m); err != nil {
			l.log.Error("sweep outbound failed", "outboundId", m.ID, "error", err)
		}
	}
	if n := len(pending) + len(queued); n > 0 {
		l.log.Info("delivery sweep", "messages", len(pending), "outbound", len(queued))
	}
	return nil
}

// HandleAssistantMessage sends one pending assistant message.
func (l *Listener) HandleAssistantMessage(ctx context.Context, id uuid.UUID) error {
	p, err := l.messages.GetPending(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.deliverMessage(ctx, p)
}

func (l *Listener) deliverMessage(ctx context.Context, p conversation.PendingMessage) error {
	key := "message:" + p.ID.String()
	if !l.inflight.add(key) {
		return nil
	}
	defer l.inflight.remove(key)

	sender, ok := l.sender(ctx, p.AgentID)
	if !ok {
		return nil
	}

	var providerID string
	var err error
	switch p.Type {
	case whatsapp.MessageImage:
		providerID, err = sender.SendImage(ctx, p.ContactPhone, p.MediaURL, p.Content)
	case whatsapp.MessageVoice:
		providerID, err = sender.SendAudio(ctx, p.ContactPhone, p.MediaURL)
	default:
		providerID, err = sender.SendText(ctx, p.ContactPhone, p.Content)
	}
	if errors.Is(err, whatsapp.ErrLoggedOut) {
		return nil
	}
	if err != nil {
		l.log.WithAgent(p.AgentID.String()).Warn("message delivery failed", "messageId", p.ID, "error", err)
		return l.messages.MarkFailed(ctx, p.ID, err.Error())
	}
	return l.messages.MarkSent(ctx, p.ID, providerID)
}

// HandleOutbound sends one queued standalone message.
func (l *Listener) HandleOutbound(ctx context.Context, id uuid.UUID) error {
	m, err := l.outbound.GetPending(ctx, id)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return l.deliverOutbound(ctx, m)
}

func (l *Listener) deliverOutbound(ctx context.Context, m OutboundMessage) error {
	key := "outbound:" + m.ID.String()
	if !l.inflight.add(key) {
		return nil
	}
	defer l.inflight.remove(key)

	sender, ok := l.sender(ctx, m.AgentID)
	if !ok {
		return nil
	}

	var err error
	if m.MediaURL != "" {
		_, err = sender.SendImage(ctx, m.RecipientPhone, m.MediaURL, m.Content)
	} else {
		_, err = sender.SendText(ctx, m.RecipientPhone, m.Content)
	}
	if errors.Is(err, whatsapp.ErrLoggedOut) {
		return nil
	}
	if err != nil {
		l.log.WithAgent(m.AgentID.String()).Warn("outbound delivery failed", "outboundId", m.ID, "kind", m.Kind, "error", err)
		return l.outbound.MarkFailed(ctx, m.ID, err.Error())
	}
	return l.outbound.MarkSent(ctx, m.ID)
}

// HandleConnectRequest starts the session a tenant asked for.
func (l *Listener) HandleConnectRequest(ctx context.Context, agentID uuid.UUID) error {
	return l.sessions.Connect(ctx, agentID)
}

// sender returns the agent's live connection after waiting for the agent's
// send budget. Messages of offline agents stay pending.
func (l *Listener) sender(ctx context.Context, agentID uuid.UUID) (whatsapp.Sender, bool) {
	sender, err := l.senders.Sender(agentID)
	if err != nil {
		l.log.Debug("agent offline, message left pending", "agentId", agentID)
		return nil, false
	}
	if err := l.limiter.Wait(ctx, agentID.String()); err != nil {
		return nil, false
	}
	return sender, true
}

type inflightSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func (s *inflightSet) add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.ids[id]; busy {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *inflightSet) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}
