// Package notification turns domain events into tenant e-mails.
// Handlers only write outbox rows. The scheduler claims due rows and calls
// DispatchOutbox, so a slow SMTP relay never blocks a conversation turn.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/email"
	"storefront_backend/internal/events"
	"storefront_backend/internal/fulfillment"
	"storefront_backend/internal/notification/outbox"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/logger"
)

const (
	outboxKindEmail        = "email"
	outboxTemplateSend     = "email_send"
	maxOutboxRetryAttempts = 5
	outboxRetryBaseDelay   = time.Minute
	outboxRetryMaxDelay    = 30 * time.Minute

	invalidOutboxPayloadPrefix = "invalid payload: "
)

// Outbox is the persistence the module needs.
type Outbox interface {
	Insert(ctx context.Context, p outbox.InsertParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (outbox.Record, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
}

// AgentReader resolves the tenant a notification is addressed to.
type AgentReader interface {
	Get(ctx context.Context, agentID uuid.UUID) (agents.Agent, error)
}

// Module handles all notification-related event subscriptions.
type Module struct {
	outbox Outbox
	agents AgentReader
	sender email.Sender
	log    *logger.Logger
}

// New creates a new notification module.
func New(box Outbox, agentReader AgentReader, sender email.Sender, log *logger.Logger) *Module {
	if sender == nil {
		sender = email.NoopSender{}
	}
	return &Module{
		outbox: box,
		agents: agentReader,
		sender: sender,
		log:    log.WithComponent("notification"),
	}
}

func (m *Module) Name() string { return "notification" }

// RegisterHandlers subscribes to all relevant domain events on the event bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.OrderCreated{}.EventName(), m)
	bus.Subscribe(events.OrderPaid{}.EventName(), m)
	bus.Subscribe(events.BookingCreated{}.EventName(), m)
	bus.Subscribe(events.StockDepleted{}.EventName(), m)
	bus.Subscribe(events.ConversationEscalated{}.EventName(), m)

	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.OrderCreated:
		return m.handleOrderCreated(ctx, e)
	case events.OrderPaid:
		return m.handleOrderPaid(ctx, e)
	case events.BookingCreated:
		return m.handleBookingCreated(ctx, e)
	case events.StockDepleted:
		return m.handleStockDepleted(ctx, e)
	case events.ConversationEscalated:
		return m.handleConversationEscalated(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

type emailSendOutboxPayload struct {
	AgentID  string `json:"agentId"`
	ToEmail  string `json:"toEmail"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"bodyHtml"`
}

func (m *Module) handleOrderCreated(ctx context.Context, e events.OrderCreated) error {
	agent, ok, err := m.recipient(ctx, e.AgentID)
	if err != nil || !ok {
		return err
	}
	msg, err := email.RenderNewOrder(email.NewOrderData{
		StoreName:     agent.Name,
		OrderRef:      shortRef(e.OrderID),
		CustomerName:  e.CustomerName,
		CustomerPhone: e.CustomerPhone,
		ItemsSummary:  e.ItemsSummary,
		Total:         fulfillment.FormatAmount(e.Total),
		PaymentMethod: paymentLabel(e.PaymentMethod),
	})
	if err != nil {
		return err
	}
	return m.enqueueEmail(ctx, agent, msg)
}

func (m *Module) handleOrderPaid(ctx context.Context, e events.OrderPaid) error {
	agent, ok, err := m.recipient(ctx, e.AgentID)
	if err != nil || !ok {
		return err
	}
	msg, err := email.RenderOrderPaid(email.OrderPaidData{
		OrderRef: shortRef(e.OrderID),
		Total:    fulfillment.FormatAmount(e.Total),
	})
	if err != nil {
		return err
	}
	return m.enqueueEmail(ctx, agent, msg)
}

func (m *Module) handleBookingCreated(ctx context.Context, e events.BookingCreated) error {
	agent, ok, err := m.recipient(ctx, e.AgentID)
	if err != nil || !ok {
		return err
	}
	msg, err := email.RenderNewBooking(email.NewBookingData{
		StoreName:     agent.Name,
		ServiceName:   e.ServiceName,
		CustomerPhone: e.CustomerPhone,
		StartTime:     e.StartTime,
	})
	if err != nil {
		return err
	}
	return m.enqueueEmail(ctx, agent, msg)
}

func (m *Module) handleStockDepleted(ctx context.Context, e events.StockDepleted) error {
	agent, ok, err := m.recipient(ctx, e.AgentID)
	if err != nil || !ok {
		return err
	}
	msg, err := email.RenderStockOut(email.StockOutData{ProductName: e.ProductName})
	if err != nil {
		return err
	}
	return m.enqueueEmail(ctx, agent, msg)
}

func (m *Module) handleConversationEscalated(ctx context.Context, e events.ConversationEscalated) error {
	agent, ok, err := m.recipient(ctx, e.AgentID)
	if err != nil || !ok {
		return err
	}
	msg, err := email.RenderEscalation(email.EscalationData{
		ContactPhone: e.ContactPhone,
		Sentiment:    e.Sentiment,
		LastMessage:  e.LastMessage,
	})
	if err != nil {
		return err
	}
	return m.enqueueEmail(ctx, agent, msg)
}

// recipient loads the agent and reports whether it has a notification address.
func (m *Module) recipient(ctx context.Context, agentID uuid.UUID) (agents.Agent, bool, error) {
	agent, err := m.agents.Get(ctx, agentID)
	if apperr.Is(err, apperr.KindNotFound) {
		return agents.Agent{}, false, nil
	}
	if err != nil {
		return agents.Agent{}, false, err
	}
	if strings.TrimSpace(agent.NotificationEmail) == "" {
		m.log.Debug("agent has no notification email; skipping", "agentId", agentID)
		return agent, false, nil
	}
	return agent, true, nil
}

func (m *Module) enqueueEmail(ctx context.Context, agent agents.Agent, msg email.Message) error {
	id, err := m.outbox.Insert(ctx, outbox.InsertParams{
		AgentID:  agent.ID,
		Kind:     outboxKindEmail,
		Template: outboxTemplateSend,
		Payload: emailSendOutboxPayload{
			AgentID:  agent.ID.String(),
			ToEmail:  agent.NotificationEmail,
			Subject:  msg.Subject,
			BodyHTML: msg.HTML,
		},
	})
	if err != nil {
		return err
	}
	m.log.Debug("email notification queued", "outboxId", id, "agentId", agent.ID, "subject", msg.Subject)
	return nil
}

// DispatchOutbox delivers one outbox record. Send failures are rescheduled on
// the row itself with backoff until maxOutboxRetryAttempts, so only storage
// errors are returned.
func (m *Module) DispatchOutbox(ctx context.Context, outboxID uuid.UUID) error {
	rec, err := m.outbox.GetByID(ctx, outboxID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		m.log.Debug("outbox record already settled; skipping", "outboxId", rec.ID.String(), "status", rec.Status)
		return nil
	}
	if err := m.outbox.MarkProcessing(ctx, rec.ID); err != nil {
		return err
	}

	if rec.Kind != outboxKindEmail || rec.Template != outboxTemplateSend {
		m.markOutboxUnsupported(ctx, rec)
		return nil
	}

	if err := m.processEmailOutbox(ctx, rec); err != nil {
		m.handleOutboxDeliveryError(ctx, rec, err)
		return nil
	}
	m.log.Info("outbox record processed successfully", "outboxId", rec.ID.String(), "agentId", rec.AgentID)
	return nil
}

func (m *Module) processEmailOutbox(ctx context.Context, rec outbox.Record) error {
	var payload emailSendOutboxPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, invalidOutboxPayloadPrefix+err.Error())
		return nil
	}
	if strings.TrimSpace(payload.ToEmail) == "" {
		_ = m.outbox.MarkSucceeded(ctx, rec.ID)
		return nil
	}
	if strings.TrimSpace(payload.Subject) == "" || strings.TrimSpace(payload.BodyHTML) == "" {
		_ = m.outbox.MarkFailed(ctx, rec.ID, invalidOutboxPayloadPrefix+"subject and bodyHtml are required")
		return nil
	}

	if err := m.sender.SendCustomEmail(ctx, payload.ToEmail, payload.Subject, payload.BodyHTML); err != nil {
		return err
	}
	return m.outbox.MarkSucceeded(ctx, rec.ID)
}

func (m *Module) handleOutboxDeliveryError(ctx context.Context, rec outbox.Record, deliveryErr error) {
	attempt := rec.Attempts + 1
	if attempt >= maxOutboxRetryAttempts {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Warn("notification outbox exhausted retries",
			"outboxId", rec.ID.String(),
			"attempt", attempt,
			"error", deliveryErr,
		)
		return
	}

	retryAt := time.Now().UTC().Add(computeOutboxRetryDelay(attempt))
	if err := m.outbox.ScheduleRetry(ctx, rec.ID, retryAt, deliveryErr.Error()); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Error("notification outbox retry scheduling failed; marked failed", "outboxId", rec.ID.String(), "error", err)
		return
	}
	m.log.Warn("notification outbox scheduled retry",
		"outboxId", rec.ID.String(),
		"attempt", attempt,
		"retryAt", retryAt,
		"error", deliveryErr,
	)
}

func computeOutboxRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := outboxRetryBaseDelay << (attempt - 1)
	if delay > outboxRetryMaxDelay {
		return outboxRetryMaxDelay
	}
	return delay
}

func (m *Module) markOutboxUnsupported(ctx context.Context, rec outbox.Record) {
	msg := fmt.Sprintf("unsupported outbox kind/template: %s/%s", rec.Kind, rec.Template)
	_ = m.outbox.MarkFailed(ctx, rec.ID, msg)
	m.log.Warn("unsupported outbox record", "outboxId", rec.ID.String(), "kind", rec.Kind, "template", rec.Template)
}

func shortRef(id uuid.UUID) string {
	return id.String()[:8]
}

func paymentLabel(method string) string {
	switch method {
	case string(orders.PaymentOnline):
		return "Paiement en ligne"
	case string(orders.PaymentCOD):
		return "Paiement à la livraison"
	default:
		return method
	}
}
