package notification

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"storefront_backend/internal/agents"
	"storefront_backend/internal/events"
	"storefront_backend/internal/notification/outbox"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/logger"
)

type memOutbox struct {
	records map[uuid.UUID]*outbox.Record
	errors  map[uuid.UUID]string
	retries map[uuid.UUID]time.Time
}

func newMemOutbox() *memOutbox {
	return &memOutbox{
		records: map[uuid.UUID]*outbox.Record{},
		errors:  map[uuid.UUID]string{},
		retries: map[uuid.UUID]time.Time{},
	}
}

func (o *memOutbox) Insert(_ context.Context, p outbox.InsertParams) (uuid.UUID, error) {
	payload, err := json.Marshal(p.Payload)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	o.records[id] = &outbox.Record{ID: id, AgentID: p.AgentID, Kind: p.Kind, Template: p.Template, Payload: payload, Status: outbox.StatusPending}
	return id, nil
}

func (o *memOutbox) GetByID(_ context.Context, id uuid.UUID) (outbox.Record, error) {
	rec, ok := o.records[id]
	if !ok {
		return outbox.Record{}, apperr.NotFound("outbox record not found")
	}
	return *rec, nil
}

func (o *memOutbox) MarkProcessing(_ context.Context, id uuid.UUID) error {
	o.records[id].Status = outbox.StatusProcessing
	o.records[id].Attempts++
	return nil
}

func (o *memOutbox) MarkSucceeded(_ context.Context, id uuid.UUID) error {
	o.records[id].Status = outbox.StatusSucceeded
	return nil
}

func (o *memOutbox) MarkFailed(_ context.Context, id uuid.UUID, lastError string) error {
	o.records[id].Status = outbox.StatusFailed
	o.errors[id] = lastError
	return nil
}

func (o *memOutbox) ScheduleRetry(_ context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	o.records[id].Status = outbox.StatusPending
	o.retries[id] = runAt
	o.errors[id] = lastError
	return nil
}

func (o *memOutbox) only(t *testing.T) *outbox.Record {
	t.Helper()
	if len(o.records) != 1 {
		t.Fatalf("expected one outbox record, got %d", len(o.records))
	}
	for _, rec := range o.records {
		return rec
	}
	return nil
}

type staticAgents map[uuid.UUID]agents.Agent

func (s staticAgents) Get(_ context.Context, id uuid.UUID) (agents.Agent, error) {
	a, ok := s[id]
	if !ok {
		return agents.Agent{}, apperr.NotFound("agent not found")
	}
	return a, nil
}

type testSender struct {
	sent []string
	err  error
}

func (s *testSender) SendCustomEmail(_ context.Context, toEmail, subject, _ string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, toEmail+"|"+subject)
	return nil
}

func newTestModule(agent agents.Agent, sender *testSender) (*Module, *memOutbox) {
	box := newMemOutbox()
	return New(box, staticAgents{agent.ID: agent}, sender, logger.New("development")), box
}

func testAgent() agents.Agent {
	return agents.Agent{ID: uuid.New(), Name: "Chez Awa", NotificationEmail: "awa@example.com"}
}

func TestOrderCreatedQueuesTenantEmail(t *testing.T) {
	agent := testAgent()
	m, box := newTestModule(agent, &testSender{})
	orderID := uuid.MustParse("a1b2c3d4-0000-0000-0000-000000000000")

	err := m.Handle(context.Background(), events.OrderCreated{
		BaseEvent:     events.NewBaseEvent(),
		AgentID:       agent.ID,
		OrderID:       orderID,
		CustomerName:  "Koffi",
		CustomerPhone: "+2250707070707",
		Total:         12500,
		PaymentMethod: "cod",
		ItemsSummary:  "2x Pizza",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := box.only(t)
	if rec.Kind != outboxKindEmail || rec.Template != outboxTemplateSend || rec.AgentID != agent.ID {
		t.Fatalf("unexpected record %+v", rec)
	}
	var payload emailSendOutboxPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.ToEmail != "awa@example.com" || payload.Subject != "Nouvelle commande #a1b2c3d4 (Koffi)" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if !strings.Contains(payload.BodyHTML, "12 500 FCFA") || !strings.Contains(payload.BodyHTML, "Paiement à la livraison") {
		t.Fatalf("body is missing order details:\n%s", payload.BodyHTML)
	}
}

func TestAgentWithoutEmailIsSkipped(t *testing.T) {
	agent := testAgent()
	agent.NotificationEmail = ""
	m, box := newTestModule(agent, &testSender{})

	err := m.Handle(context.Background(), events.StockDepleted{BaseEvent: events.NewBaseEvent(), AgentID: agent.ID, ProductName: "Pizza"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(box.records) != 0 {
		t.Fatalf("nothing should be queued")
	}
}

func TestUnknownAgentIsIgnored(t *testing.T) {
	m, box := newTestModule(testAgent(), &testSender{})
	err := m.Handle(context.Background(), events.ConversationEscalated{BaseEvent: events.NewBaseEvent(), AgentID: uuid.New()})
	if err != nil || len(box.records) != 0 {
		t.Fatalf("expected silent skip, got %v and %d records", err, len(box.records))
	}
}

func TestDispatchOutboxSendsOnce(t *testing.T) {
	agent := testAgent()
	sender := &testSender{}
	m, box := newTestModule(agent, sender)
	if err := m.Handle(context.Background(), events.BookingCreated{BaseEvent: events.NewBaseEvent(), AgentID: agent.ID, ServiceName: "Coupe"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := box.only(t)

	if err := m.DispatchOutbox(context.Background(), rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.DispatchOutbox(context.Background(), rec.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0] != "awa@example.com|Nouvelle réservation : Coupe" {
		t.Fatalf("expected exactly one send, got %v", sender.sent)
	}
	if rec.Status != outbox.StatusSucceeded {
		t.Fatalf("expected succeeded, got %s", rec.Status)
	}
}

func TestDispatchFailureSchedulesRetryThenGivesUp(t *testing.T) {
	agent := testAgent()
	sender := &testSender{err: errors.New("relay down")}
	m, box := newTestModule(agent, sender)
	if err := m.Handle(context.Background(), events.OrderPaid{BaseEvent: events.NewBaseEvent(), AgentID: agent.ID, OrderID: uuid.New(), Total: 5000}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rec := box.only(t)

	if err := m.DispatchOutbox(context.Background(), rec.ID); err != nil {
		t.Fatalf("send failures are recorded on the row, got %v", err)
	}
	if rec.Status != outbox.StatusPending || box.retries[rec.ID].IsZero() {
		t.Fatalf("expected a scheduled retry, got %s", rec.Status)
	}

	rec.Attempts = maxOutboxRetryAttempts - 1
	_ = m.DispatchOutbox(context.Background(), rec.ID)
	if rec.Status != outbox.StatusFailed || box.errors[rec.ID] != "relay down" {
		t.Fatalf("expected terminal failure, got %s %q", rec.Status, box.errors[rec.ID])
	}
}

func TestUnsupportedTemplateIsFailed(t *testing.T) {
	m, box := newTestModule(testAgent(), &testSender{})
	id, _ := box.Insert(context.Background(), outbox.InsertParams{AgentID: uuid.New(), Kind: "sms", Template: "sms_send", Payload: map[string]string{}})

	if err := m.DispatchOutbox(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if box.records[id].Status != outbox.StatusFailed {
		t.Fatalf("expected failed, got %s", box.records[id].Status)
	}
}

func TestRetryDelayIsCapped(t *testing.T) {
	if d := computeOutboxRetryDelay(1); d != time.Minute {
		t.Fatalf("first retry after a minute, got %s", d)
	}
	if d := computeOutboxRetryDelay(10); d != outboxRetryMaxDelay {
		t.Fatalf("expected cap, got %s", d)
	}
}
