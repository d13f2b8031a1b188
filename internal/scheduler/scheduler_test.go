package scheduler

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"storefront_backend/internal/delivery"
	"storefront_backend/internal/notification/outbox"
	"storefront_backend/internal/orders"
	"storefront_backend/platform/logger"
)

type fakeOrders struct {
	reminderDue []orders.Order
	expired     []orders.Order
	feedbackDue []orders.Order

	reminded  []uuid.UUID
	feedback  []uuid.UUID
	gotAge    time.Duration
	gotCancel time.Duration
}

func (f *fakeOrders) ListReminderDue(_ context.Context, age, cancelAfter time.Duration) ([]orders.Order, error) {
	f.gotAge, f.gotCancel = age, cancelAfter
	return f.reminderDue, nil
}

func (f *fakeOrders) MarkReminderSent(_ context.Context, id uuid.UUID) error {
	f.reminded = append(f.reminded, id)
	return nil
}

func (f *fakeOrders) CancelExpired(context.Context, time.Duration) ([]orders.Order, error) {
	return f.expired, nil
}

func (f *fakeOrders) ListFeedbackDue(context.Context, time.Duration, time.Duration) ([]orders.Order, error) {
	return f.feedbackDue, nil
}

func (f *fakeOrders) MarkFeedbackSent(_ context.Context, id uuid.UUID) error {
	f.feedback = append(f.feedback, id)
	return nil
}

type fakeQueue struct {
	msgs []delivery.OutboundMessage
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, msg delivery.OutboundMessage) (uuid.UUID, error) {
	if q.err != nil {
		return uuid.Nil, q.err
	}
	q.msgs = append(q.msgs, msg)
	return uuid.New(), nil
}

type schedulerConfig struct{}

func (schedulerConfig) GetRedisURL() string                    { return "" }
func (schedulerConfig) GetSweepCron() string                   { return "" }
func (schedulerConfig) GetPaymentReminderAfter() time.Duration { return 15 * time.Minute }
func (schedulerConfig) GetAutoCancelAfter() time.Duration      { return time.Hour }
func (schedulerConfig) GetFeedbackMinAge() time.Duration       { return 72 * time.Hour }
func (schedulerConfig) GetFeedbackMaxAge() time.Duration       { return 96 * time.Hour }

func testOrder() orders.Order {
	return orders.Order{
		ID:            uuid.MustParse("a1b2c3d4-1111-2222-3333-444444444444"),
		AgentID:       uuid.New(),
		CustomerPhone: "+2250707070707",
		PaymentURL:    "https://pay.example.com/abc",
		Total:         15000,
	}
}

func TestRemindPaymentsQueuesOnceAndMarks(t *testing.T) {
	o := testOrder()
	store := &fakeOrders{reminderDue: []orders.Order{o}}
	queue := &fakeQueue{}
	s := NewOrderSweeper(store, queue, schedulerConfig{}, logger.New("development"))

	if err := s.RemindPayments(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.gotAge != 15*time.Minute || store.gotCancel != time.Hour {
		t.Fatalf("unexpected windows %s %s", store.gotAge, store.gotCancel)
	}
	if len(queue.msgs) != 1 {
		t.Fatalf("expected one reminder, got %d", len(queue.msgs))
	}
	msg := queue.msgs[0]
	if msg.Kind != delivery.KindPaymentReminder || msg.RecipientPhone != o.CustomerPhone || msg.AgentID != o.AgentID {
		t.Fatalf("unexpected message %+v", msg)
	}
	for _, want := range []string{"#a1b2c3d4", "15 000 FCFA", "https://pay.example.com/abc"} {
		if !strings.Contains(msg.Content, want) {
			t.Fatalf("reminder is missing %q: %s", want, msg.Content)
		}
	}
	if len(store.reminded) != 1 || store.reminded[0] != o.ID {
		t.Fatalf("order must be marked as reminded")
	}
}

func TestReminderIsNotMarkedWhenQueueFails(t *testing.T) {
	store := &fakeOrders{reminderDue: []orders.Order{testOrder()}}
	s := NewOrderSweeper(store, &fakeQueue{err: errors.New("db down")}, schedulerConfig{}, logger.New("development"))

	if err := s.RemindPayments(context.Background()); err == nil {
		t.Fatalf("expected queue error")
	}
	if len(store.reminded) != 0 {
		t.Fatalf("an unsent reminder must be retried on the next sweep")
	}
}

func TestCancelExpiredTellsCustomer(t *testing.T) {
	store := &fakeOrders{expired: []orders.Order{testOrder()}}
	queue := &fakeQueue{}
	s := NewOrderSweeper(store, queue, schedulerConfig{}, logger.New("development"))

	if err := s.CancelExpired(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.msgs) != 1 || queue.msgs[0].Kind != delivery.KindOrderCancelled || !strings.Contains(queue.msgs[0].Content, "annulée") {
		t.Fatalf("unexpected messages %+v", queue.msgs)
	}
}

func TestRequestFeedbackMarksOrders(t *testing.T) {
	o := testOrder()
	store := &fakeOrders{feedbackDue: []orders.Order{o}}
	queue := &fakeQueue{}
	s := NewOrderSweeper(store, queue, schedulerConfig{}, logger.New("development"))

	if err := s.RequestFeedback(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queue.msgs) != 1 || queue.msgs[0].Kind != delivery.KindFeedbackRequest {
		t.Fatalf("unexpected messages %+v", queue.msgs)
	}
	if len(store.feedback) != 1 || store.feedback[0] != o.ID {
		t.Fatalf("order must be marked as asked for feedback")
	}
}

type countingSweeps struct {
	calls []string
}

func (c *countingSweeps) RemindPayments(context.Context) error {
	c.calls = append(c.calls, "remind")
	return nil
}

func (c *countingSweeps) CancelExpired(context.Context) error {
	c.calls = append(c.calls, "cancel")
	return nil
}

func (c *countingSweeps) RequestFeedback(context.Context) error {
	c.calls = append(c.calls, "feedback")
	return errors.New("db down")
}

type recordingDispatcher struct {
	ids []uuid.UUID
}

func (r *recordingDispatcher) DispatchOutbox(_ context.Context, id uuid.UUID) error {
	r.ids = append(r.ids, id)
	return nil
}

func TestWorkerRoutesTasks(t *testing.T) {
	sweeps := &countingSweeps{}
	dispatcher := &recordingDispatcher{}
	w := newWorker(sweeps, dispatcher, logger.New("development"))
	ctx := context.Background()

	for _, name := range SweepTasks[:2] {
		if err := w.ProcessTask(ctx, asynq.NewTask(name, nil)); err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
	}
	if err := w.ProcessTask(ctx, asynq.NewTask(TaskFeedbackRequest, nil)); err == nil {
		t.Fatalf("sweep errors must reach asynq for retry")
	}
	if strings.Join(sweeps.calls, ",") != "remind,cancel,feedback" {
		t.Fatalf("unexpected sweep calls %v", sweeps.calls)
	}

	outboxID := uuid.New()
	task, err := NewOutboxDispatchTask(OutboxDispatchPayload{OutboxID: outboxID.String(), AgentID: uuid.NewString()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := w.ProcessTask(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dispatcher.ids) != 1 || dispatcher.ids[0] != outboxID {
		t.Fatalf("outbox row was not dispatched: %v", dispatcher.ids)
	}
}

func TestWorkerSkipsRetryOnBadPayload(t *testing.T) {
	w := newWorker(&countingSweeps{}, &recordingDispatcher{}, logger.New("development"))
	err := w.ProcessTask(context.Background(), asynq.NewTask(TaskOutboxDispatch, []byte(`{"outboxId":"nope"}`)))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("expected SkipRetry, got %v", err)
	}
}

type fakeClaimer struct {
	records []outbox.Record
	pending []uuid.UUID
}

func (f *fakeClaimer) ClaimPending(context.Context, int) ([]outbox.Record, error) {
	out := f.records
	f.records = nil
	return out, nil
}

func (f *fakeClaimer) MarkPending(_ context.Context, id uuid.UUID, _ string) error {
	f.pending = append(f.pending, id)
	return nil
}

type flakyEnqueuer struct {
	failFor uuid.UUID
	got     []uuid.UUID
}

func (f *flakyEnqueuer) EnqueueOutboxDispatch(_ context.Context, outboxID, _ uuid.UUID) error {
	if outboxID == f.failFor {
		return errors.New("redis down")
	}
	f.got = append(f.got, outboxID)
	return nil
}

func TestOutboxDispatcherReleasesRowsItCannotEnqueue(t *testing.T) {
	ok, broken := uuid.New(), uuid.New()
	claimer := &fakeClaimer{records: []outbox.Record{{ID: ok}, {ID: broken}}}
	enqueuer := &flakyEnqueuer{failFor: broken}
	d := NewNotificationOutboxDispatcher(claimer, enqueuer, logger.New("development"))

	if n := d.DispatchDue(context.Background()); n != 1 {
		t.Fatalf("expected one enqueued row, got %d", n)
	}
	if len(enqueuer.got) != 1 || enqueuer.got[0] != ok {
		t.Fatalf("unexpected enqueued rows %v", enqueuer.got)
	}
	if len(claimer.pending) != 1 || claimer.pending[0] != broken {
		t.Fatalf("failed row must go back to pending, got %v", claimer.pending)
	}
}

func TestRedisClientOptParsesURL(t *testing.T) {
	opt, err := redisClientOpt("redis://:secret@cache.internal:6380/2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opt.Addr != "cache.internal:6380" || opt.Password != "secret" || opt.DB != 2 {
		t.Fatalf("unexpected options %+v", opt)
	}
	if _, err := redisClientOptFromConfig(schedulerConfig{}); err == nil {
		t.Fatalf("expected error without redis url")
	}
}
