package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

const defaultConcurrency = 10

// Sweeps are the order follow-ups run on the cron schedule.
type Sweeps interface {
	RemindPayments(ctx context.Context) error
	CancelExpired(ctx context.Context) error
	RequestFeedback(ctx context.Context) error
}

// OutboxDispatcher delivers one notification outbox row.
type OutboxDispatcher interface {
	DispatchOutbox(ctx context.Context, outboxID uuid.UUID) error
}

type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	sweeps Sweeps
	outbox OutboxDispatcher
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, sweeps Sweeps, outbox OutboxDispatcher, log *logger.Logger) (*Worker, error) {
	opt, err := redisClientOptFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: defaultConcurrency,
		Queues: map[string]int{
			defaultQueue: 1,
		},
	})

	w := newWorker(sweeps, outbox, log)
	w.server = server
	return w, nil
}

func newWorker(sweeps Sweeps, outbox OutboxDispatcher, log *logger.Logger) *Worker {
	mux := asynq.NewServeMux()
	w := &Worker{
		mux:    mux,
		sweeps: sweeps,
		outbox: outbox,
		log:    log,
	}

	mux.HandleFunc(TaskPaymentReminder, w.sweep(sweeps.RemindPayments))
	mux.HandleFunc(TaskAutoCancel, w.sweep(sweeps.CancelExpired))
	mux.HandleFunc(TaskFeedbackRequest, w.sweep(sweeps.RequestFeedback))
	mux.HandleFunc(TaskOutboxDispatch, w.handleOutboxDispatch)
	return w
}

func (w *Worker) sweep(run func(context.Context) error) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		if err := run(ctx); err != nil {
			w.log.Error("sweep failed", "task", task.Type(), "error", err)
			return err
		}
		return nil
	}
}

func (w *Worker) handleOutboxDispatch(ctx context.Context, task *asynq.Task) error {
	if w.outbox == nil {
		return nil
	}

	payload, err := ParseOutboxDispatchPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	outboxID, err := uuid.Parse(payload.OutboxID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	return w.outbox.DispatchOutbox(ctx, outboxID)
}

// ProcessTask lets the worker be driven directly, without a Redis server.
func (w *Worker) ProcessTask(ctx context.Context, task *asynq.Task) error {
	return w.mux.ProcessTask(ctx, task)
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
