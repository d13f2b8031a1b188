package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storefront_backend/internal/notification/outbox"
	"storefront_backend/platform/logger"
)

const (
	outboxPollInterval = 2 * time.Second
	outboxClaimBatch   = 50
)

// OutboxClaimer hands out due notification rows.
type OutboxClaimer interface {
	ClaimPending(ctx context.Context, limit int) ([]outbox.Record, error)
	MarkPending(ctx context.Context, id uuid.UUID, lastError string) error
}

// OutboxEnqueuer turns a claimed row into a worker task.
type OutboxEnqueuer interface {
	EnqueueOutboxDispatch(ctx context.Context, outboxID, agentID uuid.UUID) error
}

// NotificationOutboxDispatcher moves due outbox rows onto the task queue.
type NotificationOutboxDispatcher struct {
	repo   OutboxClaimer
	client OutboxEnqueuer
	log    *logger.Logger
}

func NewNotificationOutboxDispatcher(repo OutboxClaimer, client OutboxEnqueuer, log *logger.Logger) *NotificationOutboxDispatcher {
	return &NotificationOutboxDispatcher{repo: repo, client: client, log: log}
}

func (d *NotificationOutboxDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil || d.repo == nil {
		return
	}

	ticker := time.NewTicker(outboxPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.DispatchDue(ctx)
	}
}

// DispatchDue claims one batch and enqueues it. Rows that cannot be enqueued
// go back to pending.
func (d *NotificationOutboxDispatcher) DispatchDue(ctx context.Context) int {
	records, err := d.repo.ClaimPending(ctx, outboxClaimBatch)
	if err != nil {
		d.log.Warn("outbox claim failed", "error", err)
		return 0
	}

	enqueued := 0
	for _, rec := range records {
		if err := d.client.EnqueueOutboxDispatch(ctx, rec.ID, rec.AgentID); err != nil {
			_ = d.repo.MarkPending(ctx, rec.ID, err.Error())
			continue
		}
		enqueued++
	}
	return enqueued
}
