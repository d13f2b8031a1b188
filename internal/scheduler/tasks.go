package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	TaskPaymentReminder = "orders:payment_reminder"
	TaskAutoCancel      = "orders:auto_cancel"
	TaskFeedbackRequest = "orders:feedback_request"

	TaskOutboxDispatch = "notification:outbox_dispatch"
)

// SweepTasks are registered on the cron schedule. They carry no payload.
var SweepTasks = []string{TaskPaymentReminder, TaskAutoCancel, TaskFeedbackRequest}

type OutboxDispatchPayload struct {
	OutboxID string `json:"outboxId"`
	AgentID  string `json:"agentId"`
}

func NewOutboxDispatchTask(payload OutboxDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOutboxDispatch, data), nil
}

func ParseOutboxDispatchPayload(task *asynq.Task) (OutboxDispatchPayload, error) {
	var payload OutboxDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return OutboxDispatchPayload{}, err
	}
	return payload, nil
}
