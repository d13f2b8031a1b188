package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"
)

const defaultSweepCron = "*/5 * * * *"

// Periodic registers the order sweeps on a cron schedule.
type Periodic struct {
	scheduler *asynq.Scheduler
	log       *logger.Logger
}

func NewPeriodic(cfg config.SchedulerConfig, log *logger.Logger) (*Periodic, error) {
	opt, err := redisClientOptFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	spec := cfg.GetSweepCron()
	if spec == "" {
		spec = defaultSweepCron
	}

	s := asynq.NewScheduler(opt, &asynq.SchedulerOpts{Location: time.UTC})
	for _, name := range SweepTasks {
		id, err := s.Register(spec, asynq.NewTask(name, nil), asynq.Queue(defaultQueue), asynq.MaxRetry(1))
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", name, err)
		}
		log.Info("sweep registered", "task", name, "cron", spec, "entryId", id)
	}
	return &Periodic{scheduler: s, log: log}, nil
}

func (p *Periodic) Run(ctx context.Context) {
	if p == nil || p.scheduler == nil {
		return
	}

	go func() {
		<-ctx.Done()
		p.scheduler.Shutdown()
	}()

	if err := p.scheduler.Run(); err != nil {
		p.log.Error("sweep scheduler stopped", "error", err)
	}
}
