package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Task func(ctx context.Context) error

// Every runs task once right away and then on each tick until ctx is done.
func Every(ctx context.Context, log *zap.Logger, interval time.Duration, name string, task Task) {
	if log == nil {
		log = zap.NewNop()
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	run(ctx, log, name, task)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			run(ctx, log, name, task)
		}
	}
}

// Cron runs task on a standard five-field cron schedule (or a descriptor
// such as "@hourly") until ctx is done. It waits for a running task to finish.
func Cron(ctx context.Context, log *zap.Logger, spec, name string, task Task) error {
	if log == nil {
		log = zap.NewNop()
	}
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { run(ctx, log, name, task) }); err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	log.Info("scheduled", zap.String("task", name), zap.String("cron", spec))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func run(ctx context.Context, log *zap.Logger, name string, task Task) {
	if ctx.Err() != nil {
		return
	}
	if err := task(ctx); err != nil {
		log.Error("scheduled task failed", zap.String("task", name), zap.Error(err))
	}
}
