package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is used when neither flags nor config name one.
const DefaultSchedule = "@every 1m"

// Watch runs a pass immediately and then on every tick of schedule until ctx
// is done. A tick that fires while a pass is still running is skipped.
func (r *Runner) Watch(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("parse schedule %q: %w", schedule, err)
	}

	log := cronLogger{r.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	if _, err := c.AddFunc(schedule, func() { r.pass(ctx) }); err != nil {
		return fmt.Errorf("schedule runs: %w", err)
	}

	r.logger.Info("watching", "schedule", schedule)
	r.pass(ctx)
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("watch stopped")
	return ctx.Err()
}

func (r *Runner) pass(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := r.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("run failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
