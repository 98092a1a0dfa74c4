package poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Scheduler runs the poller on a cron schedule. Jobs are wrapped in
// DelayIfStillRunning: a sweep that overruns its period delays the next
// tick instead of running concurrently.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewScheduler creates a scheduler with panic recovery and the
// no-overlapping-runs guarantee.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.DelayIfStillRunning(cl))),
		logger: logger,
	}
}

// Add registers a job. The spec is a standard cron expression or a
// predefined schedule like "@every 5m".
func (s *Scheduler) Add(spec string, fn func()) error {
	if _, err := s.cron.AddFunc(spec, fn); err != nil {
		return fmt.Errorf("poller: invalid schedule %q: %w", spec, err)
	}
	s.logger.Info("poll job registered", "schedule", spec)
	return nil
}

// Start begins the scheduler. Blocks until context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	s.logger.Info("poll scheduler started")

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done() // wait for an in-flight sweep to finish
	s.logger.Info("poll scheduler stopped")
	return ctx.Err()
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debug(msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Error(msg, append(kv, "error", err)...)
}
