// Package janitor runs periodic housekeeping: sweeping idle sessions and
// purging old audio uploads.
package janitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper removes idle sessions. *session.Store satisfies it.
type Sweeper interface {
	Sweep() int
}

// Purger deletes stored files older than a cutoff. *audio.Store satisfies it.
type Purger interface {
	Purge(olderThan time.Duration) (int, error)
}

// Janitor owns a cron scheduler with voxgate's housekeeping jobs.
type Janitor struct {
	cron   *cron.Cron
	logger *slog.Logger
	jobs   int
}

// New creates a Janitor with no jobs.
func New(logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger{logger}),
			cron.SkipIfStillRunning(cronLogger{logger}),
		)),
		logger: logger,
	}
}

// ScheduleSweep sweeps s on schedule. An empty schedule is a no-op.
func (j *Janitor) ScheduleSweep(schedule string, s Sweeper) error {
	if schedule == "" {
		return nil
	}
	return j.add("session-sweep", schedule, func() {
		if n := s.Sweep(); n > 0 {
			j.logger.Info("janitor swept sessions", "removed", n)
		}
	})
}

// SchedulePurge purges files older than retention on schedule. An empty
// schedule or non-positive retention is a no-op.
func (j *Janitor) SchedulePurge(schedule string, retention time.Duration, p Purger) error {
	if schedule == "" || retention <= 0 {
		return nil
	}
	return j.add("audio-purge", schedule, func() {
		if _, err := p.Purge(retention); err != nil {
			j.logger.Warn("janitor audio purge failed", "error", err)
		}
	})
}

func (j *Janitor) add(name, schedule string, fn func()) error {
	if _, err := j.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, schedule, err)
	}
	j.jobs++
	j.logger.Debug("janitor job scheduled", "job", name, "schedule", schedule)
	return nil
}

// Jobs returns the number of scheduled jobs.
func (j *Janitor) Jobs() int { return j.jobs }

// Run starts the scheduler and blocks until ctx is done, then waits for any
// running job to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
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
