// Package scheduler runs a task on a cron schedule. clinicdb uses it to check
// registered databases for schema drift while the watch command is running.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	cron "github.com/pardnchiu/go-scheduler"

	"github.com/platforma-dev/clinicdb/application"
	"github.com/platforma-dev/clinicdb/log"
)

// Stats summarizes past executions. It is reported as the service health payload.
type Stats struct {
	Schedule  string     `json:"schedule"`
	Runs      int        `json:"runs"`
	Failures  int        `json:"failures"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	LastError string     `json:"lastError,omitempty"`
}

// Scheduler represents a periodic task runner that executes an action based on a cron expression.
type Scheduler struct {
	cronExpr string
	runner   application.Runner

	mu    sync.Mutex
	stats Stats
}

// New creates a new Scheduler instance with a cron expression.
//
// Supported cron formats:
//   - Standard 5-field cron with numeric fields: "minute hour day month weekday"
//     (e.g., "0 9 * * 1-5"; weekday names are not accepted)
//   - Custom descriptors: @yearly, @monthly, @weekly, @daily, @hourly
//   - Interval syntax: @every 5m, @every 2h, @every 30s (30s is the shortest interval)
//
// Returns an error if the cron expression is invalid.
func New(cronExpr string, runner application.Runner) (*Scheduler, error) {
	// The library panics on an empty expression.
	if cronExpr == "" {
		return nil, fmt.Errorf("invalid cron expression %q: expression cannot be empty", cronExpr)
	}

	validator, err := cron.New(cron.Config{Location: time.UTC})
	if err != nil {
		return nil, fmt.Errorf("failed to create cron validator: %w", err)
	}

	_, err = validator.Add(cronExpr, func() {})
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	return &Scheduler{
		cronExpr: cronExpr,
		runner:   runner,
		stats:    Stats{Schedule: cronExpr},
	}, nil
}

// Healthcheck returns a snapshot of the execution stats.
func (s *Scheduler) Healthcheck(context.Context) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stats
}

func (s *Scheduler) record(started time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Runs++
	s.stats.LastRunAt = &started
	s.stats.LastError = ""
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	}
}

// execute runs the task once under a fresh trace ID and records the outcome.
func (s *Scheduler) execute(ctx context.Context) error {
	runCtx := context.WithValue(ctx, log.TraceIDKey, uuid.NewString())
	started := time.Now()
	log.InfoContext(runCtx, "scheduler task started")

	err := s.runner.Run(runCtx)
	s.record(started, err)
	if err != nil {
		log.ErrorContext(runCtx, "error in scheduler", "error", err)
	}

	log.InfoContext(runCtx, "scheduler task finished", "took", time.Since(started))
	return err
}

// Run starts the scheduler and executes the runner according to the cron schedule.
// It blocks until ctx is canceled and waits for a task in progress to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	cronScheduler, err := cron.New(cron.Config{Location: time.UTC})
	if err != nil {
		return fmt.Errorf("failed to create cron scheduler: %w", err)
	}

	_, err = cronScheduler.Add(s.cronExpr, func() error {
		return s.execute(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron task: %w", err)
	}

	cronScheduler.Start()

	<-ctx.Done()

	stopCtx := cronScheduler.Stop()
	<-stopCtx.Done()

	return fmt.Errorf("scheduler context canceled: %w", ctx.Err())
}
