// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"eduetl/internal/operations"
)

// Runner executes one run to completion
type Runner interface {
	Run(ctx context.Context, req operations.RunRequest) (*operations.RunResponse, error)
}

// Pruner forgets finished runs older than a cutoff
type Pruner interface {
	PruneRuns(maxAge time.Duration) int
}

// Options configures a Scheduler
type Options struct {
	// Spec is a standard five-field cron expression or a descriptor such
	// as @daily.
	Spec string
	// Mode is the run mode of scheduled runs; empty means a full run.
	Mode string
	// Retention, when positive, prunes finished runs hourly.
	Retention time.Duration
	Logger    *slog.Logger
}

// Scheduler starts a run on every tick. A tick that fires while the
// previous scheduled run is still going is skipped.
type Scheduler struct {
	cron     *cron.Cron
	runner   Runner
	pruner   Pruner
	schedule cron.Schedule
	mode     string
	logger   *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	lastRun *operations.RunResponse
	lastErr error
}

// New parses the schedule and prepares the cron entries. pruner may be nil.
func New(runner Runner, pruner Pruner, opts Options) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(opts.Spec)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", opts.Spec, err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "scheduler"))
	mode := opts.Mode
	if mode == "" {
		mode = operations.ModeRun
	}
	if err := (operations.RunRequest{Mode: mode}).Validate(); err != nil {
		return nil, err
	}

	cronLogger := slogAdapter{logger: logger}
	s := &Scheduler{
		cron:     cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger))),
		runner:   runner,
		pruner:   pruner,
		schedule: schedule,
		mode:     mode,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.cron.Schedule(schedule, cron.NewChain(cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(s.tick)))
	if pruner != nil && opts.Retention > 0 {
		s.cron.Schedule(cron.Every(time.Hour), cron.FuncJob(func() {
			if n := pruner.PruneRuns(opts.Retention); n > 0 {
				logger.Info("Pruned finished runs", slog.Int("removed", n))
			}
		}))
	}
	return s, nil
}

// Start begins firing the schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started",
		slog.String("mode", s.mode),
		slog.Time("next_run", s.Next(time.Now())))
}

// Stop halts the schedule, cancels a scheduled run in flight and waits
// for it to return or for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the first scheduled time after t
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// LastRun returns the result of the most recent scheduled run
func (s *Scheduler) LastRun() (*operations.RunResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun, s.lastErr
}

func (s *Scheduler) tick() {
	id := fmt.Sprintf("scheduled-%s", time.Now().UTC().Format("20060102T150405"))
	s.logger.Info("Scheduled run triggered", slog.String("run_id", id), slog.String("mode", s.mode))

	resp, err := s.runner.Run(s.ctx, operations.RunRequest{ID: id, Mode: s.mode})
	if err != nil {
		s.logger.Error("Scheduled run failed", slog.String("run_id", id), slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.lastRun, s.lastErr = resp, err
	s.mu.Unlock()
}

// slogAdapter lets cron log through slog
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Debug(msg, keysAndValues...)
}

func (a slogAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, append([]interface{}{"error", err.Error()}, keysAndValues...)...)
}
