// Package sched fires synchronization passes on a cron cadence.
package sched

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// NextRunTime parses the cron expression and returns the first instant
// after the given time that matches it.
func NextRunTime(expr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}

// TriggerFunc runs one scheduled pass. Errors are logged, not retried;
// the next firing follows the cadence regardless.
type TriggerFunc func(ctx context.Context) error

// Config holds the dependencies for the scheduler.
type Config struct {
	// Expr is the cron expression. Empty starts the scheduler paused.
	Expr string

	Trigger TriggerFunc
	Logger  *log.Logger

	// Interval is the due-check cadence; defaults to 30 seconds if zero.
	Interval time.Duration
}

// Scheduler fires the trigger whenever the cron expression comes due.
// The expression can be swapped at runtime with Update.
type Scheduler struct {
	trigger  TriggerFunc
	logger   *log.Logger
	interval time.Duration

	mu      stdsync.Mutex
	expr    string
	nextRun time.Time

	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a Scheduler with the given config.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Trigger == nil {
		return nil, fmt.Errorf("scheduler requires a trigger")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[sched] ", log.LstdFlags)
	}
	s := &Scheduler{
		trigger:  cfg.Trigger,
		logger:   logger,
		interval: interval,
	}
	if err := s.Update(cfg.Expr); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Printf("scheduler started, checking every %s", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Printf("scheduler stopped")
}

// Update swaps the cron expression at runtime. An empty expression pauses
// the scheduler; an invalid one is rejected and the current cadence keeps
// running.
func (s *Scheduler) Update(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expr == "" {
		s.expr = ""
		s.nextRun = time.Time{}
		return nil
	}

	next, err := NextRunTime(expr, time.Now())
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	s.expr = expr
	s.nextRun = next
	return nil
}

// NextRun returns the next scheduled firing, or the zero time when the
// scheduler is paused.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRun
}

// loop is the main scheduler loop. It ticks at the configured interval
// and fires when the schedule has come due.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires the trigger when due and advances the schedule.
func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	expr := s.expr
	due := !s.nextRun.IsZero() && !time.Now().Before(s.nextRun)
	s.mu.Unlock()

	if !due {
		return
	}

	if err := s.trigger(ctx); err != nil {
		s.logger.Printf("WARNING: scheduled pass failed: %v", err)
	}

	next, err := NextRunTime(expr, time.Now())
	if err != nil {
		s.logger.Printf("WARNING: failed to compute next run for %q: %v", expr, err)
		return
	}

	// Keep the recomputed time only if Update has not swapped the
	// expression while the trigger ran.
	s.mu.Lock()
	if s.expr == expr {
		s.nextRun = next
	}
	s.mu.Unlock()
}
