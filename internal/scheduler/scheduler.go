// Package scheduler periodically resumes delay suspensions that have come due.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/agentc2/wfrt/internal/logging"
)

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 15 * time.Second

// DueResumer is satisfied by the run service.
type DueResumer interface {
	ResumeDue(ctx context.Context, now time.Time) (int, error)
}

// Scheduler polls for due runs on an "@every" cron schedule.
type Scheduler struct {
	resumer  DueResumer
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc

	ticking atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(resumer DueResumer, opts ...Option) *Scheduler {
	s := &Scheduler{
		resumer:  resumer,
		interval: DefaultInterval,
		logger:   logging.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Spec returns the cron spec the scheduler runs on.
func (s *Scheduler) Spec() string {
	return "@every " + s.interval.String()
}

// Start runs one tick immediately to pick up delays that fell due while
// the process was down, then schedules the periodic tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	tickCtx, cancel := context.WithCancel(ctx)
	if _, err := c.AddFunc(s.Spec(), func() { s.Tick(tickCtx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", s.Spec(), err)
	}
	s.cron, s.cancel = c, cancel

	go s.Tick(tickCtx)
	c.Start()
	s.logger.Info("scheduler started", slog.String("spec", s.Spec()))
	return nil
}

// Tick resumes everything due now. Overlapping ticks are skipped and
// report zero.
func (s *Scheduler) Tick(ctx context.Context) int {
	if !s.ticking.CompareAndSwap(false, true) {
		s.logger.Debug("scheduler tick skipped, previous tick still running")
		return 0
	}
	defer s.ticking.Store(false)

	n, err := s.resumer.ResumeDue(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error("resume due runs failed", slog.String("error", err.Error()))
	}
	if n > 0 {
		s.logger.Info("resumed due delays", slog.Int("count", n))
	}
	return n
}

// Stop halts scheduling and waits for a running tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		return nil
	}

	s.cancel()
	<-s.cron.Stop().Done()
	s.cron, s.cancel = nil, nil

	s.logger.Info("scheduler stopped")
	return nil
}
