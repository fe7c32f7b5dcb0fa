// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentra/backend/pkg/logger"

	"github.com/robfig/cron/v3"
)

// IndexRepairer rebuilds chat list entries for recently updated sessions
type IndexRepairer interface {
	RepairIndex(ctx context.Context, since time.Time, batch int) (int, error)
}

// IndexRepairOptions tune the repair job
type IndexRepairOptions struct {
	// Schedule is a cron spec, for example "@every 30m"
	Schedule string
	// Lookback is how far back the first run reaches
	Lookback time.Duration
	// Batch caps the sessions repaired per run
	Batch int
	// Timeout bounds one run
	Timeout time.Duration
}

// Scheduler runs maintenance jobs
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	lastRun time.Time
}

// New creates a scheduler running in UTC
func New(log *logger.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With("component", "jobs"),
		now:    time.Now,
	}
}

// AddIndexRepair schedules the chat list repair. Each run covers the
// sessions updated since the previous run started, plus the first Lookback window.
func (s *Scheduler) AddIndexRepair(repairer IndexRepairer, opts IndexRepairOptions) error {
	if opts.Lookback <= 0 {
		opts.Lookback = time.Hour
	}
	if opts.Batch <= 0 {
		opts.Batch = 500
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}

	_, err := s.cron.AddFunc(opts.Schedule, func() {
		s.runIndexRepair(repairer, opts)
	})
	if err != nil {
		return fmt.Errorf("schedule index repair %q: %w", opts.Schedule, err)
	}
	return nil
}

func (s *Scheduler) runIndexRepair(repairer IndexRepairer, opts IndexRepairOptions) {
	started := s.now()

	s.mu.Lock()
	since := s.lastRun
	s.mu.Unlock()
	if since.IsZero() {
		since = started.Add(-opts.Lookback)
	}

	ctx, cancel := context.WithTimeout(s.ctx, opts.Timeout)
	defer cancel()

	n, err := repairer.RepairIndex(ctx, since, opts.Batch)
	if err != nil {
		s.log.LogError(err, "Chat index repair failed", "since", since)
		return
	}

	s.mu.Lock()
	s.lastRun = started
	s.mu.Unlock()
	s.log.Info("Chat index repair finished", "repaired", n, "since", since, "took", s.now().Sub(started).String())
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop waits for running jobs and cancels their context
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.cancel()
	s.log.Info("Scheduler stopped")
}

// IsRunning reports whether any job is scheduled
func (s *Scheduler) IsRunning() bool {
	return len(s.cron.Entries()) > 0
}
