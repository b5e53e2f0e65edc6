package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"outpass/internal/leave"
)

// DefaultLockKey guards the expiry sweep across workers.
const DefaultLockKey = "outpass:sweep:lock"

// Sweeper is the job the scheduler runs.
type Sweeper interface {
	SweepOnce(ctx context.Context, now time.Time) (leave.SweepResult, error)
}

// Config tunes the scheduler.
type Config struct {
	Interval time.Duration
	// LockTTL bounds both the lease and the run itself.
	LockTTL time.Duration
	LockKey string
}

// Scheduler triggers the expiry sweep on a fixed interval.
type Scheduler struct {
	sweeper Sweeper
	lock    Locker
	log     leave.Logger
	cfg     Config
	now     func() time.Time
	cron    *cron.Cron
}

// New creates a scheduler. A nil lock runs every tick locally.
func New(sw Sweeper, lock Locker, log leave.Logger, cfg Config) *Scheduler {
	if lock == nil {
		lock = NopLocker{}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if cfg.LockKey == "" {
		cfg.LockKey = DefaultLockKey
	}
	return &Scheduler{
		sweeper: sw,
		lock:    lock,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log)))),
	}
}

// RunOnce sweeps when the lease is free. ran is false when another worker holds it.
func (s *Scheduler) RunOnce(ctx context.Context) (res leave.SweepResult, ran bool, err error) {
	release, ok, err := s.lock.Acquire(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return leave.SweepResult{}, false, fmt.Errorf("acquire sweep lock: %w", err)
	}
	if !ok {
		return leave.SweepResult{}, false, nil
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.LockTTL)
	defer cancel()
	res, err = s.sweeper.SweepOnce(ctx, s.now())
	return res, true, err
}

// Start schedules the sweep and returns immediately. The schedule stops when ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		if _, _, err := s.RunOnce(ctx); err != nil {
			s.log.Error(err, "[scheduler] sweep")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.log.Printf("[scheduler] started interval=%s lock=%s", s.cfg.Interval, s.cfg.LockKey)
	s.cron.Start()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
