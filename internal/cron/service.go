package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/kayakoyan/marketplace-backend/pkg/logger"
)

const (
	defaultInterval = time.Minute
	releaseTimeout  = 5 * time.Second
)

// Cadenced is implemented by jobs that should run less often than every
// tick. Jobs without it run on every tick the worker holds the lock.
type Cadenced interface {
	Every() time.Duration
}

type jobMetrics interface {
	ObserveDuration(job string, duration time.Duration)
	IncSuccess(job string)
	IncFailure(job string)
}

type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  jobMetrics
	Interval time.Duration
	Now      func() time.Time
}

// Service ticks the maintenance jobs. Payment expiry runs every tick so an
// unpaid order is cancelled within one interval of its deadline; retention
// jobs declare a longer cadence.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  jobMetrics
	interval time.Duration
	now      func() time.Time
	// lastRun is local to this process; another instance winning the lock
	// may run a cadenced job again before its cadence here elapses.
	lastRun map[string]time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		registry: registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      now,
		lastRun:  make(map[string]time.Time),
	}, nil
}

// Run ticks until ctx is cancelled. The first tick runs immediately.
func (s *Service) Run(ctx context.Context) error {
	ctx = s.logg.WithFields(ctx, map[string]any{
		"jobs":     s.registry.Names(),
		"interval": s.interval.String(),
	})
	s.logg.Info(ctx, "cron worker started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.tick(ctx); err != nil {
			s.logg.Error(ctx, "cron tick failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// tick runs the due jobs while holding the leader lock. It returns only lock
// errors; job failures are logged and counted per job.
func (s *Service) tick(ctx context.Context) error {
	due := s.dueJobs()
	if len(due) == 0 {
		return nil
	}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire cron lock: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping tick")
		return nil
	}
	defer s.release(ctx)

	for _, job := range due {
		if ctx.Err() != nil {
			return nil
		}
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) dueJobs() []Job {
	now := s.now()
	var due []Job
	for _, job := range s.registry.Jobs() {
		every := time.Duration(0)
		if c, ok := job.(Cadenced); ok {
			every = c.Every()
		}
		last, ran := s.lastRun[job.Name()]
		if !ran || every <= 0 || now.Sub(last) >= every {
			due = append(due, job)
		}
	}
	return due
}

// release frees the lock even when ctx is already cancelled, so a shutdown
// does not hold the other instances off for a full lock TTL.
func (s *Service) release(ctx context.Context) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.lock.Release(releaseCtx); err != nil {
		s.logg.Error(ctx, "release cron lock", err)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithField(ctx, "job", name)
	started := s.now()
	s.lastRun[name] = started

	err := runGuarded(jobCtx, job)
	elapsed := s.now().Sub(started)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if s.metrics != nil {
		s.metrics.ObserveDuration(name, elapsed)
	}
	if err != nil {
		s.logg.Error(jobCtx, "cron job failed", err)
		if s.metrics != nil {
			s.metrics.IncFailure(name)
		}
		return
	}
	s.logg.Debug(jobCtx, "cron job finished")
	if s.metrics != nil {
		s.metrics.IncSuccess(name)
	}
}

// runGuarded turns a panicking job into a failed run.
func runGuarded(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
