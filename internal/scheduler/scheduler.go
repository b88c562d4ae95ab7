package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/vetsync/pkg/logger"
	"github.com/angelmondragon/vetsync/pkg/metrics"
)

const (
	defaultInterval = 30 * time.Second
	defaultDebounce = 1500 * time.Millisecond
)

// Trigger names used in logs and job metrics.
const (
	TriggerPeriodic = "periodic"
	TriggerOnline   = "online"
	TriggerDebounce = "debounce"
)

type Params struct {
	Logger   *logger.Logger
	Syncer   Syncer
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.JobMetrics
	Interval time.Duration
	Debounce time.Duration
}

// Scheduler drives push and pull from three triggers: a debounce after enqueues,
// a fixed interval, and connectivity recovery. Every trigger is best effort; errors are logged only.
type Scheduler struct {
	logg     *logger.Logger
	syncer   Syncer
	registry *Registry
	push     Job
	lock     Lock
	metrics  *metrics.JobMetrics
	interval time.Duration
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func New(params Params) (*Scheduler, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Syncer == nil {
		return nil, errors.New("syncer required")
	}
	lock := params.Lock
	if lock == nil {
		lock = NoopLock{}
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry(NewPushJob(params.Syncer), NewPullJob(params.Syncer))
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	debounce := params.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &Scheduler{
		logg:     params.Logger,
		syncer:   params.Syncer,
		registry: registry,
		push:     NewPushJob(params.Syncer),
		lock:     lock,
		metrics:  params.Metrics,
		interval: interval,
		debounce: debounce,
	}, nil
}

// Run executes a cycle immediately and then on every interval until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.RunCycle(ctx, TriggerPeriodic)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer s.stop()

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx, TriggerPeriodic)
		}
	}
}

// NotifyEnqueued arms (or re-arms) the debounce timer so a burst of enqueues yields one push.
func (s *Scheduler) NotifyEnqueued(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		s.runDebounced(ctx)
	})
}

// OnOnline runs a full cycle right away; wire it to network.Monitor.OnOnline.
func (s *Scheduler) OnOnline(ctx context.Context) {
	go s.RunCycle(context.WithoutCancel(ctx), TriggerOnline)
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) runDebounced(ctx context.Context) {
	ctx = s.logg.WithField(ctx, "trigger", TriggerDebounce)
	if s.syncer.IsPushing() {
		s.metrics.IncSkipped(s.push.Name())
		return
	}
	s.runJobs(ctx, []Job{s.push})
}

// RunCycle pushes pending work and then pulls. The cycle is skipped while a push is running.
func (s *Scheduler) RunCycle(ctx context.Context, trigger string) {
	ctx = s.logg.WithField(ctx, "trigger", trigger)
	jobs := s.registry.Jobs()
	if s.syncer.IsPushing() {
		s.logg.Debug(ctx, "push in progress; skipping sync cycle")
		s.skip(jobs)
		return
	}
	s.runJobs(ctx, jobs)
}

// runJobs executes jobs in order under the sync lock.
func (s *Scheduler) runJobs(ctx context.Context, jobs []Job) {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "sync lock acquire failed", fmt.Errorf("lock acquire: %w", err))
		return
	}
	if !locked {
		s.logg.Info(ctx, "another sync daemon holds the lock; skipping")
		s.skip(jobs)
		return
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release sync lock", relErr)
		}
	}()
	for _, job := range jobs {
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) skip(jobs []Job) {
	for _, job := range jobs {
		s.metrics.IncSkipped(job.Name())
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	jobCtx := s.logg.WithField(ctx, "job", job.Name())
	start := time.Now()
	err := job.Run(jobCtx)
	duration := time.Since(start)
	s.metrics.ObserveDuration(job.Name(), duration)
	jobCtx = s.logg.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logg.Warn(s.logg.WithField(jobCtx, "error", err.Error()), "sync job failed")
		s.metrics.IncFailure(job.Name())
		return
	}
	s.logg.Debug(jobCtx, "sync job completed")
	s.metrics.IncSuccess(job.Name())
}
