// Package scheduler runs the engine's periodic jobs: the minute-level time
// condition check and the slower sweep over every active event.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fundhub/fundhub-engine/pkg/logger"
	"github.com/fundhub/fundhub-engine/pkg/metrics"
)

var (
	ErrNilJob                  = errors.New("scheduler: nil job")
	ErrNilSchedule             = errors.New("scheduler: nil schedule")
	ErrJobAlreadyExists        = errors.New("scheduler: job already registered")
	ErrJobNotFound             = errors.New("scheduler: unknown job")
	ErrSchedulerAlreadyRunning = errors.New("scheduler: already running")
	ErrSchedulerNotRunning     = errors.New("scheduler: not running")
)

// Job is a unit of periodic work. Run receives a context cancelled when the
// scheduler stops.
type Job interface {
	Name() string
	Description() string
	Run(ctx context.Context) error
}

// Schedule yields successive run times.
type Schedule interface {
	Next(after time.Time) time.Time
	String() string
}

// JobResult records one execution.
type JobResult struct {
	JobName     string
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
	Success     bool
	Error       error
	Manual      bool
}

// JobInfo is a snapshot of a registered job for the ops endpoint.
type JobInfo struct {
	Name        string
	Description string
	Schedule    string
	Running     bool
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	FailCount   int64
	LastResult  *JobResult
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// SchedulerConfig configures a Scheduler. Zero values take the defaults.
type SchedulerConfig struct {
	Logger  *logger.Logger
	Metrics *metrics.Metrics // optional

	// Timezone schedules are evaluated in (UTC).
	Timezone *time.Location

	// MaxHistorySize bounds GetHistory (1000).
	MaxHistorySize int
}

// DefaultSchedulerConfig returns the defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Timezone: time.UTC, MaxHistorySize: 1000}
}

// ══════════════════════════════════════════════════════════════════════════════
// SCHEDULER
// ══════════════════════════════════════════════════════════════════════════════

// Scheduler gives every registered job its own loop that sleeps until the
// next due time and then runs the job to completion. A job therefore never
// overlaps with itself; a run that outlasts its interval pushes the next one
// back instead of stacking.
type Scheduler struct {
	log     *logger.Logger
	metrics *metrics.Metrics
	tz      *time.Location
	keep    int

	mu      sync.Mutex
	entries map[string]*entry
	history []JobResult
	ctx     context.Context // nil while stopped
	cancel  context.CancelFunc
	since   time.Time
	wg      sync.WaitGroup
}

type entry struct {
	job      Job
	schedule Schedule
	stop     context.CancelFunc // ends this job's loop

	running   bool
	lastRun   time.Time
	nextRun   time.Time
	runs      int64
	failures  int64
	lastFinal *JobResult
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Timezone == nil {
		cfg.Timezone = time.UTC
	}
	if cfg.MaxHistorySize <= 0 {
		cfg.MaxHistorySize = 1000
	}
	return &Scheduler{
		log:     cfg.Logger.With(logger.Component("scheduler")),
		metrics: cfg.Metrics,
		tz:      cfg.Timezone,
		keep:    cfg.MaxHistorySize,
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) now() time.Time { return time.Now().In(s.tz) }

// Register adds a job. Registering on a running scheduler starts its loop
// right away.
func (s *Scheduler) Register(job Job, schedule Schedule) error {
	switch {
	case job == nil:
		return ErrNilJob
	case schedule == nil:
		return ErrNilSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, dup := s.entries[name]; dup {
		return fmt.Errorf("%w: %s", ErrJobAlreadyExists, name)
	}
	e := &entry{job: job, schedule: schedule, nextRun: schedule.Next(s.now())}
	s.entries[name] = e
	if s.ctx != nil {
		s.spawn(e)
	}

	s.log.Info("job registered",
		logger.String("job", name),
		logger.String("schedule", schedule.String()),
		logger.Time("next_run", e.nextRun),
	)
	return nil
}

// Unregister removes a job, ending its loop. A run in progress is cancelled.
func (s *Scheduler) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	if e.stop != nil {
		e.stop()
	}
	delete(s.entries, name)
	s.log.Info("job unregistered", logger.String("job", name))
	return nil
}

// Start launches a loop per registered job. ctx bounds all of them.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return ErrSchedulerAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.since = time.Now()
	for _, e := range s.entries {
		s.spawn(e)
	}

	s.log.Info("scheduler started", logger.Int("jobs_count", len(s.entries)))
	return nil
}

// Stop cancels every loop and waits for runs in progress to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.ctx == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.cancel()
	s.ctx, s.cancel = nil, nil
	for _, e := range s.entries {
		e.stop = nil
	}
	since := s.since
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("scheduler stopped", logger.Duration("uptime", time.Since(since)))
	return nil
}

// IsRunning reports whether Start was called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx != nil
}

// spawn starts e's loop. Callers hold mu with s.ctx set.
func (s *Scheduler) spawn(e *entry) {
	ctx, stop := context.WithCancel(s.ctx)
	e.stop = stop
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer stop()
		s.loop(ctx, e)
	}()
}

func (s *Scheduler) loop(ctx context.Context, e *entry) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		s.mu.Lock()
		due := e.nextRun
		s.mu.Unlock()
		if due.IsZero() {
			return // schedule exhausted
		}

		timer.Reset(max(time.Until(due), 0))
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		s.mu.Lock()
		at := s.now()
		e.running = true
		e.lastRun = at
		e.runs++
		s.mu.Unlock()

		s.run(ctx, e, false)

		s.mu.Lock()
		e.running = false
		e.nextRun = e.schedule.Next(s.now())
		s.mu.Unlock()
	}
}

// run executes the job once and records the outcome.
func (s *Scheduler) run(ctx context.Context, e *entry, manual bool) JobResult {
	name := e.job.Name()
	log := s.log.With(logger.String("job", name))
	log.Debug("job started", logger.Bool("manual", manual))

	start := time.Now()
	err := e.job.Run(ctx)
	end := time.Now()

	res := JobResult{
		JobName:     name,
		StartedAt:   start,
		CompletedAt: end,
		Duration:    end.Sub(start),
		Success:     err == nil,
		Error:       err,
		Manual:      manual,
	}
	s.metrics.JobRun(name, res.Duration, err)

	s.mu.Lock()
	if err != nil {
		e.failures++
	}
	e.lastFinal = &res
	s.history = append(s.history, res)
	if over := len(s.history) - s.keep; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("job failed", logger.Latency(res.Duration), logger.Err(err))
	} else {
		log.Info("job completed", logger.Latency(res.Duration))
	}
	return res
}

// RunNow executes a job immediately, outside its schedule. It does not wait
// for or block a scheduled run of the same job.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*JobResult, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	res := s.run(ctx, e, true)
	return &res, res.Error
}

// ListJobs returns a snapshot of every job, ordered by name.
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobInfo, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, e.info(name))
	}
	slices.SortFunc(out, func(a, b JobInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// GetJobInfo returns a snapshot of one job.
func (s *Scheduler) GetJobInfo(name string) (*JobInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	info := e.info(name)
	return &info, nil
}

func (e *entry) info(name string) JobInfo {
	return JobInfo{
		Name:        name,
		Description: e.job.Description(),
		Schedule:    e.schedule.String(),
		Running:     e.running,
		LastRun:     e.lastRun,
		NextRun:     e.nextRun,
		RunCount:    e.runs,
		FailCount:   e.failures,
		LastResult:  e.lastFinal,
	}
}

// GetHistory returns up to limit of the most recent results, oldest first.
// A non-positive limit returns everything kept.
func (s *Scheduler) GetHistory(limit int) []JobResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.history) {
		limit = len(s.history)
	}
	return slices.Clone(s.history[len(s.history)-limit:])
}
