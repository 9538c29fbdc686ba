package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// ActiveEventChecker re-evaluates every in-progress event.
type ActiveEventChecker interface {
	CheckAllActive(ctx context.Context) command.SweepResult
}

// SweepActiveEventsJob re-checks every condition of every in-progress event.
// It repairs events whose participation-triggered check was lost.
type SweepActiveEventsJob struct {
	checker ActiveEventChecker
	locker  Locker
	logger  *logger.Logger
	config  SweepConfig

	lastStats atomic.Pointer[SweepStats]
}

// DefaultSweepActiveEventsConfig returns defaults sized for a ten-minute
// schedule.
func DefaultSweepActiveEventsConfig() SweepConfig {
	return SweepConfig{
		Timeout: 5 * time.Minute,
		LockTTL: 9 * time.Minute,
	}
}

// NewSweepActiveEventsJob creates the job. locker may be nil.
func NewSweepActiveEventsJob(checker ActiveEventChecker, locker Locker, log *logger.Logger, config SweepConfig) *SweepActiveEventsJob {
	if log == nil {
		log = logger.Nop()
	}
	return &SweepActiveEventsJob{
		checker: checker,
		locker:  locker,
		logger:  log.With(logger.String("job", "sweep_active_events")),
		config:  config,
	}
}

// Name returns the job name.
func (j *SweepActiveEventsJob) Name() string {
	return "sweep_active_events"
}

// Description returns a human-readable description.
func (j *SweepActiveEventsJob) Description() string {
	return "Re-evaluates bank, people and time conditions of every in-progress event"
}

// Run executes the job.
func (j *SweepActiveEventsJob) Run(ctx context.Context) error {
	if j.checker == nil {
		return errNoChecker
	}
	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	startedAt := time.Now()
	var res command.SweepResult
	ran, err := guarded(ctx, j.locker, j.Name(), j.config.LockTTL, j.logger, func(ctx context.Context) error {
		res = j.checker.CheckAllActive(ctx)
		return res.Err
	})

	stats := statsFrom(startedAt, res)
	stats.Skipped = !ran
	j.lastStats.Store(stats)

	if ran {
		j.logger.Info("active events swept",
			logger.Int("events", stats.EventsChecked),
			logger.Int("conditions_completed", stats.ConditionsCompleted),
			logger.Int("events_transitioned", stats.EventsTransitioned),
			logger.Latency(stats.Duration),
		)
	}
	return err
}

// LastStats returns statistics from the last run, or nil.
func (j *SweepActiveEventsJob) LastStats() *SweepStats {
	return j.lastStats.Load()
}
