package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// TimeConditionChecker evaluates every open time condition.
type TimeConditionChecker interface {
	CheckTimeConditions(ctx context.Context) command.SweepResult
}

// CheckTimeConditionsJob completes reached time conditions and fails events
// whose deadlines passed.
type CheckTimeConditionsJob struct {
	checker TimeConditionChecker
	locker  Locker
	logger  *logger.Logger
	config  SweepConfig

	lastStats atomic.Pointer[SweepStats]
}

// DefaultCheckTimeConditionsConfig returns defaults sized for a one-minute
// schedule.
func DefaultCheckTimeConditionsConfig() SweepConfig {
	return SweepConfig{
		Timeout: 50 * time.Second,
		LockTTL: 55 * time.Second,
	}
}

// NewCheckTimeConditionsJob creates the job. locker may be nil.
func NewCheckTimeConditionsJob(checker TimeConditionChecker, locker Locker, log *logger.Logger, config SweepConfig) *CheckTimeConditionsJob {
	if log == nil {
		log = logger.Nop()
	}
	return &CheckTimeConditionsJob{
		checker: checker,
		locker:  locker,
		logger:  log.With(logger.String("job", "check_time_conditions")),
		config:  config,
	}
}

// Name returns the job name.
func (j *CheckTimeConditionsJob) Name() string {
	return "check_time_conditions"
}

// Description returns a human-readable description.
func (j *CheckTimeConditionsJob) Description() string {
	return "Evaluates time conditions of every in-progress event"
}

// Run executes the job.
func (j *CheckTimeConditionsJob) Run(ctx context.Context) error {
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
		res = j.checker.CheckTimeConditions(ctx)
		return res.Err
	})

	stats := statsFrom(startedAt, res)
	stats.Skipped = !ran
	j.lastStats.Store(stats)

	if ran && res.ConditionsCompleted+res.EventsTransitioned > 0 {
		j.logger.Info("time conditions checked",
			logger.Int("events", stats.EventsChecked),
			logger.Int("conditions_completed", stats.ConditionsCompleted),
			logger.Int("events_transitioned", stats.EventsTransitioned),
		)
	}
	return err
}

// LastStats returns statistics from the last run, or nil.
func (j *CheckTimeConditionsJob) LastStats() *SweepStats {
	return j.lastStats.Load()
}
