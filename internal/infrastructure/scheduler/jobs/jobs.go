// Package jobs contains the scheduled jobs of the engine.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/fundhub/fundhub-engine/internal/application/command"
	"github.com/fundhub/fundhub-engine/pkg/logger"
)

// Locker grants cluster-wide exclusivity to a job run. Acquire returns a nil
// release func when another instance holds the lock.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, err error)
}

// SweepConfig is shared by the sweep jobs.
type SweepConfig struct {
	// Timeout bounds one run. Zero means no bound.
	Timeout time.Duration

	// LockTTL is how long the lock survives a crashed holder.
	LockTTL time.Duration
}

// SweepStats summarizes the last run of a sweep job.
type SweepStats struct {
	StartedAt           time.Time
	Duration            time.Duration
	Skipped             bool
	EventsChecked       int
	ConditionsCompleted int
	EventsTransitioned  int
}

// guarded runs fn under the named lock. A nil locker runs fn unguarded. When
// the lock is held elsewhere fn is skipped and ran is false.
func guarded(ctx context.Context, locker Locker, name string, ttl time.Duration, log *logger.Logger, fn func(context.Context) error) (ran bool, err error) {
	if locker == nil {
		return true, fn(ctx)
	}

	release, err := locker.Acquire(ctx, name, ttl)
	if err != nil {
		return false, err
	}
	if release == nil {
		log.Debug("lock held by another instance, skipping run")
		return false, nil
	}
	defer func() {
		// the run may have been cancelled; release on a fresh context
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := release(rctx); rerr != nil {
			log.Warn("failed to release job lock", logger.Err(rerr))
		}
	}()

	return true, fn(ctx)
}

func statsFrom(startedAt time.Time, res command.SweepResult) *SweepStats {
	return &SweepStats{
		StartedAt:           startedAt,
		Duration:            time.Since(startedAt),
		EventsChecked:       len(res.Results),
		ConditionsCompleted: res.ConditionsCompleted,
		EventsTransitioned:  res.EventsTransitioned,
	}
}

var errNoChecker = errors.New("jobs: nil condition checker")
