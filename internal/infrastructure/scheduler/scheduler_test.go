package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int32
	err   error
	block chan struct{}
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "test job" }

func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.block != nil {
		select {
		case <-j.block:
		case <-ctx.Done():
		}
	}
	return j.err
}

func newTestScheduler(m *metrics.Metrics) *Scheduler {
	cfg := DefaultSchedulerConfig()
	cfg.Metrics = m
	return NewScheduler(cfg)
}

func TestScheduler_Register(t *testing.T) {
	s := newTestScheduler(nil)
	job := &countingJob{name: "a"}

	assert.ErrorIs(t, s.Register(nil, NewIntervalSchedule(time.Second)), ErrNilJob)
	assert.ErrorIs(t, s.Register(job, nil), ErrNilSchedule)
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Second)))
	assert.ErrorIs(t, s.Register(job, NewIntervalSchedule(time.Second)), ErrJobAlreadyExists)

	info, err := s.GetJobInfo("a")
	require.NoError(t, err)
	assert.Equal(t, "@every 1s", info.Schedule)

	require.NoError(t, s.Unregister("a"))
	assert.ErrorIs(t, s.Unregister("a"), ErrJobNotFound)
}

func TestScheduler_RunsDueJobs(t *testing.T) {
	s := newTestScheduler(nil)
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(10*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)

	assert.Eventually(t, func() bool { return job.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)
	assert.False(t, s.IsRunning())
	assert.NotEmpty(t, s.GetHistory(0))
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := newTestScheduler(nil)
	job := &countingJob{name: "slow", block: make(chan struct{})}
	require.NoError(t, s.Register(job, NewIntervalSchedule(time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, time.Millisecond)

	// several ticks pass while the first run is blocked
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), job.runs.Load())

	info, err := s.GetJobInfo("slow")
	require.NoError(t, err)
	assert.True(t, info.Running)

	close(job.block)
	require.NoError(t, s.Stop())
}

func TestScheduler_RunNowRecordsFailure(t *testing.T) {
	m := metrics.New()
	s := newTestScheduler(m)
	boom := errors.New("boom")
	require.NoError(t, s.Register(&countingJob{name: "broken", err: boom}, NewIntervalSchedule(time.Hour)))

	res, err := s.RunNow(context.Background(), "broken")
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.False(t, res.Success)
	assert.True(t, res.Manual)

	infos := s.ListJobs()
	require.Len(t, infos, 1)
	assert.Equal(t, int64(1), infos[0].FailCount)
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry(), "fundhub_job_duration_seconds"))

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_HistoryIsBounded(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.MaxHistorySize = 2
	s := NewScheduler(cfg)
	require.NoError(t, s.Register(&countingJob{name: "a"}, NewIntervalSchedule(time.Hour)))

	for i := 0; i < 5; i++ {
		_, _ = s.RunNow(context.Background(), "a")
	}
	assert.Len(t, s.GetHistory(0), 2)
	assert.Len(t, s.GetHistory(1), 1)
}

func TestScheduler_RegisterWhileRunning(t *testing.T) {
	s := newTestScheduler(nil)
	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop() }()

	late := &countingJob{name: "late"}
	require.NoError(t, s.Register(late, NewIntervalSchedule(5*time.Millisecond)))
	assert.Eventually(t, func() bool { return late.runs.Load() >= 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Unregister("late"))
	// let a loop that was mid-run finish
	time.Sleep(20 * time.Millisecond)
	settled := late.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, late.runs.Load())
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	s := newTestScheduler(nil)
	job := &countingJob{name: "again"}
	require.NoError(t, s.Register(job, NewIntervalSchedule(5*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	before := job.runs.Load()
	require.NoError(t, s.Start(context.Background()))
	assert.Eventually(t, func() bool { return job.runs.Load() > before }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
}
