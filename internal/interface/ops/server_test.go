package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fundhub/fundhub-engine/internal/domain/shared"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/messaging"
	"github.com/fundhub/fundhub-engine/internal/infrastructure/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type staticJobs []scheduler.JobInfo

func (s staticJobs) ListJobs() []scheduler.JobInfo { return s }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthChecker(t *testing.T) {
	hc := NewHealthChecker("1.2.3")
	hc.AddCheck("postgres", PingCheck(pingFunc(func(context.Context) error { return nil })))
	hc.AddCheck("redis", PingCheck(pingFunc(func(context.Context) error { return errors.New("connection refused") })))

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Equal(t, "failing: redis", status.Message)
	assert.Equal(t, "1.2.3", status.Version)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestHealthChecker_Timeout(t *testing.T) {
	hc := NewHealthChecker("")
	hc.SetTimeout(10 * time.Millisecond)
	hc.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := hc.Check(context.Background())
	assert.False(t, status.Healthy)
}

func TestServer_Probes(t *testing.T) {
	hc := NewHealthChecker("")
	down := false
	hc.AddCheck("postgres", func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	})
	h := NewServer(DefaultConfig(), Dependencies{Health: hc}).Handler()

	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/readyz").Code)

	down = true
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/readyz").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/healthz").Code)

	// endpoints without a dependency are not routed
	assert.Equal(t, http.StatusNotFound, get(t, h, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, h, "/jobs").Code)
}

func TestServer_JobsAndDeadLetters(t *testing.T) {
	dlq := messaging.NewDeadLetterQueue(10)
	dlq.Add(messaging.DeadLetterEntry{
		Event:    shared.NewEventCreatedEvent("ev-1", "owner-1", "DONATION", time.Now()),
		Error:    errors.New("storage unavailable"),
		FailedAt: time.Now(),
	})
	jobs := staticJobs{{
		Name:       "check_time_conditions",
		Schedule:   "@every 1m",
		RunCount:   3,
		FailCount:  1,
		LastResult: &scheduler.JobResult{Error: errors.New("timeout")},
	}}

	h := NewServer(DefaultConfig(), Dependencies{
		Jobs:        jobs,
		DeadLetters: dlq,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("fundhub_up 1\n"))
		}),
	}).Handler()

	rec := get(t, h, "/jobs")
	require.Equal(t, http.StatusOK, rec.Code)
	var jv []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &jv))
	require.Len(t, jv, 1)
	assert.Equal(t, "check_time_conditions", jv[0]["name"])
	assert.Equal(t, "timeout", jv[0]["last_error"])

	rec = get(t, h, "/deadletters")
	require.Equal(t, http.StatusOK, rec.Code)
	var dv []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dv))
	require.Len(t, dv, 1)
	assert.Equal(t, "event.created", dv[0]["event_type"])
	assert.Equal(t, "storage unavailable", dv[0]["error"])

	assert.Contains(t, get(t, h, "/metrics").Body.String(), "fundhub_up 1")
}

func TestServer_RecoversPanics(t *testing.T) {
	h := NewServer(DefaultConfig(), Dependencies{
		Metrics: http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }),
	}).Handler()

	assert.Equal(t, http.StatusInternalServerError, get(t, h, "/metrics").Code)
}
