package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopRun(context.Context) error { return nil }

func TestNewDaemon(t *testing.T) {
	d, err := NewDaemon(Config{Schedule: "0 2 * * *", MetricsAddr: ":0"}, noopRun, nil)
	require.NoError(t, err)

	assert.Equal(t, "0 2 * * *", d.schedule)
	assert.Equal(t, prometheus.DefaultGatherer, d.gatherer)
	assert.Zero(t, d.RunCount())
}

func TestNewDaemon_Validation(t *testing.T) {
	_, err := NewDaemon(Config{}, noopRun, nil)
	assert.Error(t, err)

	_, err = NewDaemon(Config{Schedule: "0 2 * * *"}, nil, nil)
	assert.Error(t, err)
}

func TestDaemon_RunOnceRecordsOutcome(t *testing.T) {
	calls := 0
	fail := errors.New("select instances: denied")
	d, err := NewDaemon(Config{Schedule: "0 2 * * *"}, func(context.Context) error {
		calls++
		if calls == 2 {
			return fail
		}
		return nil
	}, nil)
	require.NoError(t, err)

	d.runOnce(context.Background())
	assert.Equal(t, int64(1), d.RunCount())
	assert.Empty(t, d.Health().LastError)

	d.runOnce(context.Background())
	h := d.Health()
	assert.Equal(t, int64(2), h.Runs)
	assert.Equal(t, fail.Error(), h.LastError)
	assert.False(t, h.LastRun.IsZero())

	d.runOnce(context.Background())
	assert.Empty(t, d.Health().LastError)
}

func TestDaemon_Handler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "amikeeper_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	d, err := NewDaemon(Config{Schedule: "0 2 * * *"}, noopRun, reg)
	require.NoError(t, err)
	h := d.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	d.ready.Store(true)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "amikeeper_test_total 1")
}

func TestDaemon_StartStopsOnCancel(t *testing.T) {
	d, err := NewDaemon(Config{Schedule: "0 2 * * *", MetricsAddr: "127.0.0.1:0"}, noopRun, prometheus.NewRegistry())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	require.Eventually(t, d.ready.Load, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.False(t, d.ready.Load())
}

func TestDaemon_StartRejectsBadSchedule(t *testing.T) {
	d, err := NewDaemon(Config{Schedule: "every tuesday"}, noopRun, nil)
	require.NoError(t, err)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule")
}
