// Package daemon runs the lifecycle on a cron schedule and serves health
// and metrics endpoints.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yairfalse/amikeeper/internal/telemetry"
)

// RunFunc is one scheduled pass.
type RunFunc func(ctx context.Context) error

// Config holds daemon configuration.
type Config struct {
	Schedule    string
	MetricsAddr string
}

// Daemon runs passes on a cron schedule, never overlapping.
type Daemon struct {
	schedule    string
	metricsAddr string
	run         RunFunc
	gatherer    prometheus.Gatherer
	logger      *telemetry.Logger

	startTime time.Time
	runCount  atomic.Int64
	ready     atomic.Bool

	mu      sync.Mutex
	lastRun time.Time
	lastErr string
}

// NewDaemon creates a new daemon instance. A nil gatherer serves the
// default Prometheus registry.
func NewDaemon(cfg Config, fn RunFunc, gatherer prometheus.Gatherer) (*Daemon, error) {
	if cfg.Schedule == "" {
		return nil, errors.New("daemon: schedule required")
	}
	if fn == nil {
		return nil, errors.New("daemon: run func required")
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Daemon{
		schedule:    cfg.Schedule,
		metricsAddr: cfg.MetricsAddr,
		run:         fn,
		gatherer:    gatherer,
		logger:      telemetry.NewLogger("daemon"),
		startTime:   time.Now(),
	}, nil
}

// Start schedules passes and serves HTTP until ctx is done.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if _, err := s.Cron(d.schedule).Do(d.runOnce, ctx); err != nil {
		return fmt.Errorf("schedule %q: %w", d.schedule, err)
	}

	var g run.Group

	g.Add(func() error {
		s.StartAsync()
		d.ready.Store(true)
		d.logger.Info().
			Str("schedule", d.schedule).
			Msg("scheduler started")
		<-ctx.Done()
		return nil
	}, func(error) {
		d.ready.Store(false)
		cancel()
		s.Stop()
	})

	if d.metricsAddr != "" {
		srv := &http.Server{
			Addr:              d.metricsAddr,
			Handler:           d.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Add(func() error {
			d.logger.Info().
				Str("addr", d.metricsAddr).
				Msg("serving metrics and health")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve %s: %w", d.metricsAddr, err)
			}
			return nil
		}, func(error) {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Run()
	d.logger.Info().
		Int64("runs", d.RunCount()).
		Msg("daemon stopped")
	return err
}

func (d *Daemon) runOnce(ctx context.Context) {
	n := d.runCount.Add(1)
	started := time.Now()

	err := d.run(ctx)

	d.mu.Lock()
	d.lastRun = started
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.Error().Err(err).Int64("run", n).Msg("scheduled run failed")
		return
	}
	d.logger.Info().
		Int64("run", n).
		Dur("duration", time.Since(started)).
		Msg("scheduled run complete")
}

// Handler serves /metrics, /healthz and /readyz.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/readyz", d.handleReadyz)
	return mux
}

func (d *Daemon) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d.Health())
}

func (d *Daemon) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !d.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

// Health returns daemon health status.
func (d *Daemon) Health() HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	return HealthStatus{
		Status:    "healthy",
		Uptime:    int64(time.Since(d.startTime).Seconds()),
		Runs:      d.runCount.Load(),
		LastRun:   d.lastRun,
		LastError: d.lastErr,
	}
}

// HealthStatus represents daemon health.
type HealthStatus struct {
	Status    string    `json:"status"`
	Uptime    int64     `json:"uptime_seconds"`
	Runs      int64     `json:"runs"`
	LastRun   time.Time `json:"last_run,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// RunCount returns total passes started.
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}
