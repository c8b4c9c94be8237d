// Package lifecycle runs the create-then-reap pipeline for tagged AMIs.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/amikeeper/internal/filter"
	"github.com/yairfalse/amikeeper/internal/metrics"
	"github.com/yairfalse/amikeeper/internal/telemetry"
	"github.com/yairfalse/amikeeper/pkg/backup"
	"github.com/yairfalse/amikeeper/pkg/retention"
)

// Run-level errors raised after a fan-out joins.
var (
	ErrCreateThreshold = errors.New("image creation failures over threshold")
	ErrReapThreshold   = errors.New("image deletion failures over threshold")
)

// Provider is the cloud surface the pipeline needs.
type Provider interface {
	ListInstances(ctx context.Context, q backup.TagQuery) ([]backup.Instance, error)
	CreateImage(ctx context.Context, spec backup.ImageSpec) (string, error)
	TagImage(ctx context.Context, imageID string, tags map[string]string) error
	ListImages(ctx context.Context, q backup.TagQuery) ([]backup.Image, error)
	DeregisterImage(ctx context.Context, imageID string) error
	DeleteSnapshot(ctx context.Context, snapshotID string) error
}

// Guard can veto the deletion of an expired image.
type Guard interface {
	Protect(ctx context.Context, img backup.Image, expiry, now time.Time) (bool, error)
}

// Options tune one engine.
type Options struct {
	Retention retention.Policy
	NoReboot  bool
	DryRun    bool

	// Fan-out bounds. Zero or less means unbounded.
	CreateConcurrency   int
	ReapConcurrency     int
	SnapshotConcurrency int

	// A stage fails the run when failed/total exceeds its ratio.
	MaxCreateFailureRatio float64
	MaxReapFailureRatio   float64
}

// Engine runs the four pipeline stages against a Provider.
type Engine struct {
	provider Provider
	filter   *filter.Filter
	opts     Options
	guard    Guard
	metrics  *metrics.Recorder
	now      func() time.Time
	logger   *telemetry.Logger
	tracer   trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithGuard consults g before deleting an expired image.
func WithGuard(g Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithMetrics records outcomes on r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = r }
}

// WithTracer replaces the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// New creates an engine.
func New(p Provider, f *filter.Filter, opts Options, options ...Option) *Engine {
	e := &Engine{
		provider: p,
		filter:   f,
		opts:     opts,
		now:      time.Now,
		logger:   telemetry.NewLogger("lifecycle"),
		tracer:   otel.Tracer("amikeeper.lifecycle"),
	}
	for _, o := range options {
		o(e)
	}
	return e
}

// Run executes one pass: select instances, create images, select images,
// reap expired ones. The summary holds whatever was recorded before a
// run-level error.
func (e *Engine) Run(ctx context.Context) (backup.Summary, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.run",
		trace.WithAttributes(attribute.Bool("dry_run", e.opts.DryRun)))
	defer span.End()

	s := backup.Summary{StartedAt: e.now(), DryRun: e.opts.DryRun}

	e.logger.WithContext(ctx).Info().
		Str("retention", e.opts.Retention.String()).
		Bool("dry_run", e.opts.DryRun).
		Msg("starting lifecycle run")

	err := e.run(ctx, &s)
	s.FinishedAt = e.now()

	status := "success"
	if err != nil {
		status = "failed"
		s.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	e.metrics.RecordRun(ctx, status, s.Duration())

	e.logger.WithContext(ctx).Info().
		Int("instances", s.InstancesMatched).
		Int("created", s.CountCreations(backup.StatusSuccess)).
		Int("images_scanned", s.ImagesScanned).
		Int("deregistered", s.CountDeletions(backup.StatusSuccess)+s.CountDeletions(backup.StatusPartial)).
		Dur("duration", s.Duration()).
		Str("status", status).
		Msg("lifecycle run complete")

	return s, err
}

func (e *Engine) run(ctx context.Context, s *backup.Summary) error {
	instances, err := e.SelectInstances(ctx)
	if err != nil {
		return err
	}
	s.InstancesMatched = len(instances)

	creations, err := e.CreateImages(ctx, instances, e.now())
	s.Creations = creations
	if err != nil {
		return err
	}

	images, err := e.SelectImages(ctx)
	if err != nil {
		return err
	}
	s.ImagesScanned = len(images)

	deletions, err := e.ReapImages(ctx, images, e.now())
	s.Deletions = deletions
	return err
}

// SelectInstances lists instances carrying a truthy marker that are
// running or stopped.
func (e *Engine) SelectInstances(ctx context.Context) ([]backup.Instance, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.select_instances")
	defer span.End()

	instances, err := e.provider.ListInstances(ctx, e.filter.InstanceQuery())
	if err != nil {
		span.RecordError(err)
		e.logger.LogStageEnd(ctx, "select_instances", err)
		return nil, fmt.Errorf("select instances: %w", err)
	}

	candidates := e.filter.Candidates(instances)
	span.SetAttributes(attribute.Int("instances.count", len(candidates)))
	e.logger.WithContext(ctx).Info().
		Int("listed", len(instances)).
		Int("candidates", len(candidates)).
		Msg("selected instances")

	return candidates, nil
}

// SelectImages lists account-owned images carrying a truthy marker.
func (e *Engine) SelectImages(ctx context.Context) ([]backup.Image, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.select_images")
	defer span.End()

	images, err := e.provider.ListImages(ctx, e.filter.ImageQuery())
	if err != nil {
		span.RecordError(err)
		e.logger.LogStageEnd(ctx, "select_images", err)
		return nil, fmt.Errorf("select images: %w", err)
	}

	managed := e.filter.Managed(images)
	span.SetAttributes(attribute.Int("images.count", len(managed)))
	e.logger.WithContext(ctx).Info().
		Int("listed", len(images)).
		Int("managed", len(managed)).
		Msg("selected images")

	return managed, nil
}

// exceeds reports whether failed/total is over ratio. An empty stage never
// exceeds.
func exceeds(failed, total int, ratio float64) bool {
	if total == 0 {
		return false
	}
	return float64(failed)/float64(total) > ratio
}

func limit(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
