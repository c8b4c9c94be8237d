// Package metrics records lifecycle outcomes using OTEL instruments.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Recorder holds the lifecycle instruments. A nil *Recorder is valid and
// records nothing.
type Recorder struct {
	runs             metric.Int64Counter
	runDuration      metric.Float64Histogram
	imagesCreated    metric.Int64Counter
	imagesDeleted    metric.Int64Counter
	snapshotsDeleted metric.Int64Counter
	itemsSkipped     metric.Int64Counter
}

// New creates a Recorder from meter, or from the global meter provider
// when meter is nil.
func New(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = otel.Meter("amikeeper")
	}

	runs, err := meter.Int64Counter(
		"amikeeper.runs",
		metric.WithDescription("Number of lifecycle runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDuration, err := meter.Float64Histogram(
		"amikeeper.run.duration",
		metric.WithDescription("Duration of lifecycle runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	imagesCreated, err := meter.Int64Counter(
		"amikeeper.images.created",
		metric.WithDescription("Images created from instances"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		return nil, err
	}

	imagesDeleted, err := meter.Int64Counter(
		"amikeeper.images.deregistered",
		metric.WithDescription("Expired images deregistered"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		return nil, err
	}

	snapshotsDeleted, err := meter.Int64Counter(
		"amikeeper.snapshots.deleted",
		metric.WithDescription("Snapshots deleted behind expired images"),
		metric.WithUnit("{snapshot}"),
	)
	if err != nil {
		return nil, err
	}

	itemsSkipped, err := meter.Int64Counter(
		"amikeeper.items.skipped",
		metric.WithDescription("Images skipped by the reaper"),
		metric.WithUnit("{image}"),
	)
	if err != nil {
		return nil, err
	}

	return &Recorder{
		runs:             runs,
		runDuration:      runDuration,
		imagesCreated:    imagesCreated,
		imagesDeleted:    imagesDeleted,
		snapshotsDeleted: snapshotsDeleted,
		itemsSkipped:     itemsSkipped,
	}, nil
}

// RecordRun records a finished run and its duration.
func (r *Recorder) RecordRun(ctx context.Context, status string, d time.Duration) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	r.runs.Add(ctx, 1, attrs)
	r.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordCreation records one image creation outcome.
func (r *Recorder) RecordCreation(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.imagesCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordDeletion records one image deregistration outcome.
func (r *Recorder) RecordDeletion(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.imagesDeleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSnapshot records one snapshot deletion outcome.
func (r *Recorder) RecordSnapshot(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.snapshotsDeleted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSkipped records an image the reaper left alone, with the reason.
func (r *Recorder) RecordSkipped(ctx context.Context, reason string) {
	if r == nil {
		return
	}
	r.itemsSkipped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}
