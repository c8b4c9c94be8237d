package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/amikeeper/pkg/backup"
	"github.com/yairfalse/amikeeper/pkg/imagename"
)

// State is where an image stands relative to its encoded expiry.
type State string

const (
	StateAlive     State = "alive"
	StateExpired   State = "expired"
	StateUnmanaged State = "unmanaged"
)

// Classify decodes the image name and compares its expiry to now. Images
// whose name does not parse are unmanaged.
func Classify(img backup.Image, now time.Time) (imagename.Name, State) {
	name, err := imagename.Parse(img.Name)
	if err != nil {
		return imagename.Name{}, StateUnmanaged
	}
	if name.ExpiredAt(now) {
		return name, StateExpired
	}
	return name, StateAlive
}

type expiredImage struct {
	image backup.Image
	name  imagename.Name
}

// ReapImages deregisters every expired image and deletes its snapshots.
// Unparseable names are skipped. Item failures are recorded on the
// deletion; the stage returns ErrReapThreshold only when the failed
// fraction is over MaxReapFailureRatio.
func (e *Engine) ReapImages(ctx context.Context, images []backup.Image, now time.Time) ([]backup.Deletion, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.reap_images")
	defer span.End()

	e.logger.LogStageStart(ctx, "reap_images", len(images))

	var expired []expiredImage
	for _, img := range images {
		name, state := Classify(img, now)
		switch state {
		case StateUnmanaged:
			e.logger.WithContext(ctx).Debug().
				Str("image_id", img.ID).
				Str("image_name", img.Name).
				Msg("skipping image with unparseable name")
			e.metrics.RecordSkipped(ctx, string(state))
		case StateAlive:
			e.metrics.RecordSkipped(ctx, string(state))
		case StateExpired:
			expired = append(expired, expiredImage{image: img, name: name})
		}
	}

	results := make([]backup.Deletion, len(expired))

	var g errgroup.Group
	g.SetLimit(limit(e.opts.ReapConcurrency))
	for i, x := range expired {
		g.Go(func() error {
			results[i] = e.reapOne(ctx, x, now)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, d := range results {
		if d.Status == backup.StatusFailed || d.Status == backup.StatusPartial {
			failed++
		}
	}
	span.SetAttributes(
		attribute.Int("images.scanned", len(images)),
		attribute.Int("images.expired", len(expired)),
		attribute.Int("images.failed", failed),
	)

	if exceeds(failed, len(results), e.opts.MaxReapFailureRatio) {
		err := fmt.Errorf("%w: %d of %d failed", ErrReapThreshold, failed, len(results))
		span.RecordError(err)
		e.logger.LogStageEnd(ctx, "reap_images", err)
		return results, err
	}

	e.logger.LogStageEnd(ctx, "reap_images", nil)
	return results, nil
}

func (e *Engine) reapOne(ctx context.Context, x expiredImage, now time.Time) backup.Deletion {
	d := backup.Deletion{
		ImageID:   x.image.ID,
		ImageName: x.image.Name,
		ExpiredAt: x.name.Expiry().UTC(),
	}

	logger := e.logger.WithContext(ctx).With().
		Str("image_id", x.image.ID).
		Int64("expiry", x.name.ExpiryMillis).
		Logger()

	if e.guard != nil {
		protected, err := e.guard.Protect(ctx, x.image, x.name.Expiry(), now)
		if err != nil {
			protected = true
			logger.Warn().Err(err).Msg("protection policy failed, keeping image")
		}
		if protected {
			d.Status = backup.StatusProtected
			logger.Info().Msg("expired image protected by policy")
			e.metrics.RecordDeletion(ctx, string(d.Status))
			return d
		}
	}

	snapshotIDs := x.image.SnapshotIDs()

	if e.opts.DryRun {
		d.Status = backup.StatusDryRun
		for _, id := range snapshotIDs {
			d.Snapshots = append(d.Snapshots, backup.SnapshotDeletion{SnapshotID: id, Status: backup.StatusDryRun})
		}
		logger.Info().Strs("snapshots", snapshotIDs).Msg("dry run: would deregister image")
		e.metrics.RecordDeletion(ctx, string(d.Status))
		return d
	}

	if err := e.provider.DeregisterImage(ctx, x.image.ID); err != nil {
		d.Status = backup.StatusFailed
		d.Error = err.Error()
		logger.Error().Err(err).Msg("deregister failed")
		e.metrics.RecordDeletion(ctx, string(d.Status))
		return d
	}

	d.Snapshots = e.deleteSnapshots(ctx, snapshotIDs, logger)

	d.Status = backup.StatusSuccess
	for _, sd := range d.Snapshots {
		if sd.Status == backup.StatusFailed {
			d.Status = backup.StatusPartial
			break
		}
	}

	logger.Info().
		Str("status", string(d.Status)).
		Int("snapshots", len(d.Snapshots)).
		Msg("image deregistered")
	e.metrics.RecordDeletion(ctx, string(d.Status))
	return d
}

// deleteSnapshots removes every snapshot and joins before returning.
func (e *Engine) deleteSnapshots(ctx context.Context, ids []string, logger zerolog.Logger) []backup.SnapshotDeletion {
	if len(ids) == 0 {
		return nil
	}

	results := make([]backup.SnapshotDeletion, len(ids))

	var g errgroup.Group
	g.SetLimit(limit(e.opts.SnapshotConcurrency))
	for i, id := range ids {
		g.Go(func() error {
			sd := backup.SnapshotDeletion{SnapshotID: id, Status: backup.StatusSuccess}
			if err := e.provider.DeleteSnapshot(ctx, id); err != nil {
				sd.Status = backup.StatusFailed
				sd.Error = err.Error()
				logger.Error().Err(err).Str("snapshot_id", id).Msg("snapshot deletion failed")
			} else {
				logger.Debug().Str("snapshot_id", id).Msg("snapshot deleted")
			}
			e.metrics.RecordSnapshot(ctx, string(sd.Status))
			results[i] = sd
			return nil
		})
	}
	_ = g.Wait()

	return results
}
