package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/amikeeper/pkg/backup"
	"github.com/yairfalse/amikeeper/pkg/imagename"
)

// CreateImages snapshots every instance into an image expiring at
// Retention.ExpiryAt(t0). Items fail independently; the stage returns
// ErrCreateThreshold when the failed fraction is over MaxCreateFailureRatio.
func (e *Engine) CreateImages(ctx context.Context, instances []backup.Instance, t0 time.Time) ([]backup.Creation, error) {
	ctx, span := e.tracer.Start(ctx, "lifecycle.create_images")
	defer span.End()

	expiry := e.opts.Retention.ExpiryAt(t0)
	description := t0.In(e.opts.Retention.Loc()).Format(time.RFC3339)

	e.logger.LogStageStart(ctx, "create_images", len(instances))

	results := make([]backup.Creation, len(instances))

	var g errgroup.Group
	g.SetLimit(limit(e.opts.CreateConcurrency))
	for i, inst := range instances {
		g.Go(func() error {
			results[i] = e.createOne(ctx, inst, expiry, description)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, c := range results {
		if c.Status == backup.StatusFailed {
			failed++
		}
	}
	span.SetAttributes(
		attribute.Int("images.requested", len(instances)),
		attribute.Int("images.failed", failed),
	)

	if exceeds(failed, len(results), e.opts.MaxCreateFailureRatio) {
		err := fmt.Errorf("%w: %d of %d failed", ErrCreateThreshold, failed, len(results))
		span.RecordError(err)
		e.logger.LogStageEnd(ctx, "create_images", err)
		return results, err
	}

	e.logger.LogStageEnd(ctx, "create_images", nil)
	return results, nil
}

func (e *Engine) createOne(ctx context.Context, inst backup.Instance, expiry time.Time, createdAt string) backup.Creation {
	name := imagename.Format(inst.ID, expiry)
	c := backup.Creation{
		InstanceID: inst.ID,
		ImageName:  name,
		ExpiresAt:  expiry.UTC(),
	}

	logger := e.logger.WithContext(ctx).With().
		Str("instance_id", inst.ID).
		Str("image_name", name).
		Int64("expiry", expiry.UnixMilli()).
		Logger()

	if e.opts.DryRun {
		c.Status = backup.StatusDryRun
		logger.Info().Msg("dry run: would create image")
		e.metrics.RecordCreation(ctx, string(c.Status))
		return c
	}

	imageID, err := e.provider.CreateImage(ctx, backup.ImageSpec{
		InstanceID:  inst.ID,
		Name:        name,
		Description: fmt.Sprintf("AMI of %s created at %s", inst.ID, createdAt),
		NoReboot:    e.opts.NoReboot,
	})
	if err != nil {
		return e.creationFailed(ctx, c, err)
	}
	c.ImageID = imageID

	tags := e.filter.CopyableTags(inst.Tags)
	tags[imagename.ExpiryTagKey] = imagename.FormatMillis(expiry)
	if err := e.provider.TagImage(ctx, imageID, tags); err != nil {
		return e.creationFailed(ctx, c, err)
	}

	c.Status = backup.StatusSuccess
	logger.Info().Str("image_id", imageID).Msg("image created")
	e.metrics.RecordCreation(ctx, string(c.Status))
	return c
}

func (e *Engine) creationFailed(ctx context.Context, c backup.Creation, err error) backup.Creation {
	c.Status = backup.StatusFailed
	c.Error = err.Error()

	e.logger.WithContext(ctx).Error().
		Err(err).
		Str("instance_id", c.InstanceID).
		Str("image_id", c.ImageID).
		Msg("image creation failed")
	e.metrics.RecordCreation(ctx, string(c.Status))
	return c
}
