package lifecycle

import (
	"context"

	"github.com/yairfalse/amikeeper/internal/telemetry"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

// Pipeline is one lifecycle pass.
type Pipeline interface {
	Run(ctx context.Context) (backup.Summary, error)
}

// Reporter delivers the outcome of a run.
type Reporter interface {
	Report(ctx context.Context, summary backup.Summary, runErr error) error
}

// Runner runs a pipeline and sends exactly one report for it.
type Runner struct {
	pipeline Pipeline
	reporter Reporter
	logger   *telemetry.Logger
}

// NewRunner creates a runner. A nil reporter sends nothing.
func NewRunner(p Pipeline, r Reporter) *Runner {
	return &Runner{
		pipeline: p,
		reporter: r,
		logger:   telemetry.NewLogger("runner"),
	}
}

// Run executes the pipeline, then reports. Report delivery errors are
// logged and never change the returned error.
func (r *Runner) Run(ctx context.Context) (backup.Summary, error) {
	summary, runErr := r.pipeline.Run(ctx)

	if r.reporter != nil {
		// The report still goes out when ctx was cancelled mid-run.
		if err := r.reporter.Report(context.WithoutCancel(ctx), summary, runErr); err != nil {
			r.logger.WithContext(ctx).Error().
				Err(err).
				Msg("failed to deliver report")
		}
	}

	return summary, runErr
}
