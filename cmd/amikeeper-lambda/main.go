// amikeeper-lambda runs one lifecycle pass per Lambda invocation.
// Configuration comes from the function's environment.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/amikeeper/internal/app"
	"github.com/yairfalse/amikeeper/internal/config"
	"github.com/yairfalse/amikeeper/internal/telemetry"
	"github.com/yairfalse/amikeeper/pkg/backup"
)

func main() {
	lambda.Start(handler{load: config.Load, build: buildRunner}.Handle)
}

// runner is one wired pass plus its telemetry shutdown.
type runner interface {
	Run(ctx context.Context) (backup.Summary, error)
	Shutdown(ctx context.Context) error
}

type handler struct {
	load  func(path string, overrides ...func(*config.Config)) (*config.Config, error)
	build func(ctx context.Context, cfg *config.Config) (runner, error)
}

// Handle ignores the triggering event; every invocation is a full pass.
func (h handler) Handle(ctx context.Context) (backup.Summary, error) {
	cfg, err := h.load("")
	if err != nil {
		return backup.Summary{}, fmt.Errorf("load config: %w", err)
	}
	if err := telemetry.SetupLogging(cfg.Log, nil); err != nil {
		return backup.Summary{}, err
	}

	r, err := h.build(ctx, cfg)
	if err != nil {
		return backup.Summary{}, fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := r.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	return r.Run(ctx)
}

type appRunner struct{ *app.App }

func (a appRunner) Run(ctx context.Context) (backup.Summary, error) {
	return a.Runner.Run(ctx)
}

func buildRunner(ctx context.Context, cfg *config.Config) (runner, error) {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return appRunner{a}, nil
}
