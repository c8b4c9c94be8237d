// Package app wires configuration into a ready-to-run lifecycle. The CLI,
// the daemon and the Lambda handler share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yairfalse/amikeeper/internal/config"
	"github.com/yairfalse/amikeeper/internal/filter"
	"github.com/yairfalse/amikeeper/internal/lifecycle"
	"github.com/yairfalse/amikeeper/internal/metrics"
	"github.com/yairfalse/amikeeper/internal/notify"
	"github.com/yairfalse/amikeeper/internal/policy"
	awsprovider "github.com/yairfalse/amikeeper/internal/provider/aws"
	"github.com/yairfalse/amikeeper/internal/telemetry"
)

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Provider  *awsprovider.Provider
	Filter    *filter.Filter
	Engine    *lifecycle.Engine
	Runner    *lifecycle.Runner
	Telemetry *telemetry.Provider
}

// Option configures New.
type Option func(*settings)

type settings struct {
	registerer prometheus.Registerer
}

// WithPrometheus exposes lifecycle metrics through reg.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(s *settings) { s.registerer = reg }
}

// New builds every component from cfg.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var s settings
	for _, o := range opts {
		o(&s)
	}

	var telOpts []telemetry.Option
	if s.registerer != nil {
		telOpts = append(telOpts, telemetry.WithPrometheus(s.registerer))
	}
	tp, err := telemetry.NewProvider(ctx, cfg.OTEL, telOpts...)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}

	a, err := build(ctx, cfg, tp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, tp *telemetry.Provider) (*App, error) {
	rec, err := metrics.New(tp.Meter())
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	awsCfg, err := awsprovider.LoadConfig(ctx, awsprovider.Config{Region: cfg.Region, Profile: cfg.Profile})
	if err != nil {
		return nil, err
	}
	prov := awsprovider.New(awsCfg)
	f := filter.New(cfg.MarkerTag, cfg.Image.ReservedTagPrefix)

	engineOpts, err := EngineOptions(cfg)
	if err != nil {
		return nil, err
	}

	options := []lifecycle.Option{
		lifecycle.WithMetrics(rec),
		lifecycle.WithTracer(tp.Tracer()),
	}
	if cfg.Policy.File != "" {
		guard, err := policy.LoadFile(ctx, cfg.Policy.File)
		if err != nil {
			return nil, err
		}
		options = append(options, lifecycle.WithGuard(guard))
	}
	engine := lifecycle.New(prov, f, engineOpts, options...)

	notifier, err := NewNotifier(awsCfg, cfg.Notify)
	if err != nil {
		return nil, err
	}
	reporter := notify.NewReporter(notifier, ReportConfig(cfg))

	return &App{
		Config:    cfg,
		Provider:  prov,
		Filter:    f,
		Engine:    engine,
		Runner:    lifecycle.NewRunner(engine, reporter),
		Telemetry: tp,
	}, nil
}

// EngineOptions maps configuration onto lifecycle options.
func EngineOptions(cfg *config.Config) (lifecycle.Options, error) {
	rp, err := cfg.RetentionPolicy()
	if err != nil {
		return lifecycle.Options{}, fmt.Errorf("retention: %w", err)
	}
	return lifecycle.Options{
		Retention:             rp,
		NoReboot:              !cfg.Image.Reboot,
		DryRun:                cfg.DryRun,
		CreateConcurrency:     cfg.CreateConcurrency(),
		ReapConcurrency:       cfg.ReapConcurrency(),
		SnapshotConcurrency:   cfg.SnapshotConcurrency(),
		MaxCreateFailureRatio: cfg.CreateFailureRatio(),
		MaxReapFailureRatio:   cfg.ReapFailureRatio(),
	}, nil
}

// NewNotifier returns the notifier for the configured channels. More than
// one channel yields a MultiNotifier sending to each.
func NewNotifier(awsCfg aws.Config, cfg config.NotifyConfig) (notify.Notifier, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New("no notify channel configured")
	}

	notifiers := make([]notify.Notifier, 0, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		n, err := newChannel(awsCfg, cfg, ch)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, n)
	}

	if len(notifiers) == 1 {
		return notifiers[0], nil
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

func newChannel(awsCfg aws.Config, cfg config.NotifyConfig, channel string) (notify.Notifier, error) {
	switch channel {
	case config.ChannelSES:
		return notify.NewSESNotifier(awsCfg), nil
	case config.ChannelSNS:
		return notify.NewSNSNotifier(awsCfg, cfg.SNSTopicARN), nil
	case config.ChannelLog:
		return notify.NewLogNotifier(), nil
	default:
		return nil, fmt.Errorf("unknown notify channel %q", channel)
	}
}

// ReportConfig addresses reports from configuration.
func ReportConfig(cfg *config.Config) notify.ReportConfig {
	return notify.ReportConfig{
		Sender:        cfg.Notify.Sender,
		To:            cfg.Notify.To,
		Cc:            cfg.Notify.Cc,
		SubjectPrefix: cfg.Notify.SubjectPrefix,
		MarkerTag:     cfg.MarkerTag,
	}
}

// Shutdown flushes telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	return a.Telemetry.Shutdown(ctx)
}
