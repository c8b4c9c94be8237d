package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/amikeeper/internal/config"
)

// OTELHook adds trace and span IDs to every log entry that carries a context.
type OTELHook struct{}

func (h OTELHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == nil {
		return
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return
	}

	e.Str("trace_id", span.SpanContext().TraceID().String())
	e.Str("span_id", span.SpanContext().SpanID().String())

	if level == zerolog.ErrorLevel {
		span.SetStatus(codes.Error, msg)
	}
}

// SetupLogging configures the global logger from cfg. Output goes to w,
// stderr when w is nil.
func SetupLogging(cfg config.LogConfig, w io.Writer) error {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	if cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	log.Logger = zerolog.New(w).
		With().
		Timestamp().
		Str("service", "amikeeper").
		Logger().
		Hook(OTELHook{})

	return nil
}

// Logger wraps zerolog with OTEL integration.
type Logger struct {
	zerolog.Logger
}

// NewLogger derives a component logger from the global logger.
func NewLogger(component string) *Logger {
	return &Logger{Logger: log.Logger.With().Str("component", component).Logger()}
}

// WithContext returns a logger bound to ctx so the hook can read its span.
func (l *Logger) WithContext(ctx context.Context) *zerolog.Logger {
	logger := l.Logger.With().Ctx(ctx).Logger()
	return &logger
}

// LogStageStart logs the start of a pipeline stage.
func (l *Logger) LogStageStart(ctx context.Context, stage string, items int) {
	l.WithContext(ctx).Info().
		Str("stage", stage).
		Int("items", items).
		Msg("stage started")
}

// LogStageEnd logs the end of a pipeline stage.
func (l *Logger) LogStageEnd(ctx context.Context, stage string, err error) {
	logger := l.WithContext(ctx)

	if err != nil {
		logger.Error().
			Err(err).
			Str("stage", stage).
			Msg("stage failed")
		return
	}
	logger.Debug().
		Str("stage", stage).
		Msg("stage completed")
}
