package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/amikeeper/internal/config"
)

func TestNewProvider_Disabled(t *testing.T) {
	cfg := config.OTELConfig{
		ServiceName: "test-amikeeper",
		Traces:      config.TracesConfig{Enabled: false},
		Metrics:     config.MetricsConfig{Enabled: false},
	}

	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.NotNil(t, p.Tracer())
	assert.NotNil(t, p.Meter())

	err = p.Shutdown(context.Background())
	require.NoError(t, err)
}

func TestNewProvider_WithEndpoint(t *testing.T) {
	cfg := config.OTELConfig{
		Endpoint:    "localhost:4317",
		Insecure:    true,
		ServiceName: "test-amikeeper",
		Traces:      config.TracesConfig{Enabled: true, SampleRate: 1.0},
		Metrics:     config.MetricsConfig{Enabled: true},
	}

	// Exporters connect lazily, so setup succeeds without a collector.
	p, err := NewProvider(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, p)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestNewProvider_Prometheus(t *testing.T) {
	reg := promclient.NewRegistry()
	p, err := NewProvider(context.Background(), config.OTELConfig{ServiceName: "test-amikeeper"}, WithPrometheus(reg))
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	counter, err := p.Meter().Int64Counter("amikeeper.test.calls")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "amikeeper_test_calls_total")
	assert.NotContains(t, names, "amikeeper.test.calls_total")
}

func TestProvider_StartSpanLogsTraceID(t *testing.T) {
	p, err := NewProvider(context.Background(), config.OTELConfig{ServiceName: "test-amikeeper"})
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()

	saved := log.Logger
	defer func() { log.Logger = saved }()

	var buf bytes.Buffer
	require.NoError(t, SetupLogging(config.LogConfig{Level: "debug"}, &buf))

	ctx, span := p.Tracer().Start(context.Background(), "test-operation")
	NewLogger("test").WithContext(ctx).Info().Msg("inside span")
	span.End()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "inside span", entry["message"])
	assert.Equal(t, "test", entry["component"])
	assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
}

func TestSetupLogging_Levels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SetupLogging(config.LogConfig{Level: "warn"}, &buf))

	logger := NewLogger("test")
	logger.Info().Msg("hidden")
	assert.Zero(t, buf.Len())

	logger.Warn().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	require.Error(t, SetupLogging(config.LogConfig{Level: "loud"}, &buf))
	require.NoError(t, SetupLogging(config.LogConfig{Level: "info"}, &buf))
}

func TestLogger_StageEvents(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, SetupLogging(config.LogConfig{Level: "debug", Format: "json"}, &buf))

	logger := NewLogger("lifecycle")
	logger.LogStageStart(context.Background(), "create_images", 3)
	assert.Contains(t, buf.String(), `"stage":"create_images"`)
	assert.Contains(t, buf.String(), `"items":3`)

	buf.Reset()
	logger.LogStageEnd(context.Background(), "reap_images", assert.AnError)
	assert.Contains(t, buf.String(), `"level":"error"`)
}
