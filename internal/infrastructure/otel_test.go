package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"eduetl/internal/config"
)

func TestOTelConfigFrom(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{
		TraceExporter:  "stdout",
		MetricExporter: "none",
		SampleRatio:    0.5,
		Environment:    "test",
	})

	assert.Equal(t, ServiceName, cfg.ServiceName)
	assert.Equal(t, config.AppVersion, cfg.ServiceVersion)
	assert.Equal(t, "stdout", cfg.TraceExporter)
	assert.Equal(t, 0.5, cfg.SampleRatio)
}

func TestInitializeOTelDisabled(t *testing.T) {
	logger := NewLoggerWithWriter(&bytes.Buffer{}, "info")
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    ServiceName,
		TraceExporter:  "none",
		MetricExporter: "none",
	}, logger)
	require.NoError(t, err)

	assert.Nil(t, providers.TracerProvider)
	assert.Nil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.Nil(t, providers.PrometheusHTTP)
	assert.NoError(t, providers.Shutdown(context.Background()))
}

func TestInitializeOTelStdoutTracing(t *testing.T) {
	logger := NewLoggerWithWriter(&bytes.Buffer{}, "info")
	providers, err := InitializeOTel(&OTelConfig{
		ServiceName:    ServiceName,
		TraceExporter:  "stdout",
		MetricExporter: "none",
		SampleRatio:    1,
	}, logger)
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	ctx, span := providers.Tracer.Start(context.Background(), "test-operation")
	defer span.End()

	assert.Equal(t, span.SpanContext().TraceID().String(), TraceIDFromContext(ctx))
	RecordError(ctx, errors.New("boom"))
}

func TestInitializeOTelUnsupportedExporter(t *testing.T) {
	logger := NewLoggerWithWriter(&bytes.Buffer{}, "info")
	_, err := InitializeOTel(&OTelConfig{TraceExporter: "otlp"}, logger)
	assert.Error(t, err)

	_, err = InitializeOTel(&OTelConfig{TraceExporter: "none", MetricExporter: "statsd"}, logger)
	assert.Error(t, err)
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if data, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	return sums
}

func TestPipelineMetricsRecording(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	metrics, err := CreatePipelineMetrics(mp.Meter(MeterName))
	require.NoError(t, err)

	ctx := context.Background()
	RecordRunMetrics(ctx, metrics, "full", time.Second, nil)
	RecordStepMetrics(ctx, metrics, "ingest-2022", time.Second, nil)
	RecordStepMetrics(ctx, metrics, "transform", time.Second, errors.New("missing year"))
	RecordRecords(ctx, metrics, "staged", 42)
	RecordRecords(ctx, metrics, "staged", 8)

	sums := collect(t, reader)
	assert.Equal(t, int64(1), sums["pipeline_runs_total"])
	assert.Equal(t, int64(2), sums["pipeline_steps_total"])
	assert.Equal(t, int64(1), sums["pipeline_step_errors_total"])
	assert.Equal(t, int64(50), sums["pipeline_records_total"])
}

func TestRecordHelpersTolerateNilMetrics(t *testing.T) {
	ctx := context.Background()
	assert.NotPanics(t, func() {
		RecordRunMetrics(ctx, nil, "full", time.Second, nil)
		RecordStepMetrics(ctx, nil, "x", time.Second, nil)
		RecordRecords(ctx, nil, "staged", 1)
		RecordRecords(ctx, NoopPipelineMetrics(), "staged", 1)
	})
}
