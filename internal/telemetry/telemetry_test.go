package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/config2flow/config"
)

// 测试会替换全局 provider，结束后恢复
func keepGlobals(t *testing.T) {
	t.Helper()
	tp, mp := otel.GetTracerProvider(), otel.GetMeterProvider()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
	})
}

// 没有 collector 时 Shutdown 可能报连接错误，只要求按时返回
func shutdownQuietly(t *testing.T, p *Providers) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestInit_DisabledIsNoop(t *testing.T) {
	keepGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Same(t, before, otel.GetTracerProvider(), "global provider untouched")
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_EnabledInstallsSDKProviders(t *testing.T) {
	keepGlobals(t)

	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		SampleRate:   0.5,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { shutdownQuietly(t, p) })

	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)
	assert.IsType(t, &sdktrace.TracerProvider{}, otel.GetTracerProvider())
	assert.IsType(t, &sdkmetric.MeterProvider{}, otel.GetMeterProvider())
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion_Dev(t *testing.T) {
	// go test 构建出的 Main.Version 是 "(devel)"
	assert.Equal(t, "dev", buildVersion())
}

func TestStartSpan_RecordsError(t *testing.T) {
	keepGlobals(t)
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	_, ok := StartSpan(context.Background(), "workflow.run", attribute.String("workflow", "demo"))
	EndSpan(ok, nil)
	_, failed := StartSpan(context.Background(), "agent.run")
	EndSpan(failed, errors.New("provider down"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "workflow.run", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("workflow", "demo"))
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "provider down", spans[1].Status().Description)
	require.Len(t, spans[1].Events(), 1, "error recorded as event")
}

func TestStartSpan_ChildSharesTrace(t *testing.T) {
	keepGlobals(t)
	recorder := tracetest.NewSpanRecorder()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)))

	ctx, parent := StartSpan(context.Background(), "workflow.run")
	_, child := StartSpan(ctx, "workflow.tier")
	EndSpan(child, nil)
	EndSpan(parent, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, spans[1].SpanContext().TraceID(), spans[0].SpanContext().TraceID())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}
