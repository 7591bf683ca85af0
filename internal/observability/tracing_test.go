package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamplerFor(t *testing.T) {
	assert.Contains(t, samplerFor(1).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, samplerFor(2).Description(), "root:AlwaysOnSampler")
	assert.Contains(t, samplerFor(0).Description(), "root:AlwaysOffSampler")
	assert.Contains(t, samplerFor(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestNewExporter(t *testing.T) {
	ctx := context.Background()

	_, err := newExporter(ctx, TracingConfig{Exporter: ExporterOTLP})
	assert.ErrorContains(t, err, "OTLP_ENDPOINT")

	_, err = newExporter(ctx, TracingConfig{Exporter: "zipkin"})
	assert.ErrorContains(t, err, "zipkin")

	exp, err := newExporter(ctx, TracingConfig{Exporter: "STDOUT"})
	require.NoError(t, err)
	assert.NoError(t, exp.Shutdown(ctx))
}

func TestInitTracingRejectsBadExporter(t *testing.T) {
	shutdown, err := InitTracing(TracingConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}
