package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	options "github.com/kart-io/inventory-rag/pkg/options/tracing"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(context.Background(), "inventory-rag", "test", nil)
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_Stdout(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = options.ExporterStdout

	p, err := NewProvider(context.Background(), "inventory-rag", "test", opts)
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_UnsupportedExporter(t *testing.T) {
	opts := options.NewOptions()
	opts.Enabled = true
	opts.ExporterType = "zipkin"

	_, err := NewProvider(context.Background(), "inventory-rag", "test", opts)
	assert.Error(t, err)
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		sampler options.SamplerType
		want    string
	}{
		{options.SamplerAlwaysOn, sdktrace.AlwaysSample().Description()},
		{options.SamplerAlwaysOff, sdktrace.NeverSample().Description()},
		{options.SamplerRatio, sdktrace.TraceIDRatioBased(0.5).Description()},
		{options.SamplerParentBased, sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5)).Description()},
	}

	for _, tt := range tests {
		t.Run(string(tt.sampler), func(t *testing.T) {
			s := newSampler(&options.Options{SamplerType: tt.sampler, SamplerRatio: 0.5})
			assert.Equal(t, tt.want, s.Description())
		})
	}
}

func TestOptionsValidate(t *testing.T) {
	assert.Empty(t, options.NewOptions().Validate(), "disabled tracing is valid")

	opts := options.NewOptions()
	opts.Enabled = true
	assert.Empty(t, opts.Validate())

	opts.Endpoint = ""
	opts.SamplerRatio = 2
	opts.SamplerType = "sometimes"
	assert.Len(t, opts.Validate(), 3)
}
