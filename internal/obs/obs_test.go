package obs

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartSpanReturnsUsableContextAndSpan(t *testing.T) {
	tracer := NewTracer("agentrt-test")
	ctx, span := tracer.StartSpan(context.Background(), "test.operation")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestRecordErrorIsNoOpOnNilError(t *testing.T) {
	tracer := NewTracer("agentrt-test")
	_, span := tracer.StartSpan(context.Background(), "test.operation")
	defer span.End()

	assert.NotPanics(t, func() { tracer.RecordError(span, nil) })
}

func TestNewMetricsRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.PromptsReceived.WithLabelValues("webUi").Inc()
	m.ChunksEmitted.WithLabelValues("webUi", "delta").Inc()
	m.ActiveStreams.Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["agentrt_prompts_received_total"])
	assert.True(t, names["agentrt_response_chunks_emitted_total"])
	assert.True(t, names["agentrt_active_response_streams"])

	var gaugeValue float64
	for _, f := range families {
		if f.GetName() == "agentrt_active_response_streams" {
			gaugeValue = f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(3), gaugeValue)
}
