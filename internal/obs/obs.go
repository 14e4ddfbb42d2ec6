// Package obs provides tracing and metrics instrumentation for the agent
// loop and transports. The Tracer interface shape (StartSpan/RecordError)
// is grounded on teradata-labs-loom/pkg/observability.Tracer
// (StartSpan/EndSpan/RecordMetric), reimplemented here against
// real go.opentelemetry.io/otel spans and prometheus/client_golang metrics
// instead of that package's bespoke Hawk export backend, per SPEC_FULL.md's
// domain stack.
package obs

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer instruments operations with spans and records errors on them;
// metrics live in Metrics. Implementations must be safe for concurrent use.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span)
	RecordError(span trace.Span, err error)
}

// otelTracer wraps an otel.Tracer obtained from the global provider.
type otelTracer struct {
	tracer trace.Tracer
}

// NewTracer returns a Tracer backed by the OpenTelemetry global trace
// provider under the given instrumentation name.
func NewTracer(instrumentationName string) Tracer {
	return &otelTracer{tracer: otel.Tracer(instrumentationName)}
}

func (t *otelTracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (t *otelTracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Metrics is the set of Prometheus collectors the agent loop and
// transports publish to, grounded on the counters/histograms that appear
// throughout the pack's server packages (haasonsaas-nexus, vanducng-goclaw)
// wherever they expose a /metrics endpoint.
type Metrics struct {
	PromptsReceived   *prometheus.CounterVec
	ChunksEmitted     *prometheus.CounterVec
	ToolCallsApproved *prometheus.CounterVec
	ToolCallLatency   *prometheus.HistogramVec
	AgentLoopErrors   *prometheus.CounterVec
	ActiveStreams     prometheus.Gauge
}

// NewMetrics registers the agent runtime's collectors against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PromptsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "prompts_received_total",
			Help:      "Prompts accepted from a transport, labeled by source.",
		}, []string{"source"}),
		ChunksEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "response_chunks_emitted_total",
			Help:      "Response chunks emitted to a transport, labeled by source and kind.",
		}, []string{"source", "kind"}),
		ToolCallsApproved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "tool_calls_approved_total",
			Help:      "Tool call approval outcomes, labeled by tool and decision.",
		}, []string{"tool", "decision"}),
		ToolCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentrt",
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call execution latency, labeled by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		AgentLoopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentrt",
			Name:      "agent_loop_errors_total",
			Help:      "Agent loop errors, labeled transient=\"true\" when the turn's context had been cancelled.",
		}, []string{"transient"}),
		ActiveStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentrt",
			Name:      "active_response_streams",
			Help:      "Number of response streams currently buffering or flowing.",
		}),
	}

	reg.MustRegister(
		m.PromptsReceived,
		m.ChunksEmitted,
		m.ToolCallsApproved,
		m.ToolCallLatency,
		m.AgentLoopErrors,
		m.ActiveStreams,
	)
	return m
}
