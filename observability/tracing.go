package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/hupe1980/devmesh"

// TracingConfig configures distributed tracing.
type TracingConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	SampleRatio    float64
	ServiceName    string
	ServiceVersion string
}

// TracerProvider wraps an OpenTelemetry tracer. A disabled provider hands out
// a noop tracer.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NoopTracerProvider returns a provider whose spans are discarded.
func NoopTracerProvider() *TracerProvider {
	return &TracerProvider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

// NewTracerProvider creates a tracer provider exporting over OTLP/HTTP.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return NoopTracerProvider(), nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "devmesh"
	}
	if cfg.SampleRatio <= 0 || cfg.SampleRatio > 1 {
		cfg.SampleRatio = 1
	}
	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(provider)

	return &TracerProvider{provider: provider, tracer: provider.Tracer(tracerName)}, nil
}

// Shutdown flushes and stops the exporter.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.provider == nil {
		return nil
	}
	return tp.provider.Shutdown(ctx)
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	if tp == nil {
		return noop.NewTracerProvider().Tracer(tracerName)
	}
	return tp.tracer
}

// StartSpan starts a span named name.
func (tp *TracerProvider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tp.Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// Span names.
const (
	SpanAgentRun   = "devmesh.agent.run"
	SpanDelegate   = "devmesh.delegation.delegate"
	SpanTransfer   = "devmesh.delegation.transfer"
	SpanToolCall   = "devmesh.tool.call"
	SpanLLMCall    = "devmesh.llm.generate"
	SpanCodeRun    = "devmesh.code.execute"
	SpanHTTPServer = "devmesh.http.request"
)

// Attribute keys.
const (
	AttrAgent        = "devmesh.agent"
	AttrSessionID    = "devmesh.session_id"
	AttrStatus       = "devmesh.status"
	AttrTargetAgent  = "devmesh.target_agent"
	AttrDelegationID = "devmesh.delegation_id"
	AttrToolName     = "devmesh.tool_name"
	AttrModel        = "devmesh.llm.model"
	AttrIteration    = "devmesh.iteration"
)

// AgentAttrs returns the attributes describing an agent run.
func AgentAttrs(agent, sessionID string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(AttrAgent, agent)}
	if sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, sessionID))
	}
	return attrs
}
