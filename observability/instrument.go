package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/hupe1980/devmesh/core"
)

// InstrumentedAgent decorates an agent with a span and run metrics.
type InstrumentedAgent struct {
	core.Agent
	metrics *Metrics
	tracer  *TracerProvider
}

// Instrument wraps a. Nil metrics or tracer disable the respective signal.
func Instrument(a core.Agent, m *Metrics, tp *TracerProvider) *InstrumentedAgent {
	return &InstrumentedAgent{Agent: a, metrics: m, tracer: tp}
}

// Unwrap returns the decorated agent.
func (a *InstrumentedAgent) Unwrap() core.Agent { return a.Agent }

// Backing reports the backing of the decorated agent.
func (a *InstrumentedAgent) Backing() core.Backing { return core.BackingOf(a.Agent) }

// Run implements core.Agent.
func (a *InstrumentedAgent) Run(ctx context.Context, req core.Request) (core.Result, error) {
	ctx, span := a.tracer.StartSpan(ctx, SpanAgentRun, AgentAttrs(a.Name(), req.SessionID())...)
	defer span.End()

	start := time.Now()
	res, err := a.Agent.Run(ctx, req)

	status := res.Status()
	if err != nil {
		status = "cancelled"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res.IsError() {
		span.SetStatus(codes.Error, res.ErrorMessage())
	}
	span.SetAttributes(attribute.String(AttrStatus, status))
	a.metrics.ObserveAgentRun(a.Name(), status, time.Since(start))

	return res, err
}
