// Package observability provides Prometheus metrics, OpenTelemetry tracing and
// an agent decorator that records both for every run.
package observability

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "devmesh"

// Metrics exposes the Prometheus collectors reporting mesh activity. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	agentRuns       *prometheus.CounterVec
	agentDuration   *prometheus.HistogramVec
	delegations     *prometheus.CounterVec
	transfers       *prometheus.CounterVec
	toolCalls       *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	llmCalls        *prometheus.CounterVec
	codeExecutions  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	wsConnections   prometheus.Gauge
	activeSessions  prometheus.Gauge
	securityBlocked *prometheus.CounterVec
}

// MustNewMetrics constructs Metrics registered on reg. Registration errors
// other than duplicate registration panic. Pass a fresh registry in tests.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		agentRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "agent", Name: "runs_total",
			Help: "Agent runs partitioned by result status.",
		}, []string{"agent", "status"}),
		agentDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "agent", Name: "run_duration_seconds",
			Help: "Duration of agent runs.", Buckets: prometheus.DefBuckets,
		}, []string{"agent"}),
		delegations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delegation", Name: "total",
			Help: "Delegations between agents partitioned by outcome.",
		}, []string{"from", "to", "status"}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delegation", Name: "transfers_total",
			Help: "Control transfers between agents.",
		}, []string{"from", "to"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tool", Name: "calls_total",
			Help: "Tool invocations partitioned by result status.",
		}, []string{"tool", "status"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "tool", Name: "call_duration_seconds",
			Help: "Duration of tool invocations.", Buckets: prometheus.DefBuckets,
		}, []string{"tool"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "llm", Name: "calls_total",
			Help: "Model calls partitioned by outcome.",
		}, []string{"model", "status"}),
		codeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "code", Name: "executions_total",
			Help: "Code executions partitioned by outcome.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests partitioned by route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "HTTP request latency.", Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Open WebSocket connections.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active",
			Help: "Sessions currently held by the session store.",
		}),
		securityBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "security", Name: "blocked_total",
			Help: "Requests blocked by the security guard.",
		}, []string{"reason"}),
	}

	m.agentRuns = register(reg, m.agentRuns)
	m.agentDuration = register(reg, m.agentDuration)
	m.delegations = register(reg, m.delegations)
	m.transfers = register(reg, m.transfers)
	m.toolCalls = register(reg, m.toolCalls)
	m.toolDuration = register(reg, m.toolDuration)
	m.llmCalls = register(reg, m.llmCalls)
	m.codeExecutions = register(reg, m.codeExecutions)
	m.httpRequests = register(reg, m.httpRequests)
	m.httpDuration = register(reg, m.httpDuration)
	m.wsConnections = register(reg, m.wsConnections)
	m.activeSessions = register(reg, m.activeSessions)
	m.securityBlocked = register(reg, m.securityBlocked)

	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveAgentRun records one agent run.
func (m *Metrics) ObserveAgentRun(agent, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.agentRuns.WithLabelValues(agent, status).Inc()
	m.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// IncDelegation records one delegation.
func (m *Metrics) IncDelegation(from, to, status string) {
	if m == nil {
		return
	}
	m.delegations.WithLabelValues(from, to, status).Inc()
}

// IncTransfer records one control transfer.
func (m *Metrics) IncTransfer(from, to string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(from, to).Inc()
}

// ObserveToolCall records one tool invocation.
func (m *Metrics) ObserveToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// IncLLMCall records one model call.
func (m *Metrics) IncLLMCall(model, status string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(model, status).Inc()
}

// IncCodeExecution records one code execution outcome.
func (m *Metrics) IncCodeExecution(status string) {
	if m == nil {
		return
	}
	m.codeExecutions.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest records one HTTP request.
func (m *Metrics) ObserveHTTPRequest(method, route, code string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, code).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// WSConnected adjusts the open WebSocket connection gauge by delta.
func (m *Metrics) WSConnected(delta int) {
	if m == nil {
		return
	}
	m.wsConnections.Add(float64(delta))
}

// SetActiveSessions sets the active session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// IncSecurityBlocked records one blocked request.
func (m *Metrics) IncSecurityBlocked(reason string) {
	if m == nil {
		return
	}
	m.securityBlocked.WithLabelValues(reason).Inc()
}
