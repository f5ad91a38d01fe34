package analytics

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/richinex/chronicle/events"
)

const metricsNamespace = "chronicle"

// Telemetry exposes live Prometheus metrics fed from the event bus.
//
// Thread Safety: All operations are thread-safe via Prometheus's internal locking.
type Telemetry struct {
	// ToolInvocations counts finished tool calls.
	// Labels: agent, tool, status (success, error, timeout)
	ToolInvocations *prometheus.CounterVec

	// ToolDuration measures tool call latency.
	// Labels: agent, tool
	ToolDuration *prometheus.HistogramVec

	// Sessions counts session lifecycle transitions.
	// Labels: agent, outcome (started, completed)
	Sessions *prometheus.CounterVec

	// ActiveSessions tracks runs that have started and not yet completed.
	// Runs that fail never publish an end, so their gauge stays raised.
	// Labels: agent
	ActiveSessions *prometheus.GaugeVec

	mu    sync.Mutex
	bus   *events.Bus
	subID string
}

// NewTelemetry creates the collectors and registers them on reg.
// Panics if reg already holds collectors with the same names.
func NewTelemetry(reg prometheus.Registerer) *Telemetry {
	factory := promauto.With(reg)

	return &Telemetry{
		ToolInvocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_invocations_total",
				Help:      "Total tool invocations by agent, tool and status",
			},
			[]string{"agent", "tool", "status"},
		),
		ToolDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "tool_duration_seconds",
				Help:      "Tool invocation duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
			},
			[]string{"agent", "tool"},
		),
		Sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sessions_total",
				Help:      "Total sessions by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),
		ActiveSessions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_sessions",
				Help:      "Number of tool loops currently running",
			},
			[]string{"agent"},
		),
	}
}

// Attach subscribes the collectors to every event on bus.
func (t *Telemetry) Attach(bus *events.Bus) {
	t.Detach()

	id := bus.SubscribeAll(t.Handle)

	t.mu.Lock()
	t.bus, t.subID = bus, id
	t.mu.Unlock()
}

// Detach unsubscribes the collectors. Safe to call when not attached.
func (t *Telemetry) Detach() {
	t.mu.Lock()
	bus, id := t.bus, t.subID
	t.bus, t.subID = nil, ""
	t.mu.Unlock()

	if bus != nil {
		bus.Unsubscribe(id)
	}
}

// Handle updates the collectors for one event.
func (t *Telemetry) Handle(_ context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.SessionStart:
		t.Sessions.WithLabelValues(e.AgentKey, "started").Inc()
		t.ActiveSessions.WithLabelValues(e.AgentKey).Inc()
	case events.SessionEnd:
		t.Sessions.WithLabelValues(e.AgentKey, "completed").Inc()
		t.ActiveSessions.WithLabelValues(e.AgentKey).Dec()
	case events.ToolComplete:
		t.ToolInvocations.WithLabelValues(e.AgentKey, e.ToolName, "success").Inc()
		t.ToolDuration.WithLabelValues(e.AgentKey, e.ToolName).Observe(e.Duration.Seconds())
	case events.ToolError:
		status := "error"
		if e.TimedOut {
			status = "timeout"
		}
		t.ToolInvocations.WithLabelValues(e.AgentKey, e.ToolName, status).Inc()
		t.ToolDuration.WithLabelValues(e.AgentKey, e.ToolName).Observe(e.Duration.Seconds())
	}
	return nil
}
