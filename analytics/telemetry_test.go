package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/richinex/chronicle/events"
)

func TestTelemetry_CountsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := NewTelemetry(reg)
	bus := events.NewBus()
	tel.Attach(bus)
	defer tel.Detach()

	ctx := t.Context()
	now := time.Now()

	bus.Publish(ctx, events.SessionStart{SessionID: "s1", AgentKey: "files", Timestamp: now})
	if got := testutil.ToFloat64(tel.ActiveSessions.WithLabelValues("files")); got != 1 {
		t.Errorf("active sessions = %v, want 1", got)
	}

	bus.Publish(ctx, events.ToolComplete{SessionID: "s1", AgentKey: "files", ToolName: "list_files", Duration: 20 * time.Millisecond, Timestamp: now})
	bus.Publish(ctx, events.ToolError{SessionID: "s1", AgentKey: "files", ToolName: "read_file", Error: "x", Timestamp: now})
	bus.Publish(ctx, events.ToolError{SessionID: "s1", AgentKey: "files", ToolName: "read_file", Error: "slow", TimedOut: true, Timestamp: now})
	bus.Publish(ctx, events.SessionEnd{SessionID: "s1", AgentKey: "files", Timestamp: now})

	tests := []struct {
		labels []string
		want   float64
	}{
		{[]string{"files", "list_files", "success"}, 1},
		{[]string{"files", "read_file", "error"}, 1},
		{[]string{"files", "read_file", "timeout"}, 1},
	}
	for _, tt := range tests {
		if got := testutil.ToFloat64(tel.ToolInvocations.WithLabelValues(tt.labels...)); got != tt.want {
			t.Errorf("tool_invocations_total%v = %v, want %v", tt.labels, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(tel.Sessions.WithLabelValues("files", "completed")); got != 1 {
		t.Errorf("completed sessions = %v, want 1", got)
	}
	if got := testutil.ToFloat64(tel.ActiveSessions.WithLabelValues("files")); got != 0 {
		t.Errorf("active sessions = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(tel.ToolDuration); got != 2 {
		t.Errorf("duration series = %d, want 2", got)
	}
}

func TestTelemetry_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel := NewTelemetry(reg)
	tel.Sessions.WithLabelValues("a", "started").Inc()

	expected := `
# HELP chronicle_sessions_total Total sessions by agent and outcome
# TYPE chronicle_sessions_total counter
chronicle_sessions_total{agent="a",outcome="started"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "chronicle_sessions_total"); err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}
}
