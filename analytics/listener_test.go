package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/richinex/chronicle/events"
	"github.com/richinex/chronicle/metrics"
)

func newTestStore(t *testing.T) *metrics.Store {
	t.Helper()
	store, err := metrics.OpenInMemory()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestListener_RecordsFullSession(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	l := NewListener(store)
	l.Attach(bus)
	defer l.Detach()

	ctx := t.Context()
	t0 := time.UnixMilli(1_700_000_000_000)

	bus.Publish(ctx, events.SessionStart{SessionID: "s1", AgentKey: "files", Timestamp: t0})
	bus.Publish(ctx, events.ToolStart{SessionID: "s1", AgentKey: "files", ToolName: "list_files", CallID: "c1", InputSize: 12, Timestamp: t0.Add(10 * time.Millisecond)})
	bus.Publish(ctx, events.ToolStart{SessionID: "s1", AgentKey: "files", ToolName: "read_file", CallID: "c2", InputSize: 20, Timestamp: t0.Add(10 * time.Millisecond)})
	bus.Publish(ctx, events.ToolComplete{SessionID: "s1", AgentKey: "files", ToolName: "list_files", CallID: "c1", Duration: 40 * time.Millisecond, OutputSize: 99, Timestamp: t0.Add(50 * time.Millisecond)})
	bus.Publish(ctx, events.ToolError{SessionID: "s1", AgentKey: "files", ToolName: "read_file", CallID: "c2", Error: "tool timed out after 1s", TimedOut: true, Timestamp: t0.Add(1010 * time.Millisecond)})
	bus.Publish(ctx, events.SessionEnd{SessionID: "s1", AgentKey: "files", TotalTools: 2, SuccessCount: 1, ErrorCount: 1, FinalResult: "done", Timestamp: t0.Add(2 * time.Second)})

	if bus.HandlerErrors() != 0 {
		t.Fatalf("listener reported %d errors", bus.HandlerErrors())
	}
	if l.Pending() != 0 {
		t.Errorf("Pending = %d, want 0", l.Pending())
	}

	execs, err := store.SessionExecutions(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionExecutions failed: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("got %d executions, want 2", len(execs))
	}

	byCall := map[string]metrics.ToolExecution{}
	for _, e := range execs {
		byCall[e.CallID] = e
	}
	ok := byCall["c1"]
	if ok.Status != metrics.StatusSuccess || ok.Duration == nil || *ok.Duration != 40*time.Millisecond || ok.OutputSize != 99 {
		t.Errorf("unexpected success row: %+v", ok)
	}
	timedOut := byCall["c2"]
	if timedOut.Status != metrics.StatusTimeout || timedOut.ErrorMessage == "" {
		t.Errorf("unexpected timeout row: %+v", timedOut)
	}

	sess, err := store.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !sess.Completed() || sess.SuccessCount != 1 || sess.ErrorCount != 1 || sess.FinalResult != "done" {
		t.Errorf("unexpected session record: %+v", sess)
	}
	if !sess.StartedAt.Equal(t0) {
		t.Errorf("StartedAt = %v, want %v", sess.StartedAt, t0)
	}
}

func TestListener_CompletionWithoutStartInserts(t *testing.T) {
	store := newTestStore(t)
	l := NewListener(store)
	ctx := t.Context()
	now := time.UnixMilli(1_700_000_000_000)

	err := l.Handle(ctx, events.ToolError{SessionID: "s1", AgentKey: "a", ToolName: "fetch_url", CallID: "c9", Error: "boom", Duration: 25 * time.Millisecond, Timestamp: now})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	execs, _ := store.SessionExecutions(ctx, "s1")
	if len(execs) != 1 {
		t.Fatalf("got %d executions, want 1", len(execs))
	}
	if execs[0].Status != metrics.StatusError || *execs[0].Duration != 25*time.Millisecond {
		t.Errorf("unexpected row: %+v", execs[0])
	}
}

func TestListener_SessionEndWithoutStart(t *testing.T) {
	store := newTestStore(t)
	l := NewListener(store)
	ctx := t.Context()

	if err := l.Handle(ctx, events.SessionEnd{SessionID: "late", AgentKey: "a", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if _, err := store.Session(ctx, "late"); err != nil {
		t.Errorf("session should be upserted: %v", err)
	}
}

func TestListener_CancelledContextStillWrites(t *testing.T) {
	store := newTestStore(t)
	l := NewListener(store)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	if err := l.Handle(ctx, events.SessionStart{SessionID: "s1", AgentKey: "a", Timestamp: time.Now()}); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if _, err := store.Session(t.Context(), "s1"); err != nil {
		t.Errorf("session not recorded: %v", err)
	}
}

func TestListener_StoreErrorsGoToBus(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	l := NewListener(store)
	l.Attach(bus)
	store.Close()

	bus.Publish(t.Context(), events.SessionStart{SessionID: "s1", AgentKey: "a", Timestamp: time.Now()})

	if bus.HandlerErrors() != 1 {
		t.Errorf("HandlerErrors = %d, want 1", bus.HandlerErrors())
	}
}

func TestListener_Detach(t *testing.T) {
	store := newTestStore(t)
	bus := events.NewBus()
	l := NewListener(store)

	l.Attach(bus)
	l.Attach(bus)
	if bus.Len() != 1 {
		t.Fatalf("re-attach should replace the subscription, got %d", bus.Len())
	}

	l.Detach()
	l.Detach()
	if bus.Len() != 0 {
		t.Errorf("Len = %d after Detach, want 0", bus.Len())
	}

	bus.Publish(t.Context(), events.SessionStart{SessionID: "s1", AgentKey: "a", Timestamp: time.Now()})
	if _, err := store.Session(t.Context(), "s1"); !errors.Is(err, metrics.ErrNotFound) {
		t.Errorf("detached listener should not write, got err=%v", err)
	}
}
