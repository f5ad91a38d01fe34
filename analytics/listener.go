// Package analytics turns lifecycle events into persisted records and live
// telemetry.
//
// Information Hiding:
// - Start/completion row correlation hidden
// - Store error routing hidden (errors go back to the bus, never the loop)
package analytics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/richinex/chronicle/events"
	"github.com/richinex/chronicle/metrics"
)

type callKey struct {
	sessionID string
	callID    string
}

// Listener writes every event it receives into a metrics.Store.
//
// Thread Safety: Listener is safe for concurrent use.
type Listener struct {
	store  *metrics.Store
	logger *slog.Logger

	mu      sync.Mutex
	pending map[callKey]int64
	bus     *events.Bus
	subID   string
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithLogger sets the listener logger.
func WithLogger(logger *slog.Logger) ListenerOption {
	return func(l *Listener) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewListener creates a listener writing into store.
func NewListener(store *metrics.Store, opts ...ListenerOption) *Listener {
	l := &Listener{
		store:   store,
		logger:  slog.New(slog.DiscardHandler),
		pending: make(map[callKey]int64),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attach subscribes the listener to every event on bus.
// Attaching again first detaches from the previous bus.
func (l *Listener) Attach(bus *events.Bus) {
	l.Detach()

	id := bus.SubscribeAll(l.Handle)

	l.mu.Lock()
	l.bus = bus
	l.subID = id
	l.mu.Unlock()
}

// Detach unsubscribes the listener. Safe to call when not attached.
func (l *Listener) Detach() {
	l.mu.Lock()
	bus, id := l.bus, l.subID
	l.bus, l.subID = nil, ""
	l.mu.Unlock()

	if bus != nil {
		bus.Unsubscribe(id)
	}
}

// Pending returns the number of started tool calls awaiting completion.
func (l *Listener) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Handle records one event. It is the events.Handler the listener subscribes.
func (l *Listener) Handle(ctx context.Context, event events.Event) error {
	// A cancelled run still gets its records written.
	ctx = context.WithoutCancel(ctx)

	switch e := event.(type) {
	case events.SessionStart:
		return l.store.RecordSessionStart(ctx, e.SessionID, e.AgentKey, e.Timestamp)

	case events.ToolStart:
		id, err := l.store.RecordToolStart(ctx, metrics.ToolStartRecord{
			SessionID: e.SessionID,
			AgentKey:  e.AgentKey,
			ToolName:  e.ToolName,
			CallID:    e.CallID,
			StartedAt: e.Timestamp,
			InputSize: e.InputSize,
		})
		if err != nil {
			return err
		}
		l.mu.Lock()
		l.pending[callKey{e.SessionID, e.CallID}] = id
		l.mu.Unlock()
		return nil

	case events.ToolComplete:
		return l.complete(ctx, toolOutcome{
			sessionID:  e.SessionID,
			agentKey:   e.AgentKey,
			toolName:   e.ToolName,
			callID:     e.CallID,
			completed:  e.Timestamp,
			duration:   e.Duration,
			status:     metrics.StatusSuccess,
			inputSize:  e.InputSize,
			outputSize: e.OutputSize,
		})

	case events.ToolError:
		status := metrics.StatusError
		if e.TimedOut {
			status = metrics.StatusTimeout
		}
		return l.complete(ctx, toolOutcome{
			sessionID: e.SessionID,
			agentKey:  e.AgentKey,
			toolName:  e.ToolName,
			callID:    e.CallID,
			completed: e.Timestamp,
			duration:  e.Duration,
			status:    status,
			errMsg:    e.Error,
			inputSize: e.InputSize,
		})

	case events.SessionEnd:
		completed := e.Timestamp
		return l.store.RecordSessionEnd(ctx, metrics.SessionRecord{
			SessionID:    e.SessionID,
			AgentKey:     e.AgentKey,
			CompletedAt:  &completed,
			TotalTools:   e.TotalTools,
			SuccessCount: e.SuccessCount,
			ErrorCount:   e.ErrorCount,
			FinalResult:  e.FinalResult,
		})

	default:
		l.logger.Debug("ignoring unknown event", slog.String("event", string(event.EventName())))
		return nil
	}
}

type toolOutcome struct {
	sessionID  string
	agentKey   string
	toolName   string
	callID     string
	completed  time.Time
	duration   time.Duration
	status     metrics.Status
	errMsg     string
	inputSize  int
	outputSize int
}

// complete updates the row opened by the matching ToolStart, or inserts a
// finished row when no start was recorded.
func (l *Listener) complete(ctx context.Context, o toolOutcome) error {
	key := callKey{o.sessionID, o.callID}

	l.mu.Lock()
	id, ok := l.pending[key]
	delete(l.pending, key)
	l.mu.Unlock()

	if ok {
		err := l.store.RecordToolCompletion(ctx, id, metrics.ToolCompletion{
			CompletedAt:  o.completed,
			Status:       o.status,
			ErrorMessage: o.errMsg,
			OutputSize:   o.outputSize,
		})
		if err != nil {
			return fmt.Errorf("tool %s call %s: %w", o.toolName, o.callID, err)
		}
		return nil
	}

	l.logger.Debug("no start recorded for tool call, inserting completed row",
		slog.String("session_id", o.sessionID),
		slog.String("call_id", o.callID),
	)
	completed := o.completed
	_, err := l.store.RecordToolExecution(ctx, metrics.ToolExecution{
		SessionID:    o.sessionID,
		AgentKey:     o.agentKey,
		ToolName:     o.toolName,
		CallID:       o.callID,
		StartedAt:    o.completed.Add(-o.duration),
		CompletedAt:  &completed,
		Status:       o.status,
		ErrorMessage: o.errMsg,
		InputSize:    o.inputSize,
		OutputSize:   o.outputSize,
	})
	return err
}
