// Tool-execution loop.
//
// All agent execution goes through Runner.RunToolLoop.
//
// Information Hiding:
// - Turn-taking with the reasoning service hidden
// - Concurrent tool dispatch hidden
// - Event publication and session bookkeeping hidden

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/richinex/chronicle/events"
	"github.com/richinex/chronicle/llm"
	"github.com/richinex/chronicle/session"
	"github.com/richinex/chronicle/tools"
)

// DefaultMaxMessages bounds the scratch conversation of one run.
const DefaultMaxMessages = 50

type registeredAgent struct {
	config   Config
	catalog  *tools.Catalog
	executor *tools.Executor
}

// Runner executes agents against one reasoning service.
//
// Thread Safety: Runner is safe for concurrent use. Concurrent runs on the
// same session id are not supported and may interleave history.
type Runner struct {
	provider    llm.Provider
	bus         *events.Bus
	sessions    *session.Registry
	executor    *tools.Executor
	maxMessages int
	maxParallel int
	logger      *slog.Logger

	mu     sync.RWMutex
	agents map[string]*registeredAgent
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithBus sets the bus lifecycle events are published on.
func WithBus(bus *events.Bus) RunnerOption {
	return func(r *Runner) {
		if bus != nil {
			r.bus = bus
		}
	}
}

// WithSessions sets the registry completed conversations are stored in.
func WithSessions(sessions *session.Registry) RunnerOption {
	return func(r *Runner) {
		if sessions != nil {
			r.sessions = sessions
		}
	}
}

// WithToolConfig overrides the default tool execution configuration.
func WithToolConfig(cfg tools.ToolConfig) RunnerOption {
	return func(r *Runner) {
		r.executor = tools.NewExecutor(cfg)
	}
}

// WithMaxMessages sets the message bound that forces completion.
func WithMaxMessages(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.maxMessages = n
		}
	}
}

// WithMaxParallelTools caps concurrent tool calls within one turn.
// Zero means no limit.
func WithMaxParallelTools(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxParallel = n
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a runner for provider. A runner without WithBus or
// WithSessions owns a private bus and registry.
func NewRunner(provider llm.Provider, opts ...RunnerOption) *Runner {
	r := &Runner{
		provider:    provider,
		executor:    tools.NewDefaultExecutor(),
		maxMessages: DefaultMaxMessages,
		logger:      slog.New(slog.DiscardHandler),
		agents:      make(map[string]*registeredAgent),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bus == nil {
		r.bus = events.NewBus(events.WithLogger(r.logger))
	}
	if r.sessions == nil {
		r.sessions = session.NewRegistry(session.WithLogger(r.logger))
	}
	return r
}

// Bus returns the bus lifecycle events are published on.
func (r *Runner) Bus() *events.Bus {
	return r.bus
}

// Sessions returns the session registry.
func (r *Runner) Sessions() *session.Registry {
	return r.sessions
}

// Register adds an agent. Names must be unique.
func (r *Runner) Register(cfg Config) error {
	if cfg.Name == "" {
		return fmt.Errorf("agent name cannot be empty")
	}
	catalog, err := cfg.buildCatalog()
	if err != nil {
		return err
	}

	executor := r.executor
	if cfg.ToolConfig != nil {
		executor = tools.NewExecutor(*cfg.ToolConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[cfg.Name]; exists {
		return fmt.Errorf("agent '%s' already registered", cfg.Name)
	}
	r.agents[cfg.Name] = &registeredAgent{config: cfg, catalog: catalog, executor: executor}
	return nil
}

// RegisterAll registers every config, stopping at the first error.
func (r *Runner) RegisterAll(configs ...Config) error {
	for _, cfg := range configs {
		if err := r.Register(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Agents describes the registered agents, sorted by name.
func (r *Runner) Agents() []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		infos = append(infos, AgentInfo{
			Name:        a.config.Name,
			Description: a.config.Description,
			Tools:       a.catalog.Names(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (r *Runner) lookup(agentKey string) (*registeredAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[agentKey]
	return a, ok
}

// run is the per-invocation state of RunToolLoop.
type run struct {
	agent     *registeredAgent
	agentKey  string
	sessionID string
	logger    *slog.Logger
	start     time.Time

	state        State
	turns        int
	toolsUsed    []string
	successCount int
	errorCount   int
	usage        llm.TokenUsage
}

func (rn *run) transition(to State) {
	rn.logger.Debug("loop state change",
		slog.String("from", rn.state.String()),
		slog.String("to", to.String()),
	)
	rn.state = to
}

// RunToolLoop drives one conversation to a final answer.
//
// The run starts from a fresh conversation holding only input. Each turn sends
// it to the reasoning service; tool calls in the reply are executed
// concurrently and their results appended before the next turn. The run
// completes when the service answers without tool calls or when the
// conversation exceeds the message bound. An empty sessionID is replaced with
// a generated one.
func (r *Runner) RunToolLoop(ctx context.Context, agentKey, input, sessionID string) Response {
	a, ok := r.lookup(agentKey)
	if !ok {
		return Response{
			Type:     ResponseFailure,
			AgentKey: agentKey,
			Err:      fmt.Errorf("%w: %s", ErrAgentNotFound, agentKey),
			State:    StateFailed,
		}
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	rn := &run{
		agent:     a,
		agentKey:  agentKey,
		sessionID: sessionID,
		logger:    r.logger.With(slog.String("session_id", sessionID), slog.String("agent", agentKey)),
		start:     time.Now(),
		state:     StateStarted,
		toolsUsed: []string{},
	}

	r.bus.Publish(ctx, events.SessionStart{
		SessionID: sessionID,
		AgentKey:  agentKey,
		Input:     input,
		Timestamp: rn.start,
	})

	system := llm.SystemMessage(a.config.SystemPrompt)
	definitions := a.catalog.Definitions()
	conversation := []llm.ChatMessage{llm.UserMessage(input)}

	var result, lastText string
	forced := false

	for {
		if len(conversation) > r.maxMessages {
			forced = true
			result = lastText
			if result == "" {
				result = fmt.Sprintf("stopped after %d messages without a final answer", len(conversation))
			}
			rn.logger.Warn("message bound reached, forcing completion",
				slog.Int("messages", len(conversation)),
				slog.Int("max_messages", r.maxMessages),
			)
			break
		}

		if err := ctx.Err(); err != nil {
			return r.fail(rn, len(conversation), &ServiceError{Provider: r.provider.Name(), Turn: rn.turns + 1, Err: err})
		}

		rn.transition(StateAwaitingModel)
		rn.turns++

		request := make([]llm.ChatMessage, 0, len(conversation)+1)
		request = append(request, system)
		request = append(request, conversation...)

		resp, err := r.provider.ChatWithTools(ctx, request, definitions)
		if err != nil {
			return r.fail(rn, len(conversation), &ServiceError{Provider: r.provider.Name(), Turn: rn.turns, Err: err})
		}
		rn.usage.Add(resp.Usage)
		if resp.Content != "" {
			lastText = resp.Content
		}

		if len(resp.ToolCalls) == 0 {
			conversation = append(conversation, llm.AssistantMessage(resp.Content))
			result = resp.Content
			break
		}

		calls := normalizeCalls(rn.turns, resp.ToolCalls)
		conversation = append(conversation, llm.AssistantToolMessage(resp.Content, calls))

		rn.transition(StateExecuting)
		results := r.dispatch(ctx, rn, calls)
		conversation = append(conversation, llm.ToolResultMessage(results))
	}

	rn.transition(StateCompleted)
	completedAt := time.Now()

	if _, err := r.sessions.Append(ctx, sessionID, agentKey, conversation...); err != nil {
		rn.logger.Warn("failed to store session history", slog.String("error", err.Error()))
	}
	if err := r.sessions.MarkCompleted(ctx, sessionID, completedAt); err != nil {
		rn.logger.Warn("failed to mark session completed", slog.String("error", err.Error()))
	}

	r.bus.Publish(ctx, events.SessionEnd{
		SessionID:    sessionID,
		AgentKey:     agentKey,
		TotalTools:   len(rn.toolsUsed),
		SuccessCount: rn.successCount,
		ErrorCount:   rn.errorCount,
		FinalResult:  result,
		ForcedStop:   forced,
		Timestamp:    completedAt,
	})

	rn.logger.Info("tool loop completed",
		slog.Int("turns", rn.turns),
		slog.Int("tools", len(rn.toolsUsed)),
		slog.Int("errors", rn.errorCount),
		slog.Bool("forced_stop", forced),
	)

	return Response{
		Type:      ResponseSuccess,
		SessionID: sessionID,
		AgentKey:  agentKey,
		Result:    result,
		ToolsUsed: rn.toolsUsed,
		State:     rn.state,
		Metadata:  rn.metadata(len(conversation), forced),
	}
}

func (r *Runner) fail(rn *run, messages int, err *ServiceError) Response {
	rn.transition(StateFailed)
	rn.logger.Error("reasoning service call failed",
		slog.Int("turn", err.Turn),
		slog.String("error", err.Err.Error()),
	)
	return Response{
		Type:      ResponseFailure,
		SessionID: rn.sessionID,
		AgentKey:  rn.agentKey,
		Err:       err,
		ToolsUsed: rn.toolsUsed,
		State:     rn.state,
		Metadata:  rn.metadata(messages, false),
	}
}

func (rn *run) metadata(messages int, forced bool) Metadata {
	return Metadata{
		ExecutionTimeMs: uint64(time.Since(rn.start).Milliseconds()),
		Turns:           rn.turns,
		Messages:        messages,
		SuccessCount:    rn.successCount,
		ErrorCount:      rn.errorCount,
		ForcedStop:      forced,
		TokenUsage:      rn.usage,
	}
}

// normalizeCalls gives every call a unique id so each result can be matched
// to exactly one request. Provider ids are reserved first so a generated id
// never collides with one that appears later in the batch.
func normalizeCalls(turn int, calls []llm.ToolCall) []llm.ToolCall {
	reserved := make(map[string]bool, len(calls))
	for _, c := range calls {
		if c.ID != "" {
			reserved[c.ID] = true
		}
	}

	out := make([]llm.ToolCall, len(calls))
	used := make(map[string]bool, len(calls))
	next := 0
	for i, c := range calls {
		if c.ID == "" || used[c.ID] {
			for {
				c.ID = fmt.Sprintf("call_%d_%d", turn, next)
				next++
				if !reserved[c.ID] && !used[c.ID] {
					break
				}
			}
		}
		if len(c.Arguments) == 0 {
			c.Arguments = json.RawMessage("{}")
		}
		used[c.ID] = true
		out[i] = c
	}
	return out
}

// dispatch runs every call concurrently and returns results in request order.
// A failing call never cancels its siblings.
func (r *Runner) dispatch(ctx context.Context, rn *run, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	var g errgroup.Group
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, call := range calls {
		rn.toolsUsed = append(rn.toolsUsed, call.Name)
		g.Go(func() error {
			results[i] = r.invoke(ctx, rn, call)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		if res.IsError {
			rn.errorCount++
		} else {
			rn.successCount++
		}
	}
	return results
}

// invoke executes one call, bracketed by ToolStart and exactly one of
// ToolComplete or ToolError.
func (r *Runner) invoke(ctx context.Context, rn *run, call llm.ToolCall) llm.ToolResult {
	logger := rn.logger.With(slog.String("tool", call.Name), slog.String("call_id", call.ID))
	inputSize := len(call.Arguments)

	started := time.Now()
	r.bus.Publish(ctx, events.ToolStart{
		SessionID: rn.sessionID,
		AgentKey:  rn.agentKey,
		ToolName:  call.Name,
		CallID:    call.ID,
		InputSize: inputSize,
		Timestamp: started,
	})

	var outcome tools.ToolResult
	if tool, ok := rn.agent.catalog.Get(call.Name); ok {
		res, err := rn.agent.executor.Execute(ctx, tool, call.Arguments)
		if err != nil {
			res = tools.FailureResult(err)
		}
		outcome = res
	} else {
		outcome = tools.FailureResult(fmt.Errorf("%w: '%s'", tools.ErrToolNotFound, call.Name))
	}

	finished := time.Now()
	elapsed := finished.Sub(started)

	if outcome.Success() {
		r.bus.Publish(ctx, events.ToolComplete{
			SessionID:  rn.sessionID,
			AgentKey:   rn.agentKey,
			ToolName:   call.Name,
			CallID:     call.ID,
			Duration:   elapsed,
			InputSize:  inputSize,
			OutputSize: len(outcome.Output),
			Timestamp:  finished,
		})
		logger.Debug("tool completed", slog.Duration("duration", elapsed))
		return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: outcome.Output}
	}

	message := outcome.Error.Error()
	r.bus.Publish(ctx, events.ToolError{
		SessionID: rn.sessionID,
		AgentKey:  rn.agentKey,
		ToolName:  call.Name,
		CallID:    call.ID,
		Error:     message,
		TimedOut:  errors.Is(outcome.Error, tools.ErrToolTimeout),
		Duration:  elapsed,
		InputSize: inputSize,
		Timestamp: finished,
	})
	logger.Warn("tool failed", slog.String("error", message), slog.Duration("duration", elapsed))
	return llm.ToolResult{CallID: call.ID, Name: call.Name, Content: message, IsError: true}
}
