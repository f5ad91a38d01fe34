package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/chronicle/agent"
	"github.com/richinex/chronicle/metrics"
)

// LoopRunner executes one agent step. *agent.Runner implements it.
type LoopRunner interface {
	RunToolLoop(ctx context.Context, agentKey, input, sessionID string) agent.Response
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name     string
	Agent    string
	Input    string
	Response agent.Response
	// Err is set when the step failed, either in the loop or at handoff.
	Err error
}

// Result is the outcome of one workflow run.
type Result struct {
	WorkflowID string
	SessionID  string
	Status     metrics.WorkflowStatus
	Steps      []StepResult
	// Output is the result of the last successful step.
	Output string
	Err    error
}

// StepsCompleted counts steps that finished without error.
func (r Result) StepsCompleted() int {
	n := 0
	for _, s := range r.Steps {
		if s.Err == nil {
			n++
		}
	}
	return n
}

// Runner executes workflow definitions.
type Runner struct {
	loop   LoopRunner
	store  *metrics.Store
	logger *slog.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore records each run in store.
func WithStore(store *metrics.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithLogger sets the runner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRunner creates a workflow runner on top of loop.
func NewRunner(loop LoopRunner, opts ...Option) *Runner {
	r := &Runner{
		loop:   loop,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes def's steps in order on one session. Each step's input has
// {{previous}} replaced with the prior step's result ({{input}} for the first
// step) and {{input}} with the workflow input. Execution stops at the first
// failed step unless the definition sets continue_on_error.
//
// The returned error covers invalid definitions only; step failures are
// reported in Result.
func (r *Runner) Run(ctx context.Context, def Definition, input, sessionID string) (Result, error) {
	if err := def.Validate(); err != nil {
		return Result{}, err
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	res := Result{SessionID: sessionID, Status: metrics.WorkflowSuccess}
	logger := r.logger.With(slog.String("workflow", def.Name), slog.String("session_id", sessionID))

	if r.store != nil {
		id, err := r.store.RecordWorkflowStart(ctx, metrics.WorkflowRecord{
			WorkflowName: def.Name,
			SessionID:    sessionID,
			StartedAt:    time.Now(),
			StepsTotal:   len(def.Steps),
		})
		if err != nil {
			logger.Warn("failed to record workflow start", slog.String("error", err.Error()))
		}
		res.WorkflowID = id
	}

	previous := input
	var errs []error

	for i, step := range def.Steps {
		name := def.StepName(i)
		stepInput := render(step.Input, input, previous)

		logger.Info("running workflow step", slog.String("step", name), slog.String("agent", step.Agent))
		resp := r.loop.RunToolLoop(ctx, step.Agent, stepInput, sessionID)

		sr := StepResult{Name: name, Agent: step.Agent, Input: stepInput, Response: resp}
		if !resp.IsSuccess() {
			sr.Err = fmt.Errorf("step %s: %w", name, resp.Err)
		} else if err := checkHandoff(name, resp.Result, step.RequireFields); err != nil {
			sr.Err = err
		}
		res.Steps = append(res.Steps, sr)

		if sr.Err != nil {
			logger.Warn("workflow step failed", slog.String("step", name), slog.String("error", sr.Err.Error()))
			errs = append(errs, sr.Err)
			res.Status = metrics.WorkflowError
			if !def.ContinueOnError {
				break
			}
			continue
		}

		previous = resp.Result
		res.Output = resp.Result
	}

	res.Err = errors.Join(errs...)

	if r.store != nil && res.WorkflowID != "" {
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		// A cancelled run is still closed out in the store.
		endCtx := context.WithoutCancel(ctx)
		if err := r.store.RecordWorkflowEnd(endCtx, res.WorkflowID, res.Status, res.StepsCompleted(), errMsg, time.Now()); err != nil {
			logger.Warn("failed to record workflow end", slog.String("error", err.Error()))
		}
	}

	return res, nil
}
