// Tool Executor with timeout, panic isolation and retry.
//
// Information Hiding:
// - Retry strategy implementation hidden
// - Backoff algorithm hidden
// - Error classification logic hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Executor runs a single tool call under the configured limits.
// A tool failure never escapes as a Go error or panic; it is folded into ToolResult.
type Executor struct {
	config ToolConfig
}

// NewExecutor creates a new tool executor with the given configuration.
func NewExecutor(config ToolConfig) *Executor {
	return &Executor{config: config}
}

// NewDefaultExecutor creates an executor with default configuration.
func NewDefaultExecutor() *Executor {
	return &Executor{config: DefaultToolConfig()}
}

// Config returns the executor configuration.
func (e *Executor) Config() ToolConfig {
	return e.config
}

// Execute validates the arguments, then runs the tool with retry logic.
// The returned error is non-nil only when ctx ends between attempts.
func (e *Executor) Execute(ctx context.Context, tool Tool, args json.RawMessage) (ToolResult, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := tool.Validate(args); err != nil {
		return FailureResult(fmt.Errorf("validation failed: %w", err)), nil
	}

	toolName := tool.Metadata().Name
	attempts := e.config.Attempts()

	var last ToolResult
	for attempt := uint32(0); attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return last, ctx.Err()
			case <-time.After(calculateBackoff(attempt)):
			}
		}

		result := e.runOnce(ctx, tool, args)
		if result.Success() {
			return result, nil
		}
		last = result

		if !shouldRetry(result) {
			break
		}
	}

	if attempts > 1 {
		return FailureResult(fmt.Errorf("tool '%s' failed after retries: %w", toolName, last.Error)), nil
	}
	return last, nil
}

// runOnce executes the tool a single time. The call runs on its own goroutine so a
// tool that ignores ctx still cannot hold the caller past the deadline.
func (e *Executor) runOnce(ctx context.Context, tool Tool, args json.RawMessage) ToolResult {
	callCtx := ctx
	if e.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()
	}

	done := make(chan ToolResult, 1)
	go func() {
		done <- safeExecute(callCtx, tool, args)
	}()

	select {
	case result := <-done:
		if !result.Success() && callCtx.Err() != nil {
			return e.interrupted(ctx, callCtx)
		}
		return result
	case <-callCtx.Done():
		return e.interrupted(ctx, callCtx)
	}
}

// interrupted reports why callCtx ended. Only the executor's own deadline
// counts as a tool timeout; a cancelled or expired caller context is passed
// through as is.
func (e *Executor) interrupted(parent, callCtx context.Context) ToolResult {
	if err := parent.Err(); err != nil {
		return FailureResult(err)
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return FailureResult(fmt.Errorf("%w after %s", ErrToolTimeout, e.config.Timeout))
	}
	return FailureResult(callCtx.Err())
}

// safeExecute converts a returned error or a panic into a failed ToolResult.
func safeExecute(ctx context.Context, tool Tool, args json.RawMessage) (result ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = FailureResult(fmt.Errorf("%w: %v", ErrToolPanic, r))
		}
	}()

	res, err := tool.Execute(ctx, args)
	if err != nil {
		return FailureResult(err)
	}
	return res
}

// calculateBackoff returns the backoff duration for the given attempt.
func calculateBackoff(attempt uint32) time.Duration {
	const (
		baseDelay = 100 * time.Millisecond
		maxDelay  = 5 * time.Second
	)

	delay := baseDelay * time.Duration(1<<attempt)
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// shouldRetry determines if a failure is retryable.
func shouldRetry(result ToolResult) bool {
	if result.Error == nil {
		return false
	}
	if errors.Is(result.Error, ErrToolPanic) || errors.Is(result.Error, context.Canceled) {
		return false
	}
	if errors.Is(result.Error, ErrToolTimeout) {
		return true
	}
	if errors.Is(result.Error, context.DeadlineExceeded) {
		return false
	}

	errLower := strings.ToLower(result.Error.Error())

	// Don't retry validation errors or permission issues
	for _, s := range []string{"validation", "not allowed", "permission", "empty", "does not exist", "client error"} {
		if strings.Contains(errLower, s) {
			return false
		}
	}

	return true
}
