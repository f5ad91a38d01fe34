// Package agent drives tool-calling conversations between a caller, a
// reasoning service and an agent's tool catalog.
//
// Contains the response, state and error types reported by the loop.
package agent

import (
	"errors"
	"fmt"

	"github.com/richinex/chronicle/llm"
)

// ErrAgentNotFound is returned when a run names an unregistered agent.
var ErrAgentNotFound = errors.New("agent not found")

// ServiceError reports a failed call to the reasoning service.
// The loop cannot recover from it; the run ends without a SessionEnd event.
type ServiceError struct {
	Provider string
	Turn     int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("reasoning service %s failed on turn %d: %v", e.Provider, e.Turn, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// State is the lifecycle position of one loop invocation.
type State int

const (
	StateStarted State = iota
	StateAwaitingModel
	StateExecuting
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateExecuting:
		return "executing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Metadata contains metadata about a loop invocation.
type Metadata struct {
	ExecutionTimeMs uint64
	Turns           int
	Messages        int
	SuccessCount    int
	ErrorCount      int
	// ForcedStop is set when the message bound ended the run.
	ForcedStop bool
	TokenUsage llm.TokenUsage
}

// ResponseType indicates the type of agent response.
type ResponseType int

const (
	ResponseSuccess ResponseType = iota
	ResponseFailure
)

// Response represents the outcome of one loop invocation.
type Response struct {
	Type      ResponseType
	SessionID string
	AgentKey  string
	Result    string // For Success
	Err       error  // For Failure
	// ToolsUsed lists every dispatched tool name in dispatch order,
	// including calls that failed.
	ToolsUsed []string
	State     State
	Metadata  Metadata
}

// ResultText returns the result string (for success) or error (for failure).
func (r Response) ResultText() string {
	switch r.Type {
	case ResponseSuccess:
		return r.Result
	case ResponseFailure:
		if r.Err != nil {
			return r.Err.Error()
		}
		return "unknown failure"
	default:
		return ""
	}
}

// IsSuccess checks if the response was successful.
func (r Response) IsSuccess() bool {
	return r.Type == ResponseSuccess
}

// AgentInfo describes a registered agent.
type AgentInfo struct {
	Name        string
	Description string
	Tools       []string
}
