// Package events defines the lifecycle events published by the execution loop
// and the in-process bus that delivers them.
package events

import (
	"time"
)

// Name identifies an event kind.
type Name string

const (
	NameToolStart    Name = "tool_start"
	NameToolComplete Name = "tool_complete"
	NameToolError    Name = "tool_error"
	NameSessionStart Name = "session_start"
	NameSessionEnd   Name = "session_end"
)

// Event is implemented by every lifecycle event.
type Event interface {
	EventName() Name
	Session() string
	OccurredAt() time.Time
}

// ToolStart is published immediately before a tool is invoked.
type ToolStart struct {
	SessionID string
	AgentKey  string
	ToolName  string
	CallID    string
	InputSize int
	Timestamp time.Time
}

func (e ToolStart) EventName() Name       { return NameToolStart }
func (e ToolStart) Session() string       { return e.SessionID }
func (e ToolStart) OccurredAt() time.Time { return e.Timestamp }

// ToolComplete is published after a tool returns successfully.
type ToolComplete struct {
	SessionID  string
	AgentKey   string
	ToolName   string
	CallID     string
	Duration   time.Duration
	InputSize  int
	OutputSize int
	Timestamp  time.Time
}

func (e ToolComplete) EventName() Name       { return NameToolComplete }
func (e ToolComplete) Session() string       { return e.SessionID }
func (e ToolComplete) OccurredAt() time.Time { return e.Timestamp }

// ToolError is published after a tool fails, times out, panics or is not found.
type ToolError struct {
	SessionID string
	AgentKey  string
	ToolName  string
	CallID    string
	Error     string
	TimedOut  bool
	Duration  time.Duration
	InputSize int
	Timestamp time.Time
}

func (e ToolError) EventName() Name       { return NameToolError }
func (e ToolError) Session() string       { return e.SessionID }
func (e ToolError) OccurredAt() time.Time { return e.Timestamp }

// SessionStart is published once when a loop invocation begins.
type SessionStart struct {
	SessionID string
	AgentKey  string
	Input     string
	Timestamp time.Time
}

func (e SessionStart) EventName() Name       { return NameSessionStart }
func (e SessionStart) Session() string       { return e.SessionID }
func (e SessionStart) OccurredAt() time.Time { return e.Timestamp }

// SessionEnd is published once when a loop invocation completes.
// It is never published for an invocation that failed.
type SessionEnd struct {
	SessionID    string
	AgentKey     string
	TotalTools   int
	SuccessCount int
	ErrorCount   int
	FinalResult  string
	ForcedStop   bool
	Timestamp    time.Time
}

func (e SessionEnd) EventName() Name       { return NameSessionEnd }
func (e SessionEnd) Session() string       { return e.SessionID }
func (e SessionEnd) OccurredAt() time.Time { return e.Timestamp }
