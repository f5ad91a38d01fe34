package metrics

import (
	"database/sql"
	"time"
)

// Status is the lifecycle state of a tool execution row.
type Status string

const (
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
)

// Terminal reports whether s is a completed state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusTimeout
}

// WorkflowStatus is the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowRunning WorkflowStatus = "running"
	WorkflowSuccess WorkflowStatus = "success"
	WorkflowError   WorkflowStatus = "error"
)

// ToolExecution is one persisted tool invocation.
// CompletedAt and Duration are nil while the execution is running.
type ToolExecution struct {
	ID           int64
	SessionID    string
	AgentKey     string
	ToolName     string
	CallID       string
	StartedAt    time.Time
	CompletedAt  *time.Time
	Duration     *time.Duration
	Status       Status
	ErrorMessage string
	InputSize    int
	OutputSize   int
}

// ToolCompletion is the single terminal update applied to a started execution.
type ToolCompletion struct {
	CompletedAt  time.Time
	Status       Status
	ErrorMessage string
	OutputSize   int
}

// SessionRecord is one persisted session.
type SessionRecord struct {
	SessionID    string
	AgentKey     string
	StartedAt    time.Time
	CompletedAt  *time.Time
	TotalTools   int
	SuccessCount int
	ErrorCount   int
	FinalResult  string
}

// Completed reports whether the session end has been recorded.
func (r SessionRecord) Completed() bool {
	return r.CompletedAt != nil
}

// WorkflowRecord is one persisted workflow run.
type WorkflowRecord struct {
	ID             string
	WorkflowName   string
	SessionID      string
	StartedAt      time.Time
	CompletedAt    *time.Time
	Duration       *time.Duration
	Status         WorkflowStatus
	StepsTotal     int
	StepsCompleted int
	ErrorMessage   string
}

// ToolStats aggregates executions of one tool.
type ToolStats struct {
	ToolName      string
	Executions    int
	SuccessCount  int
	ErrorCount    int
	SuccessRate   float64
	AvgDurationMs float64
}

// ToolSummary aggregates all tool executions over a window.
type ToolSummary struct {
	TotalExecutions int
	SuccessCount    int
	ErrorCount      int
	TimeoutCount    int
	RunningCount    int
	SuccessRate     float64
	AvgDurationMs   float64
	TopTools        []ToolStats
}

// AgentStats aggregates sessions and executions for one agent.
type AgentStats struct {
	AgentKey           string
	Sessions           int
	CompletedSessions  int
	Executions         int
	AvgToolsPerSession float64
	SuccessRate        float64
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

func nullDuration(v sql.NullInt64) *time.Duration {
	if !v.Valid {
		return nil
	}
	d := time.Duration(v.Int64) * time.Millisecond
	return &d
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// sinceMillis maps a zero time to the beginning of the epoch.
func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return millis(since)
}

func rate(part, whole int) float64 {
	if whole == 0 {
		return 0
	}
	return float64(part) / float64(whole)
}
