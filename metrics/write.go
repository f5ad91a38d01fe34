package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ToolStartRecord describes a tool invocation that has just begun.
type ToolStartRecord struct {
	SessionID string
	AgentKey  string
	ToolName  string
	CallID    string
	StartedAt time.Time
	InputSize int
}

// RecordToolStart inserts a running execution and returns its row id.
func (s *Store) RecordToolStart(ctx context.Context, rec ToolStartRecord) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions
			(session_id, agent_key, tool_name, call_id, started_at, status, input_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.AgentKey, rec.ToolName, rec.CallID,
		millis(rec.StartedAt), string(StatusRunning), rec.InputSize,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record tool start: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read tool execution id: %w", err)
	}
	return id, nil
}

// RecordToolCompletion applies the terminal update to a running execution.
// Duration is derived in SQL from the stored start time. A second completion
// for the same row returns ErrAlreadyCompleted and changes nothing.
func (s *Store) RecordToolCompletion(ctx context.Context, id int64, c ToolCompletion) error {
	if !c.Status.Terminal() {
		return fmt.Errorf("invalid completion status %q", c.Status)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	completed := millis(c.CompletedAt)
	res, err := s.db.ExecContext(ctx, `
		UPDATE tool_executions
		SET completed_at = ?,
			duration_ms = MAX(0, ? - started_at),
			status = ?,
			error_message = ?,
			output_size = ?
		WHERE id = ? AND completed_at IS NULL`,
		completed, completed, string(c.Status), nullString(c.ErrorMessage), c.OutputSize, id,
	)
	if err != nil {
		return fmt.Errorf("failed to record tool completion: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tool execution %d: %w", id, ErrAlreadyCompleted)
	}
	return nil
}

// RecordToolExecution inserts a fully completed execution in one write.
// Used when no start row exists for the invocation.
func (s *Store) RecordToolExecution(ctx context.Context, rec ToolExecution) (int64, error) {
	if !rec.Status.Terminal() {
		return 0, fmt.Errorf("invalid execution status %q", rec.Status)
	}
	if rec.CompletedAt == nil {
		return 0, fmt.Errorf("completed execution requires a completion time")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	started := millis(rec.StartedAt)
	completed := millis(*rec.CompletedAt)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_executions
			(session_id, agent_key, tool_name, call_id, started_at, completed_at,
			 duration_ms, status, error_message, input_size, output_size)
		VALUES (?, ?, ?, ?, ?, ?, MAX(0, ? - ?), ?, ?, ?, ?)`,
		rec.SessionID, rec.AgentKey, rec.ToolName, rec.CallID, started, completed,
		completed, started, string(rec.Status), nullString(rec.ErrorMessage), rec.InputSize, rec.OutputSize,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record tool execution: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read tool execution id: %w", err)
	}
	return id, nil
}

// RecordSessionStart inserts a session row if none exists for sessionID.
// Repeated starts for the same id are ignored.
func (s *Store) RecordSessionStart(ctx context.Context, sessionID, agentKey string, startedAt time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, agent_key, started_at)
		VALUES (?, ?, ?)`,
		sessionID, agentKey, millis(startedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record session start: %w", err)
	}
	return nil
}

// RecordSessionEnd stores the outcome of one run on a session. Tool counts add
// to those of earlier runs on the same session id, while the completion time
// and final result are those of the latest run. A session whose start was never
// recorded is inserted, using StartedAt when set or the completion time otherwise.
func (s *Store) RecordSessionEnd(ctx context.Context, rec SessionRecord) error {
	completedAt := time.Now()
	if rec.CompletedAt != nil {
		completedAt = *rec.CompletedAt
	}
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = completedAt
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions
			(session_id, agent_key, started_at, completed_at, total_tools, success_count, error_count, final_result)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			agent_key = CASE WHEN excluded.agent_key = '' THEN sessions.agent_key ELSE excluded.agent_key END,
			completed_at = excluded.completed_at,
			total_tools = sessions.total_tools + excluded.total_tools,
			success_count = sessions.success_count + excluded.success_count,
			error_count = sessions.error_count + excluded.error_count,
			final_result = excluded.final_result`,
		rec.SessionID, rec.AgentKey, millis(startedAt), millis(completedAt),
		rec.TotalTools, rec.SuccessCount, rec.ErrorCount, nullString(rec.FinalResult),
	)
	if err != nil {
		return fmt.Errorf("failed to record session end: %w", err)
	}
	return nil
}

// RecordWorkflowStart inserts a running workflow and returns its id.
// An empty rec.ID is replaced with a generated one.
func (s *Store) RecordWorkflowStart(ctx context.Context, rec WorkflowRecord) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	startedAt := rec.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions
			(id, workflow_name, session_id, started_at, status, steps_total)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, rec.WorkflowName, rec.SessionID, millis(startedAt), string(WorkflowRunning), rec.StepsTotal,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record workflow start: %w", err)
	}
	return id, nil
}

// RecordWorkflowEnd marks a running workflow finished.
func (s *Store) RecordWorkflowEnd(ctx context.Context, id string, status WorkflowStatus, stepsCompleted int, errMsg string, completedAt time.Time) error {
	if status == WorkflowRunning {
		return fmt.Errorf("invalid workflow end status %q", status)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	completed := millis(completedAt)
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET completed_at = ?,
			duration_ms = MAX(0, ? - started_at),
			status = ?,
			steps_completed = ?,
			error_message = ?
		WHERE id = ? AND completed_at IS NULL`,
		completed, completed, string(status), stepsCompleted, nullString(errMsg), id,
	)
	if err != nil {
		return fmt.Errorf("failed to record workflow end: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("workflow %s: %w", id, ErrAlreadyCompleted)
	}
	return nil
}
