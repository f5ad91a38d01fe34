package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultTopTools = 5

// ToolMetrics summarises executions started at or after since.
// A zero since covers all time.
func (s *Store) ToolMetrics(ctx context.Context, since time.Time) (ToolSummary, error) {
	var sum ToolSummary
	var avg sql.NullFloat64

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0),
			AVG(duration_ms)
		FROM tool_executions
		WHERE started_at >= ?`,
		sinceMillis(since),
	).Scan(&sum.TotalExecutions, &sum.SuccessCount, &sum.ErrorCount, &sum.TimeoutCount, &sum.RunningCount, &avg)
	if err != nil {
		return ToolSummary{}, fmt.Errorf("failed to query tool metrics: %w", err)
	}

	sum.AvgDurationMs = avg.Float64
	sum.SuccessRate = rate(sum.SuccessCount, sum.TotalExecutions-sum.RunningCount)

	top, err := s.TopTools(ctx, defaultTopTools, since)
	if err != nil {
		return ToolSummary{}, err
	}
	sum.TopTools = top
	return sum, nil
}

// TopTools returns up to limit tools ordered by execution count.
func (s *Store) TopTools(ctx context.Context, limit int, since time.Time) ([]ToolStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			tool_name,
			COUNT(*) AS executions,
			SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END),
			SUM(CASE WHEN status IN ('error', 'timeout') THEN 1 ELSE 0 END),
			AVG(duration_ms)
		FROM tool_executions
		WHERE started_at >= ?
		GROUP BY tool_name
		ORDER BY executions DESC, tool_name ASC
		LIMIT ?`,
		sinceMillis(since), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tools: %w", err)
	}
	defer rows.Close()

	var stats []ToolStats
	for rows.Next() {
		var st ToolStats
		var avg sql.NullFloat64
		if err := rows.Scan(&st.ToolName, &st.Executions, &st.SuccessCount, &st.ErrorCount, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan tool stats: %w", err)
		}
		st.AvgDurationMs = avg.Float64
		st.SuccessRate = rate(st.SuccessCount, st.SuccessCount+st.ErrorCount)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// AgentMetrics rolls up sessions and executions per agent.
func (s *Store) AgentMetrics(ctx context.Context, since time.Time) ([]AgentStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.agent_key,
			COUNT(*),
			SUM(CASE WHEN s.completed_at IS NOT NULL THEN 1 ELSE 0 END),
			COALESCE(e.executions, 0),
			COALESCE(e.successes, 0),
			COALESCE(e.finished, 0)
		FROM sessions s
		LEFT JOIN (
			SELECT agent_key,
				COUNT(*) AS executions,
				SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END) AS successes,
				SUM(CASE WHEN status != 'running' THEN 1 ELSE 0 END) AS finished
			FROM tool_executions
			WHERE started_at >= ?
			GROUP BY agent_key
		) e ON e.agent_key = s.agent_key
		WHERE s.started_at >= ?
		GROUP BY s.agent_key
		ORDER BY s.agent_key`,
		sinceMillis(since), sinceMillis(since),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query agent metrics: %w", err)
	}
	defer rows.Close()

	var stats []AgentStats
	for rows.Next() {
		var st AgentStats
		var successes, finished int
		if err := rows.Scan(&st.AgentKey, &st.Sessions, &st.CompletedSessions, &st.Executions, &successes, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan agent stats: %w", err)
		}
		st.AvgToolsPerSession = rate(st.Executions, st.Sessions)
		st.SuccessRate = rate(successes, finished)
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// ErrorRate returns the share of finished executions that ended in error or timeout.
func (s *Store) ErrorRate(ctx context.Context, since time.Time) (float64, error) {
	var failed, finished int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status IN ('error', 'timeout') THEN 1 ELSE 0 END), 0),
			COUNT(*)
		FROM tool_executions
		WHERE status != 'running' AND started_at >= ?`,
		sinceMillis(since),
	).Scan(&failed, &finished)
	if err != nil {
		return 0, fmt.Errorf("failed to query error rate: %w", err)
	}
	return rate(failed, finished), nil
}

const sessionColumns = `session_id, agent_key, started_at, completed_at,
	total_tools, success_count, error_count, final_result`

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (SessionRecord, error) {
	var rec SessionRecord
	var started int64
	var completed sql.NullInt64
	var final sql.NullString
	if err := row.Scan(&rec.SessionID, &rec.AgentKey, &started, &completed,
		&rec.TotalTools, &rec.SuccessCount, &rec.ErrorCount, &final); err != nil {
		return SessionRecord{}, err
	}
	rec.StartedAt = fromMillis(started)
	rec.CompletedAt = nullTime(completed)
	rec.FinalResult = final.String
	return rec, nil
}

// Session returns the record for sessionID or ErrNotFound.
func (s *Store) Session(ctx context.Context, sessionID string) (SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("failed to load session: %w", err)
	}
	return rec, nil
}

// SessionHistory returns the most recently started sessions, newest first.
func (s *Store) SessionHistory(ctx context.Context, limit int) ([]SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query session history: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentExecutions returns the most recently started executions, newest first.
func (s *Store) RecentExecutions(ctx context.Context, limit int) ([]ToolExecution, error) {
	return s.queryExecutions(ctx, `
		SELECT id, session_id, agent_key, tool_name, call_id, started_at, completed_at,
			duration_ms, status, error_message, input_size, output_size
		FROM tool_executions
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
}

// RecentFailures returns the most recent executions that ended in error or
// timeout, newest first.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]ToolExecution, error) {
	return s.queryExecutions(ctx, `
		SELECT id, session_id, agent_key, tool_name, call_id, started_at, completed_at,
			duration_ms, status, error_message, input_size, output_size
		FROM tool_executions
		WHERE status IN ('error', 'timeout')
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
}

// SessionExecutions returns the executions of one session in start order.
func (s *Store) SessionExecutions(ctx context.Context, sessionID string) ([]ToolExecution, error) {
	return s.queryExecutions(ctx, `
		SELECT id, session_id, agent_key, tool_name, call_id, started_at, completed_at,
			duration_ms, status, error_message, input_size, output_size
		FROM tool_executions
		WHERE session_id = ?
		ORDER BY started_at ASC, id ASC`, sessionID)
}

func (s *Store) queryExecutions(ctx context.Context, query string, args ...any) ([]ToolExecution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var out []ToolExecution
	for rows.Next() {
		var ex ToolExecution
		var started int64
		var completed, duration, inSize, outSize sql.NullInt64
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&ex.ID, &ex.SessionID, &ex.AgentKey, &ex.ToolName, &ex.CallID,
			&started, &completed, &duration, &status, &errMsg, &inSize, &outSize); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		ex.StartedAt = fromMillis(started)
		ex.CompletedAt = nullTime(completed)
		ex.Duration = nullDuration(duration)
		ex.Status = Status(status)
		ex.ErrorMessage = errMsg.String
		ex.InputSize = int(inSize.Int64)
		ex.OutputSize = int(outSize.Int64)
		out = append(out, ex)
	}
	return out, rows.Err()
}

// RecentWorkflows returns the most recently started workflow runs, newest first.
func (s *Store) RecentWorkflows(ctx context.Context, limit int) ([]WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workflow_name, session_id, started_at, completed_at, duration_ms,
			status, steps_total, steps_completed, error_message
		FROM workflow_executions
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var out []WorkflowRecord
	for rows.Next() {
		var wf WorkflowRecord
		var started int64
		var completed, duration sql.NullInt64
		var status string
		var errMsg sql.NullString
		if err := rows.Scan(&wf.ID, &wf.WorkflowName, &wf.SessionID, &started, &completed, &duration,
			&status, &wf.StepsTotal, &wf.StepsCompleted, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		wf.StartedAt = fromMillis(started)
		wf.CompletedAt = nullTime(completed)
		wf.Duration = nullDuration(duration)
		wf.Status = WorkflowStatus(status)
		wf.ErrorMessage = errMsg.String
		out = append(out, wf)
	}
	return out, rows.Err()
}
