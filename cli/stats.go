// Metrics reports for the stats command.

package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/richinex/chronicle/metrics"
)

// StatsOptions selects the window and row count of a report.
type StatsOptions struct {
	// Since limits aggregate reports to records started within this window.
	// Zero covers all time.
	Since time.Duration
	Limit int
}

func (o StatsOptions) since() time.Time {
	if o.Since <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-o.Since)
}

func (o StatsOptions) limit() int {
	if o.Limit <= 0 {
		return 20
	}
	return o.Limit
}

// Report names a stats report.
type Report string

const (
	ReportTools     Report = "tools"
	ReportAgents    Report = "agents"
	ReportSessions  Report = "sessions"
	ReportRecent    Report = "recent"
	ReportErrors    Report = "errors"
	ReportWorkflows Report = "workflows"
)

// Reports lists every report in display order.
var Reports = []Report{ReportTools, ReportAgents, ReportSessions, ReportRecent, ReportErrors, ReportWorkflows}

// Stats prints report from the metrics database.
func Stats(ctx context.Context, report Report, stats StatsOptions, opts Options) error {
	store, err := metrics.Open(opts.dbPath())
	if err != nil {
		return err
	}
	defer store.Close()

	return PrintReport(ctx, opts.stdout(), store, report, stats)
}

// StatsSession prints one recorded session from the metrics database.
func StatsSession(ctx context.Context, sessionID string, opts Options) error {
	store, err := metrics.Open(opts.dbPath())
	if err != nil {
		return err
	}
	defer store.Close()

	return PrintSession(ctx, opts.stdout(), store, sessionID)
}

// PrintReport writes report to w.
func PrintReport(ctx context.Context, w io.Writer, store *metrics.Store, report Report, stats StatsOptions) error {
	switch report {
	case ReportTools:
		return printToolReport(ctx, w, store, stats)
	case ReportAgents:
		return printAgentReport(ctx, w, store, stats)
	case ReportSessions:
		return printSessionReport(ctx, w, store, stats)
	case ReportRecent:
		execs, err := store.RecentExecutions(ctx, stats.limit())
		if err != nil {
			return err
		}
		printTitle(w, "Recent tool executions")
		printExecutions(w, execs)
		return nil
	case ReportErrors:
		return printErrorReport(ctx, w, store, stats)
	case ReportWorkflows:
		return printWorkflowReport(ctx, w, store, stats)
	}
	return fmt.Errorf("unknown report %q", report)
}

// PrintSession writes one session record and its executions to w.
func PrintSession(ctx context.Context, w io.Writer, store *metrics.Store, sessionID string) error {
	rec, err := store.Session(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}

	printTitle(w, "Session %s (%s)", rec.SessionID, rec.AgentKey)
	status := "running"
	if rec.Completed() {
		status = fmt.Sprintf("completed %s", rec.CompletedAt.Format(time.DateTime))
	}
	printMuted(w, "started %s | %s | %d tools (%d ok, %d failed)",
		rec.StartedAt.Format(time.DateTime), status, rec.TotalTools, rec.SuccessCount, rec.ErrorCount)
	if rec.FinalResult != "" {
		fmt.Fprintf(w, "\n%s\n\n", truncate(rec.FinalResult, 200))
	}

	execs, err := store.SessionExecutions(ctx, sessionID)
	if err != nil {
		return err
	}
	printExecutions(w, execs)
	return nil
}

func printToolReport(ctx context.Context, w io.Writer, store *metrics.Store, stats StatsOptions) error {
	sum, err := store.ToolMetrics(ctx, stats.since())
	if err != nil {
		return err
	}
	top, err := store.TopTools(ctx, stats.limit(), stats.since())
	if err != nil {
		return err
	}

	printTitle(w, "Tool executions")
	printMuted(w, "%d total | %d success | %d error | %d timeout | %d running | %s success | avg %.0fms",
		sum.TotalExecutions, sum.SuccessCount, sum.ErrorCount, sum.TimeoutCount, sum.RunningCount,
		percent(sum.SuccessRate), sum.AvgDurationMs)

	rows := make([][]string, 0, len(top))
	for _, t := range top {
		rows = append(rows, []string{
			t.ToolName,
			fmt.Sprintf("%d", t.Executions),
			fmt.Sprintf("%d", t.SuccessCount),
			fmt.Sprintf("%d", t.ErrorCount),
			percent(t.SuccessRate),
			fmt.Sprintf("%.0fms", t.AvgDurationMs),
		})
	}
	renderTable(w, []string{"Tool", "Runs", "OK", "Failed", "Success", "Avg"}, rows)
	return nil
}

func printAgentReport(ctx context.Context, w io.Writer, store *metrics.Store, stats StatsOptions) error {
	agents, err := store.AgentMetrics(ctx, stats.since())
	if err != nil {
		return err
	}

	printTitle(w, "Agents")
	rows := make([][]string, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, []string{
			a.AgentKey,
			fmt.Sprintf("%d", a.Sessions),
			fmt.Sprintf("%d", a.CompletedSessions),
			fmt.Sprintf("%d", a.Executions),
			fmt.Sprintf("%.1f", a.AvgToolsPerSession),
			percent(a.SuccessRate),
		})
	}
	renderTable(w, []string{"Agent", "Sessions", "Completed", "Tool runs", "Tools/session", "Success"}, rows)
	return nil
}

func printSessionReport(ctx context.Context, w io.Writer, store *metrics.Store, stats StatsOptions) error {
	sessions, err := store.SessionHistory(ctx, stats.limit())
	if err != nil {
		return err
	}

	printTitle(w, "Sessions")
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		status := "running"
		if s.Completed() {
			status = "completed"
		}
		rows = append(rows, []string{
			s.SessionID,
			s.AgentKey,
			s.StartedAt.Format(time.DateTime),
			status,
			fmt.Sprintf("%d", s.TotalTools),
			fmt.Sprintf("%d/%d", s.SuccessCount, s.ErrorCount),
		})
	}
	renderTable(w, []string{"Session", "Agent", "Started", "Status", "Tools", "OK/Failed"}, rows)
	return nil
}

func printErrorReport(ctx context.Context, w io.Writer, store *metrics.Store, stats StatsOptions) error {
	rate, err := store.ErrorRate(ctx, stats.since())
	if err != nil {
		return err
	}
	failed, err := store.RecentFailures(ctx, stats.limit())
	if err != nil {
		return err
	}

	printTitle(w, "Tool failures")
	printMuted(w, "error rate %s", percent(rate))
	printExecutions(w, failed)
	return nil
}

func printWorkflowReport(ctx context.Context, w io.Writer, store *metrics.Store, stats StatsOptions) error {
	runs, err := store.RecentWorkflows(ctx, stats.limit())
	if err != nil {
		return err
	}

	printTitle(w, "Workflows")
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		duration := "-"
		if r.Duration != nil {
			duration = r.Duration.String()
		}
		rows = append(rows, []string{
			r.WorkflowName,
			r.SessionID,
			r.StartedAt.Format(time.DateTime),
			statusText(string(r.Status)),
			fmt.Sprintf("%d/%d", r.StepsCompleted, r.StepsTotal),
			duration,
			truncate(r.ErrorMessage, 50),
		})
	}
	renderTable(w, []string{"Workflow", "Session", "Started", "Status", "Steps", "Duration", "Error"}, rows)
	return nil
}

func printExecutions(w io.Writer, execs []metrics.ToolExecution) {
	rows := make([][]string, 0, len(execs))
	for _, ex := range execs {
		duration := "-"
		if ex.Duration != nil {
			duration = ex.Duration.String()
		}
		rows = append(rows, []string{
			ex.StartedAt.Format(time.DateTime),
			ex.SessionID,
			ex.AgentKey,
			ex.ToolName,
			statusText(string(ex.Status)),
			duration,
			truncate(ex.ErrorMessage, 50),
		})
	}
	renderTable(w, []string{"Started", "Session", "Agent", "Tool", "Status", "Duration", "Error"}, rows)
}

func percent(rate float64) string {
	return fmt.Sprintf("%.1f%%", rate*100)
}
