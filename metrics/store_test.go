package metrics

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestToolStartAndCompletion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.UnixMilli(1_700_000_000_000)

	id, err := s.RecordToolStart(ctx, ToolStartRecord{
		SessionID: "s1", AgentKey: "file", ToolName: "read_file", CallID: "c1",
		StartedAt: start, InputSize: 12,
	})
	if err != nil {
		t.Fatalf("RecordToolStart failed: %v", err)
	}

	running, err := s.SessionExecutions(ctx, "s1")
	if err != nil {
		t.Fatalf("SessionExecutions failed: %v", err)
	}
	if len(running) != 1 || running[0].Status != StatusRunning {
		t.Fatalf("unexpected rows: %+v", running)
	}
	if running[0].Duration != nil || running[0].CompletedAt != nil {
		t.Errorf("running execution must have no duration or completion time")
	}

	err = s.RecordToolCompletion(ctx, id, ToolCompletion{
		CompletedAt: start.Add(250 * time.Millisecond), Status: StatusSuccess, OutputSize: 40,
	})
	if err != nil {
		t.Fatalf("RecordToolCompletion failed: %v", err)
	}

	done, _ := s.SessionExecutions(ctx, "s1")
	ex := done[0]
	if ex.Status != StatusSuccess || ex.Duration == nil || *ex.Duration != 250*time.Millisecond {
		t.Errorf("unexpected completed row: %+v", ex)
	}
	if ex.InputSize != 12 || ex.OutputSize != 40 || ex.CallID != "c1" {
		t.Errorf("sizes or call id lost: %+v", ex)
	}
}

func TestCompletionAppliedOnce(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.Now()

	id, _ := s.RecordToolStart(ctx, ToolStartRecord{SessionID: "s", AgentKey: "a", ToolName: "t", StartedAt: start})
	if err := s.RecordToolCompletion(ctx, id, ToolCompletion{CompletedAt: start, Status: StatusError, ErrorMessage: "first"}); err != nil {
		t.Fatalf("first completion failed: %v", err)
	}

	err := s.RecordToolCompletion(ctx, id, ToolCompletion{CompletedAt: start, Status: StatusSuccess})
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("expected ErrAlreadyCompleted, got %v", err)
	}

	rows, _ := s.SessionExecutions(ctx, "s")
	if rows[0].Status != StatusError || rows[0].ErrorMessage != "first" {
		t.Errorf("second completion overwrote the row: %+v", rows[0])
	}

	if err := s.RecordToolCompletion(ctx, id, ToolCompletion{CompletedAt: start, Status: StatusRunning}); err == nil {
		t.Error("running is not a valid completion status")
	}
}

func TestRecordToolExecutionComputesDuration(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.UnixMilli(1_000)
	end := time.UnixMilli(1_750)

	_, err := s.RecordToolExecution(ctx, ToolExecution{
		SessionID: "s", AgentKey: "a", ToolName: "fetch_url", StartedAt: start,
		CompletedAt: &end, Status: StatusTimeout, ErrorMessage: "tool timed out",
	})
	if err != nil {
		t.Fatalf("RecordToolExecution failed: %v", err)
	}

	rows, _ := s.RecentExecutions(ctx, 10)
	if len(rows) != 1 || *rows[0].Duration != 750*time.Millisecond || rows[0].Status != StatusTimeout {
		t.Errorf("unexpected row: %+v", rows)
	}

	if _, err := s.RecordToolExecution(ctx, ToolExecution{SessionID: "s", Status: StatusSuccess}); err == nil {
		t.Error("expected error without completion time")
	}
}

func TestSessionStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	first := time.UnixMilli(5_000)

	if err := s.RecordSessionStart(ctx, "s1", "file", first); err != nil {
		t.Fatalf("RecordSessionStart failed: %v", err)
	}
	if err := s.RecordSessionStart(ctx, "s1", "other", first.Add(time.Hour)); err != nil {
		t.Fatalf("duplicate RecordSessionStart failed: %v", err)
	}

	rec, err := s.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if rec.AgentKey != "file" || !rec.StartedAt.Equal(first) || rec.Completed() {
		t.Errorf("duplicate start modified row: %+v", rec)
	}
}

func TestSessionEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.UnixMilli(10_000)
	end := start.Add(3 * time.Second)

	_ = s.RecordSessionStart(ctx, "s1", "file", start)
	err := s.RecordSessionEnd(ctx, SessionRecord{
		SessionID: "s1", AgentKey: "file", CompletedAt: &end,
		TotalTools: 3, SuccessCount: 2, ErrorCount: 1, FinalResult: "done",
	})
	if err != nil {
		t.Fatalf("RecordSessionEnd failed: %v", err)
	}

	rec, _ := s.Session(ctx, "s1")
	if !rec.StartedAt.Equal(start) {
		t.Errorf("end must not move start time: %v", rec.StartedAt)
	}
	if !rec.Completed() || !rec.CompletedAt.Equal(end) {
		t.Errorf("completion not stored: %+v", rec)
	}
	if rec.TotalTools != 3 || rec.SuccessCount != 2 || rec.ErrorCount != 1 || rec.FinalResult != "done" {
		t.Errorf("counts not stored: %+v", rec)
	}
}

func TestSessionEndWithoutStartUpserts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	end := time.UnixMilli(99_000)

	if err := s.RecordSessionEnd(ctx, SessionRecord{SessionID: "late", AgentKey: "a", CompletedAt: &end}); err != nil {
		t.Fatalf("RecordSessionEnd failed: %v", err)
	}
	rec, err := s.Session(ctx, "late")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !rec.StartedAt.Equal(end) || !rec.Completed() {
		t.Errorf("unexpected upserted row: %+v", rec)
	}
}

func TestSessionEndAccumulatesRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	start := time.UnixMilli(1_700_000_000_000)

	_ = s.RecordSessionStart(ctx, "wf", "file", start)
	runs := []SessionRecord{
		{TotalTools: 2, SuccessCount: 2, FinalResult: "step one"},
		{TotalTools: 3, SuccessCount: 1, ErrorCount: 2, FinalResult: "step two"},
	}
	for i, run := range runs {
		end := start.Add(time.Duration(i+1) * time.Minute)
		run.SessionID, run.AgentKey, run.CompletedAt = "wf", "file", &end
		if err := s.RecordSessionEnd(ctx, run); err != nil {
			t.Fatalf("RecordSessionEnd %d failed: %v", i, err)
		}
	}

	rec, err := s.Session(ctx, "wf")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if rec.TotalTools != 5 || rec.SuccessCount != 3 || rec.ErrorCount != 2 {
		t.Errorf("counts = %d/%d/%d, want 5/3/2", rec.TotalTools, rec.SuccessCount, rec.ErrorCount)
	}
	if rec.FinalResult != "step two" || !rec.CompletedAt.Equal(start.Add(2*time.Minute)) {
		t.Errorf("latest run not reflected: %+v", rec)
	}
}

func TestSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Session(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func seedExecutions(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	base := time.UnixMilli(1_000_000)
	rows := []struct {
		agent, tool string
		status      Status
		durMs       int64
	}{
		{"file", "read_file", StatusSuccess, 100},
		{"file", "read_file", StatusSuccess, 300},
		{"file", "read_file", StatusError, 200},
		{"file", "list_files", StatusSuccess, 50},
		{"web", "fetch_url", StatusTimeout, 1000},
	}
	for i, r := range rows {
		start := base.Add(time.Duration(i) * time.Second)
		end := start.Add(time.Duration(r.durMs) * time.Millisecond)
		_, err := s.RecordToolExecution(ctx, ToolExecution{
			SessionID: "s-" + r.agent, AgentKey: r.agent, ToolName: r.tool,
			StartedAt: start, CompletedAt: &end, Status: r.status,
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
	_ = s.RecordSessionStart(ctx, "s-file", "file", base)
	_ = s.RecordSessionStart(ctx, "s-web", "web", base)
	end := base.Add(time.Minute)
	_ = s.RecordSessionEnd(ctx, SessionRecord{SessionID: "s-file", AgentKey: "file", CompletedAt: &end, TotalTools: 4})
}

func TestToolMetrics(t *testing.T) {
	s := newTestStore(t)
	seedExecutions(t, s)

	sum, err := s.ToolMetrics(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("ToolMetrics failed: %v", err)
	}
	if sum.TotalExecutions != 5 || sum.SuccessCount != 3 || sum.ErrorCount != 1 || sum.TimeoutCount != 1 {
		t.Errorf("unexpected totals: %+v", sum)
	}
	if sum.SuccessRate != 0.6 {
		t.Errorf("SuccessRate = %v, want 0.6", sum.SuccessRate)
	}
	if sum.AvgDurationMs != 330 {
		t.Errorf("AvgDurationMs = %v, want 330", sum.AvgDurationMs)
	}
	if len(sum.TopTools) != 3 || sum.TopTools[0].ToolName != "read_file" || sum.TopTools[0].Executions != 3 {
		t.Errorf("unexpected top tools: %+v", sum.TopTools)
	}
}

func TestToolMetricsWindow(t *testing.T) {
	s := newTestStore(t)
	seedExecutions(t, s)

	// Only the last two rows start at or after base+3s.
	sum, _ := s.ToolMetrics(context.Background(), time.UnixMilli(1_003_000))
	if sum.TotalExecutions != 2 {
		t.Errorf("windowed total = %d, want 2", sum.TotalExecutions)
	}
}

func TestTopToolsLimit(t *testing.T) {
	s := newTestStore(t)
	seedExecutions(t, s)

	top, err := s.TopTools(context.Background(), 1, time.Time{})
	if err != nil {
		t.Fatalf("TopTools failed: %v", err)
	}
	if len(top) != 1 {
		t.Fatalf("len = %d, want 1", len(top))
	}
	want := 2.0 / 3.0
	if top[0].SuccessRate != want {
		t.Errorf("read_file success rate = %v, want %v", top[0].SuccessRate, want)
	}
}

func TestAgentMetricsAndErrorRate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedExecutions(t, s)

	agents, err := s.AgentMetrics(ctx, time.Time{})
	if err != nil {
		t.Fatalf("AgentMetrics failed: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	file := agents[0]
	if file.AgentKey != "file" || file.Sessions != 1 || file.CompletedSessions != 1 || file.Executions != 4 {
		t.Errorf("unexpected file stats: %+v", file)
	}
	if file.AvgToolsPerSession != 4 || file.SuccessRate != 0.75 {
		t.Errorf("unexpected file rates: %+v", file)
	}

	rate, err := s.ErrorRate(ctx, time.Time{})
	if err != nil {
		t.Fatalf("ErrorRate failed: %v", err)
	}
	if rate != 0.4 {
		t.Errorf("ErrorRate = %v, want 0.4", rate)
	}
}

func TestRecentFailures(t *testing.T) {
	s := newTestStore(t)
	seedExecutions(t, s)

	failed, err := s.RecentFailures(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentFailures failed: %v", err)
	}
	if len(failed) != 2 {
		t.Fatalf("len = %d, want 2", len(failed))
	}
	if failed[0].ToolName != "fetch_url" || failed[0].Status != StatusTimeout {
		t.Errorf("newest failure = %+v, want fetch_url timeout", failed[0])
	}
	if failed[1].Status != StatusError {
		t.Errorf("second failure status = %s, want error", failed[1].Status)
	}
}

func TestSessionHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for i := 0; i < 5; i++ {
		_ = s.RecordSessionStart(ctx, fmt.Sprintf("s%d", i), "a", time.UnixMilli(int64(i)*1000))
	}

	hist, err := s.SessionHistory(ctx, 3)
	if err != nil {
		t.Fatalf("SessionHistory failed: %v", err)
	}
	if len(hist) != 3 || hist[0].SessionID != "s4" || hist[2].SessionID != "s2" {
		t.Errorf("unexpected history: %+v", hist)
	}
}

func TestWorkflowLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	start := time.UnixMilli(50_000)

	id, err := s.RecordWorkflowStart(ctx, WorkflowRecord{WorkflowName: "report", SessionID: "wf", StartedAt: start, StepsTotal: 3})
	if err != nil {
		t.Fatalf("RecordWorkflowStart failed: %v", err)
	}
	if id == "" {
		t.Fatal("expected generated id")
	}

	if err := s.RecordWorkflowEnd(ctx, id, WorkflowError, 1, "step 2 failed", start.Add(2*time.Second)); err != nil {
		t.Fatalf("RecordWorkflowEnd failed: %v", err)
	}
	if err := s.RecordWorkflowEnd(ctx, id, WorkflowSuccess, 3, "", start); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted on second end, got %v", err)
	}

	wfs, _ := s.RecentWorkflows(ctx, 10)
	if len(wfs) != 1 {
		t.Fatalf("expected 1 workflow, got %d", len(wfs))
	}
	wf := wfs[0]
	if wf.Status != WorkflowError || wf.StepsCompleted != 1 || *wf.Duration != 2*time.Second || wf.ErrorMessage != "step 2 failed" {
		t.Errorf("unexpected workflow: %+v", wf)
	}
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "metrics.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter*2)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				now := time.Now()
				id, err := s.RecordToolStart(ctx, ToolStartRecord{
					SessionID: fmt.Sprintf("s%d", w), AgentKey: "a", ToolName: "t", StartedAt: now,
				})
				if err != nil {
					errs <- err
					continue
				}
				if err := s.RecordToolCompletion(ctx, id, ToolCompletion{CompletedAt: now, Status: StatusSuccess}); err != nil {
					errs <- err
				}
			}
		}(w)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			if _, err := s.ToolMetrics(ctx, time.Time{}); err != nil {
				errs <- err
			}
		}
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent access failed: %v", err)
	}

	sum, _ := s.ToolMetrics(ctx, time.Time{})
	if sum.TotalExecutions != writers*perWriter || sum.SuccessCount != writers*perWriter {
		t.Errorf("lost writes: %+v", sum)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "metrics.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	_ = s.RecordSessionStart(ctx, "persist", "a", time.Now())
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Session(ctx, "persist"); err != nil {
		t.Errorf("session lost across reopen: %v", err)
	}
}
