package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/chronicle/agent"
	"github.com/richinex/chronicle/config"
	"github.com/richinex/chronicle/internal/logging"
	"github.com/richinex/chronicle/llm"
	"github.com/richinex/chronicle/metrics"
	"github.com/richinex/chronicle/session"
	"github.com/richinex/chronicle/tools"
	"github.com/richinex/chronicle/workflow"
)

// scriptedProvider lists dir when asked to "list", summarises tool results,
// and echoes anything else.
type scriptedProvider struct {
	dir string

	mu    sync.Mutex
	calls int
}

func (p *scriptedProvider) Name() string  { return "scripted" }
func (p *scriptedProvider) Model() string { return "scripted-1" }

func (p *scriptedProvider) ChatWithTools(_ context.Context, messages []llm.ChatMessage, _ []llm.ToolDefinition) (llm.LLMResponse, error) {
	p.mu.Lock()
	p.calls++
	turn := p.calls
	p.mu.Unlock()

	last := messages[len(messages)-1]
	if results := last.ToolResults(); len(results) > 0 {
		return llm.LLMResponse{Content: "done: " + strings.TrimSpace(results[0].Content)}, nil
	}

	text := last.Text()
	if strings.HasPrefix(text, "list") {
		args, _ := json.Marshal(map[string]string{"path": p.dir})
		return llm.LLMResponse{ToolCalls: []llm.ToolCall{
			{ID: fmt.Sprintf("call-%d", turn), Name: "list_files", Arguments: args},
		}}, nil
	}
	return llm.LLMResponse{
		Content: "echo: " + text,
		Usage:   &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
	}, nil
}

func (p *scriptedProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func testSettings() config.Settings {
	var s config.Settings
	s.LLM.Provider = "scripted"
	s.Agent.MaxMessages = 50
	s.Tools.Timeout = 5 * time.Second
	s.Tools.MaxRetries = 1
	s.Session.MaxHistory = 20
	return s
}

func newTestApp(t *testing.T) (*App, *scriptedProvider) {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}
	provider := &scriptedProvider{dir: dir}

	store, err := metrics.OpenInMemory()
	if err != nil {
		t.Fatalf("metrics store: %v", err)
	}
	sessionStore, err := session.NewSQLiteStoreInMemory()
	if err != nil {
		t.Fatalf("session store: %v", err)
	}

	app, err := assemble(testSettings(), provider, store, sessionStore, nil, logging.Discard())
	if err != nil {
		t.Fatalf("assemble failed: %v", err)
	}
	app.closers = append(app.closers, sessionStore.Close, store.Close)
	t.Cleanup(func() { app.Close() })
	return app, provider
}

func TestAppRunTaskRecordsMetrics(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := t.Context()
	var out strings.Builder

	if err := app.RunTask(ctx, &out, "file", "list the files", "s1", true); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}
	if !strings.Contains(out.String(), "notes.txt") {
		t.Errorf("output missing tool result:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "tools: list_files") {
		t.Errorf("verbose output missing tool list:\n%s", out.String())
	}

	rec, err := app.Metrics.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if !rec.Completed() || rec.TotalTools != 1 || rec.SuccessCount != 1 {
		t.Errorf("unexpected session record: %+v", rec)
	}

	execs, _ := app.Metrics.SessionExecutions(ctx, "s1")
	if len(execs) != 1 || execs[0].ToolName != "list_files" || execs[0].Status != metrics.StatusSuccess {
		t.Errorf("unexpected executions: %+v", execs)
	}
}

func TestAppRunTaskUnknownAgent(t *testing.T) {
	app, provider := newTestApp(t)
	var out strings.Builder

	err := app.RunTask(t.Context(), &out, "nobody", "hi", "", false)
	if !errors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
	if provider.count() != 0 {
		t.Error("provider should not be called for an unknown agent")
	}
}

func TestAppChat(t *testing.T) {
	app, provider := newTestApp(t)
	ctx := t.Context()
	var out strings.Builder

	in := strings.NewReader("hello\n\n/clear\nlist please\nexit\nnever sent\n")
	if err := app.Chat(ctx, in, &out, "general", "chat-1", false); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}

	text := out.String()
	for _, want := range []string{"echo: hello", "history cleared", "done:"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, "never sent") {
		t.Error("input after exit should be ignored")
	}
	if provider.count() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.count())
	}

	s, err := app.Sessions.Get(ctx, "chat-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// Cleared after the first exchange, then user, tool call, tool result, answer.
	if len(s.Messages) != 4 {
		t.Errorf("history length = %d, want 4", len(s.Messages))
	}
}

func TestAppChatStopsOnUnknownAgent(t *testing.T) {
	app, _ := newTestApp(t)
	var out strings.Builder

	err := app.Chat(t.Context(), strings.NewReader("hi\nhi again\n"), &out, "nobody", "", false)
	if !errors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestAppRunWorkflow(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := t.Context()

	def, err := workflow.Parse([]byte(`
name: survey
steps:
  - name: greet
    agent: general
    input: "{{input}}"
  - name: relay
    agent: general
    input: "again {{previous}}"
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var out strings.Builder
	if err := app.RunWorkflow(ctx, &out, def, "hi", "wf-session"); err != nil {
		t.Fatalf("RunWorkflow failed: %v", err)
	}
	if !strings.Contains(out.String(), "echo: again echo: hi") {
		t.Errorf("output missing chained result:\n%s", out.String())
	}

	runs, err := app.Metrics.RecentWorkflows(ctx, 5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentWorkflows = %v, %v", runs, err)
	}
	if runs[0].Status != metrics.WorkflowSuccess || runs[0].StepsCompleted != 2 {
		t.Errorf("unexpected workflow record: %+v", runs[0])
	}
}

func TestPrintReports(t *testing.T) {
	app, _ := newTestApp(t)
	ctx := t.Context()
	var discard strings.Builder

	if err := app.RunTask(ctx, &discard, "file", "list", "s1", false); err != nil {
		t.Fatalf("RunTask failed: %v", err)
	}

	for _, report := range Reports {
		t.Run(string(report), func(t *testing.T) {
			var out strings.Builder
			if err := PrintReport(ctx, &out, app.Metrics, report, StatsOptions{}); err != nil {
				t.Fatalf("PrintReport failed: %v", err)
			}
			if out.Len() == 0 {
				t.Error("empty report")
			}
		})
	}

	var out strings.Builder
	PrintReport(ctx, &out, app.Metrics, ReportTools, StatsOptions{Since: time.Hour})
	if !strings.Contains(out.String(), "list_files") || !strings.Contains(out.String(), "100.0%") {
		t.Errorf("tools report missing row:\n%s", out.String())
	}

	if err := PrintReport(ctx, &out, app.Metrics, "bogus", StatsOptions{}); err == nil {
		t.Error("unknown report should fail")
	}

	out.Reset()
	if err := PrintSession(ctx, &out, app.Metrics, "s1"); err != nil {
		t.Fatalf("PrintSession failed: %v", err)
	}
	if !strings.Contains(out.String(), "list_files") {
		t.Errorf("session report missing execution:\n%s", out.String())
	}
	if err := PrintSession(ctx, &out, app.Metrics, "missing"); !errors.Is(err, metrics.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDefaultAgents(t *testing.T) {
	catalog, err := tools.WithDefaults()
	if err != nil {
		t.Fatal(err)
	}

	configs := DefaultAgents(catalog, nil)
	byName := map[string]agent.Config{}
	for _, cfg := range configs {
		byName[cfg.Name] = cfg
	}
	if _, ok := byName["mcp"]; ok {
		t.Error("mcp agent should only exist when MCP tools are present")
	}
	if names := byName["file"].Catalog.Names(); len(names) != 3 || names[0] != "find_files" || names[2] != "read_file" {
		t.Errorf("file agent tools = %v", names)
	}
	if byName["general"].Catalog.Len() != catalog.Len() {
		t.Error("general agent should see every tool")
	}

	catalog.MustRegister(tools.NewFuncTool("remote_search", "search", nil, nil))
	configs = DefaultAgents(catalog, []string{"remote_search"})
	last := configs[len(configs)-1]
	if last.Name != "mcp" || !last.Catalog.Has("remote_search") || last.Catalog.Len() != 1 {
		t.Errorf("unexpected mcp agent: %+v", last)
	}
}

func TestMCPConfigMergesFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mcp.json")
	os.WriteFile(path, []byte(`{"mcpServers":{"memory":{"command":"npx","args":["-y","server-memory"]}}}`), 0644)

	cfg, err := mcpConfig([]string{"uvx  fetch-server --port 1"}, path)
	if err != nil {
		t.Fatalf("mcpConfig failed: %v", err)
	}
	if names := cfg.ServerNames(); len(names) != 2 || names[0] != "mcp-1" || names[1] != "memory" {
		t.Errorf("ServerNames = %v", names)
	}
	srv := cfg.MCPServers["mcp-1"]
	if srv.Command != "uvx" || len(srv.Args) != 3 || srv.Args[0] != "fetch-server" {
		t.Errorf("unexpected server: %+v", srv)
	}

	if _, err := mcpConfig([]string{"   "}, ""); err == nil {
		t.Error("blank --mcp command should fail")
	}
}

func TestListings(t *testing.T) {
	var out strings.Builder
	if err := ListAgents(&out); err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if !strings.Contains(out.String(), "csv_to_json") {
		t.Errorf("agents listing missing tools:\n%s", out.String())
	}

	catalog, _ := tools.WithDefaults()
	out.Reset()
	printTools(&out, catalog, true)
	if !strings.Contains(out.String(), "url*:string") {
		t.Errorf("tools listing missing parameters:\n%s", out.String())
	}
}

func TestSessionCommands(t *testing.T) {
	opts := Options{DBPath: filepath.Join(t.TempDir(), "chronicle.db")}
	ctx := t.Context()

	store, err := session.OpenSQLiteStore(opts.DBPath)
	if err != nil {
		t.Fatal(err)
	}
	reg := session.NewRegistry(session.WithStore(store))
	reg.Append(ctx, "keep", "general", llm.UserMessage("hi"), llm.AssistantMessage("hello"))
	store.Close()

	var out strings.Builder
	opts.Out = &out

	if err := ListSessions(ctx, opts); err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if !strings.Contains(out.String(), "keep") {
		t.Errorf("listing missing session:\n%s", out.String())
	}

	out.Reset()
	if err := ShowSession(ctx, "keep", opts); err != nil {
		t.Fatalf("ShowSession failed: %v", err)
	}
	if !strings.Contains(out.String(), "[assistant] hello") {
		t.Errorf("history missing:\n%s", out.String())
	}

	if err := ClearSession(ctx, "keep", opts); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if err := ClearSession(ctx, "keep", opts); err != nil {
		t.Fatalf("repeat ClearSession failed: %v", err)
	}
	if err := ShowSession(ctx, "keep", opts); err == nil {
		t.Error("cleared session should not be found")
	}
}
