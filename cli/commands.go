// Command execution for CLI commands.
//
// Information Hiding:
// - Output formatting hidden
// - Chat input handling hidden
// - Metrics endpoint lifecycle hidden

package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/richinex/chronicle/agent"
	"github.com/richinex/chronicle/mcp"
	"github.com/richinex/chronicle/session"
	"github.com/richinex/chronicle/tools"
	"github.com/richinex/chronicle/workflow"
)

// RunTask executes one task with an agent.
func RunTask(ctx context.Context, agentKey, task, sessionID string, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.RunTask(ctx, opts.stdout(), agentKey, task, sessionID, opts.Verbose)
}

// RunTask executes task and prints the result.
func (a *App) RunTask(ctx context.Context, w io.Writer, agentKey, task, sessionID string, verbose bool) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	resp := a.Runner.RunToolLoop(ctx, agentKey, task, sessionID)
	printResponse(w, resp, verbose)
	if !resp.IsSuccess() {
		return fmt.Errorf("task failed: %w", resp.Err)
	}
	return nil
}

func printResponse(w io.Writer, resp agent.Response, verbose bool) {
	if !resp.IsSuccess() {
		printError(w, "Error: %s", resp.ResultText())
		return
	}

	fmt.Fprintf(w, "%s\n\n", resp.Result)

	meta := resp.Metadata
	summary := fmt.Sprintf("session %s | %d turns | %d tools (%d ok, %d failed) | %dms",
		resp.SessionID, meta.Turns, len(resp.ToolsUsed), meta.SuccessCount, meta.ErrorCount, meta.ExecutionTimeMs)
	if meta.ForcedStop {
		summary += " | stopped at message limit"
	}
	printMuted(w, "%s", summary)

	if verbose {
		if len(resp.ToolsUsed) > 0 {
			printMuted(w, "tools: %s", strings.Join(resp.ToolsUsed, ", "))
		}
		u := meta.TokenUsage
		printMuted(w, "tokens: %d prompt, %d completion, %d total", u.PromptTokens, u.CompletionTokens, u.TotalTokens)
	}
}

// ChatOptions configures an interactive session.
type ChatOptions struct {
	AgentKey  string
	SessionID string
	// MetricsAddr serves Prometheus metrics on this address when set.
	MetricsAddr string
}

// Chat starts an interactive chat session on stdin.
func Chat(ctx context.Context, chat ChatOptions, opts Options) error {
	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	if chat.MetricsAddr != "" {
		stop, err := ServeMetrics(chat.MetricsAddr, app.Registry, app.Logger)
		if err != nil {
			return err
		}
		defer stop()
		printMuted(opts.stdout(), "metrics at http://%s/metrics", chat.MetricsAddr)
	}

	interactive := isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	return app.Chat(ctx, os.Stdin, opts.stdout(), chat.AgentKey, chat.SessionID, interactive)
}

// Chat reads one message per line from in until EOF, "exit" or "quit".
// "/clear" empties the session history. The prompt is printed only when
// interactive is set.
func (a *App) Chat(ctx context.Context, in io.Reader, w io.Writer, agentKey, sessionID string, interactive bool) error {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	s, err := a.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if len(s.Messages) > 0 {
		printMuted(w, "Session %s has %d stored messages", sessionID, len(s.Messages))
	}
	printTitle(w, "Chat with %s agent (session %s). Type 'exit' to quit, '/clear' to reset.", agentKey, sessionID)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(w, "> ")
		}
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/clear":
			if err := a.Sessions.Clear(ctx, sessionID); err != nil {
				printError(w, "Error: %v", err)
			} else {
				printMuted(w, "history cleared")
			}
			continue
		}

		resp := a.Runner.RunToolLoop(ctx, agentKey, input, sessionID)
		fmt.Fprintln(w)
		printResponse(w, resp, false)
		fmt.Fprintln(w)

		if errors.Is(resp.Err, agent.ErrAgentNotFound) || ctx.Err() != nil {
			return resp.Err
		}
	}
	return scanner.Err()
}

// ServeMetrics exposes reg on addr under /metrics. The returned function
// shuts the server down.
func ServeMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", slog.String("error", err.Error()))
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}

// RunWorkflow runs the workflow definition at path.
func RunWorkflow(ctx context.Context, path, input, sessionID string, opts Options) error {
	def, err := workflow.Load(path)
	if err != nil {
		return err
	}

	app, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.RunWorkflow(ctx, opts.stdout(), def, input, sessionID)
}

// RunWorkflow runs def and prints each step.
func (a *App) RunWorkflow(ctx context.Context, w io.Writer, def workflow.Definition, input, sessionID string) error {
	runner := workflow.NewRunner(a.Runner,
		workflow.WithStore(a.Metrics),
		workflow.WithLogger(a.Logger),
	)

	printTitle(w, "Workflow %s (%d steps)", def.Name, len(def.Steps))
	res, err := runner.Run(ctx, def, input, sessionID)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(res.Steps))
	for _, step := range res.Steps {
		status, detail := "success", truncate(step.Response.Result, 60)
		if step.Err != nil {
			status, detail = "error", truncate(step.Err.Error(), 60)
		}
		rows = append(rows, []string{
			step.Name,
			step.Agent,
			statusText(status),
			fmt.Sprintf("%dms", step.Response.Metadata.ExecutionTimeMs),
			detail,
		})
	}
	renderTable(w, []string{"Step", "Agent", "Status", "Time", "Detail"}, rows)

	if res.Output != "" {
		fmt.Fprintf(w, "\n%s\n\n", res.Output)
	}
	printMuted(w, "session %s | %d/%d steps completed", res.SessionID, res.StepsCompleted(), len(def.Steps))

	if res.Err != nil {
		return fmt.Errorf("workflow %s: %w", def.Name, res.Err)
	}
	return nil
}

// ListAgents prints the built-in agents and their tools.
func ListAgents(w io.Writer) error {
	catalog, err := tools.WithDefaults()
	if err != nil {
		return err
	}

	rows := [][]string{}
	for _, cfg := range DefaultAgents(catalog, nil) {
		names := []string{}
		if cfg.Catalog != nil {
			names = cfg.Catalog.Names()
		}
		rows = append(rows, []string{cfg.Name, cfg.Description, strings.Join(names, ", ")})
	}
	renderTable(w, []string{"Agent", "Description", "Tools"}, rows)
	return nil
}

// ListTools prints the built-in tools and, when opts names MCP servers,
// the tools they serve.
func ListTools(ctx context.Context, verbose bool, opts Options) error {
	catalog, err := tools.WithDefaults()
	if err != nil {
		return err
	}

	if len(opts.MCPServers) > 0 || opts.MCPConfig != "" {
		cfg, err := mcpConfig(opts.MCPServers, opts.MCPConfig)
		if err != nil {
			return err
		}
		manager, err := mcp.Connect(ctx, cfg, slog.New(slog.DiscardHandler))
		if err != nil {
			return err
		}
		defer manager.Close()
		if _, err := manager.RegisterInto(catalog); err != nil {
			return err
		}
	}

	printTools(opts.stdout(), catalog, verbose)
	return nil
}

func printTools(w io.Writer, catalog *tools.Catalog, verbose bool) {
	rows := [][]string{}
	for _, meta := range catalog.List() {
		row := []string{meta.Name, truncate(meta.Description, 70)}
		if verbose {
			params := make([]string, 0, len(meta.Parameters))
			for _, p := range meta.Parameters {
				name := p.Name
				if p.Required {
					name += "*"
				}
				params = append(params, fmt.Sprintf("%s:%s", name, p.ParamType))
			}
			row = append(row, strings.Join(params, " "))
		}
		rows = append(rows, row)
	}

	headers := []string{"Tool", "Description"}
	if verbose {
		headers = append(headers, "Parameters (* required)")
	}
	renderTable(w, headers, rows)
}

// openSessionStore opens the conversation store without selecting a provider.
func openSessionStore(opts Options) (*session.SQLiteStore, error) {
	return session.OpenSQLiteStore(opts.dbPath())
}

// ListSessions prints stored session ids, most recent first.
func ListSessions(ctx context.Context, opts Options) error {
	store, err := openSessionStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	ids, err := store.List(ctx)
	if err != nil {
		return err
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		s, found, err := store.Load(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		completed := "-"
		if s.CompletedAt != nil {
			completed = s.CompletedAt.Format(time.DateTime)
		}
		rows = append(rows, []string{id, s.AgentKey, fmt.Sprintf("%d", len(s.Messages)), s.StartedAt.Format(time.DateTime), completed})
	}
	renderTable(opts.stdout(), []string{"Session", "Agent", "Messages", "Started", "Last completed"}, rows)
	return nil
}

// ShowSession prints the stored history of one session.
func ShowSession(ctx context.Context, id string, opts Options) error {
	store, err := openSessionStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	s, found, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session %s not found", id)
	}
	printSession(opts.stdout(), s)
	return nil
}

func printSession(w io.Writer, s session.Session) {
	printTitle(w, "Session %s (%s, %d messages)", s.ID, s.AgentKey, len(s.Messages))
	for _, msg := range s.Messages {
		if text := msg.Text(); text != "" {
			fmt.Fprintf(w, "[%s] %s\n", msg.Role, text)
		}
		for _, call := range msg.ToolCalls() {
			printMuted(w, "[%s] call %s %s(%s)", msg.Role, call.ID, call.Name, truncate(string(call.Arguments), 80))
		}
		for _, res := range msg.ToolResults() {
			printMuted(w, "[%s] result %s: %s", msg.Role, res.CallID, truncate(res.Content, 80))
		}
	}
}

// ClearSession deletes the stored history of one session. Clearing an
// unknown session succeeds.
func ClearSession(ctx context.Context, id string, opts Options) error {
	store, err := openSessionStore(opts)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := session.NewRegistry(session.WithStore(store)).Clear(ctx, id); err != nil {
		return err
	}
	printMuted(opts.stdout(), "session %s cleared", id)
	return nil
}
