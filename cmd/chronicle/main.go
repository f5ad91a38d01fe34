// Package main provides the chronicle CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/chronicle/cli"
)

var (
	// Global flags
	provider   string
	dbPath     string
	verbose    bool
	mcpServers []string
	mcpConfig  string
)

func options() cli.Options {
	return cli.Options{
		Provider:   provider,
		DBPath:     dbPath,
		Verbose:    verbose,
		MCPServers: mcpServers,
		MCPConfig:  mcpConfig,
	}
}

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Tool-calling agents with recorded executions",
		Long: `Run tool-calling LLM agents. Every tool invocation and session is
published on an event bus and recorded in a local SQLite database, which the
stats command reports on.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&provider, "provider", "p", "", "LLM provider (anthropic, deepseek, gemini, openai)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default $CHRONICLE_DB_PATH or ~/.chronicle/chronicle.db)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs and run details")
	rootCmd.PersistentFlags().StringArrayVar(&mcpServers, "mcp", nil, "MCP server command (repeatable)")
	rootCmd.PersistentFlags().StringVar(&mcpConfig, "mcp-config", "", "Path to MCP config file")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(workflowCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(toolsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "run [agent] [task]",
		Short: "Run one task with an agent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunTask(cmd.Context(), args[0], args[1], sessionID, options())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID to continue (default: new session)")

	return cmd
}

func chatCmd() *cobra.Command {
	var chat cli.ChatOptions

	cmd := &cobra.Command{
		Use:   "chat [agent]",
		Short: "Start an interactive chat session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chat.AgentKey = string(cli.AgentGeneral)
			if len(args) == 1 {
				chat.AgentKey = args[0]
			}
			return cli.Chat(cmd.Context(), chat, options())
		},
	}

	cmd.Flags().StringVar(&chat.SessionID, "session", "", "Session ID for conversation persistence")
	cmd.Flags().StringVar(&chat.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. localhost:9090)")

	return cmd
}

func workflowCmd() *cobra.Command {
	var input string
	var sessionID string

	cmd := &cobra.Command{
		Use:   "workflow [file.yaml]",
		Short: "Run a multi-step workflow definition",
		Long: `Run the steps of a YAML workflow in order on one session.

Each step's input may reference {{input}} (the --input value) and
{{previous}} (the prior step's result).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.RunWorkflow(cmd.Context(), args[0], input, sessionID, options())
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Workflow input")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session ID (default: new session)")

	return cmd
}

func statsCmd() *cobra.Command {
	var stats cli.StatsOptions

	reports := make([]string, len(cli.Reports))
	for i, r := range cli.Reports {
		reports[i] = string(r)
	}

	cmd := &cobra.Command{
		Use:       "stats [" + strings.Join(reports, "|") + "]",
		Short:     "Report on recorded tool executions, sessions and workflows",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: reports,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stats(cmd.Context(), cli.Report(args[0]), stats, options())
		},
	}

	cmd.Flags().DurationVar(&stats.Since, "since", 0, "Only include records from this window (e.g. 24h)")
	cmd.Flags().IntVarP(&stats.Limit, "limit", "n", 20, "Maximum rows")

	cmd.AddCommand(&cobra.Command{
		Use:   "session [id]",
		Short: "Show one recorded session and its tool executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.StatsSession(cmd.Context(), args[0], options())
		},
	})

	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored conversation history",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListSessions(cmd.Context(), options())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Print the stored history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ShowSession(cmd.Context(), args[0], options())
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear [id]",
		Short: "Delete the stored history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ClearSession(cmd.Context(), args[0], options())
		},
	})

	return cmd
}

func agentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List built-in agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.ListAgents(os.Stdout)
		},
	}
}

func toolsCmd() *cobra.Command {
	var verboseTools bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List available tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return cli.ListTools(ctx, verboseTools, options())
		},
	}

	cmd.Flags().BoolVarP(&verboseTools, "params", "P", false, "Show tool parameters")

	return cmd
}
