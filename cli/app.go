// Application wiring for CLI commands.
//
// Information Hiding:
// - Store, bus and listener lifecycles hidden
// - Provider construction hidden
// - MCP connection management hidden

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/richinex/chronicle/agent"
	"github.com/richinex/chronicle/analytics"
	"github.com/richinex/chronicle/config"
	"github.com/richinex/chronicle/events"
	"github.com/richinex/chronicle/internal/logging"
	"github.com/richinex/chronicle/llm"
	"github.com/richinex/chronicle/mcp"
	"github.com/richinex/chronicle/metrics"
	"github.com/richinex/chronicle/session"
	"github.com/richinex/chronicle/tools"
)

// Options holds global CLI options.
type Options struct {
	Provider string
	// DBPath overrides CHRONICLE_DB_PATH when set.
	DBPath     string
	Verbose    bool
	MCPServers []string
	MCPConfig  string
	Out        io.Writer
	Err        io.Writer
}

func (o Options) stdout() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (o Options) stderr() io.Writer {
	if o.Err != nil {
		return o.Err
	}
	return os.Stderr
}

func (o Options) dbPath() string {
	if o.DBPath != "" {
		return o.DBPath
	}
	return config.DBPath()
}

// App holds the components one command runs against.
type App struct {
	Settings  config.Settings
	Logger    *slog.Logger
	Bus       *events.Bus
	Metrics   *metrics.Store
	Sessions  *session.Registry
	Runner    *agent.Runner
	Catalog   *tools.Catalog
	Listener  *analytics.Listener
	Telemetry *analytics.Telemetry
	Registry  *prometheus.Registry

	mcp     *mcp.ToolManager
	closers []func() error
}

// Open builds the application for opts: settings from the environment, the
// selected provider, SQLite stores at the configured path, and any MCP servers.
func Open(ctx context.Context, opts Options) (*App, error) {
	if opts.Provider == "" {
		return nil, fmt.Errorf("--provider is required for this command (one of %s)",
			strings.Join(config.SupportedProviders(), ", "))
	}

	settings, err := config.New(opts.Provider)
	if err != nil {
		return nil, err
	}
	if opts.DBPath != "" {
		settings.Storage.DBPath = opts.DBPath
	}

	level := settings.Log.Level
	if opts.Verbose {
		level = "debug"
	}
	logger, err := logging.New(level, settings.Log.Format, opts.stderr())
	if err != nil {
		return nil, err
	}

	provider, err := createProvider(settings)
	if err != nil {
		return nil, err
	}

	store, err := metrics.Open(settings.Storage.DBPath)
	if err != nil {
		return nil, err
	}
	sessionStore, err := session.OpenSQLiteStore(settings.Storage.DBPath)
	if err != nil {
		store.Close()
		return nil, err
	}

	var manager *mcp.ToolManager
	if len(opts.MCPServers) > 0 || opts.MCPConfig != "" {
		cfg, err := mcpConfig(opts.MCPServers, opts.MCPConfig)
		if err == nil && !cfg.Empty() {
			manager, err = mcp.Connect(ctx, cfg, logger)
		}
		if err != nil {
			sessionStore.Close()
			store.Close()
			return nil, fmt.Errorf("mcp: %w", err)
		}
	}

	app, err := assemble(settings, provider, store, sessionStore, manager, logger)
	if err != nil {
		if manager != nil {
			manager.Close()
		}
		sessionStore.Close()
		store.Close()
		return nil, err
	}
	app.closers = append(app.closers, sessionStore.Close, store.Close)
	return app, nil
}

// assemble wires the bus, listeners, session registry and runner around
// already opened stores. The caller owns the stores.
func assemble(settings config.Settings, provider llm.Provider, store *metrics.Store, sessionStore session.Store, manager *mcp.ToolManager, logger *slog.Logger) (*App, error) {
	catalog, err := tools.WithDefaults()
	if err != nil {
		return nil, err
	}

	var mcpTools []string
	if manager != nil {
		if mcpTools, err = manager.RegisterInto(catalog); err != nil {
			return nil, fmt.Errorf("mcp: %w", err)
		}
	}

	bus := events.NewBus(events.WithLogger(logger))

	listener := analytics.NewListener(store, analytics.WithLogger(logger))
	listener.Attach(bus)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	telemetry := analytics.NewTelemetry(registry)
	telemetry.Attach(bus)

	sessions := session.NewRegistry(
		session.WithMaxHistory(settings.Session.MaxHistory),
		session.WithStore(sessionStore),
		session.WithLogger(logger),
	)

	runner := agent.NewRunner(provider,
		agent.WithBus(bus),
		agent.WithSessions(sessions),
		agent.WithToolConfig(tools.ToolConfig{
			Timeout:    settings.Tools.Timeout,
			MaxRetries: settings.Tools.MaxRetries,
		}),
		agent.WithMaxMessages(settings.Agent.MaxMessages),
		agent.WithMaxParallelTools(settings.Agent.MaxParallelTools),
		agent.WithLogger(logger),
	)
	if err := runner.RegisterAll(DefaultAgents(catalog, mcpTools)...); err != nil {
		return nil, err
	}

	app := &App{
		Settings:  settings,
		Logger:    logger,
		Bus:       bus,
		Metrics:   store,
		Sessions:  sessions,
		Runner:    runner,
		Catalog:   catalog,
		Listener:  listener,
		Telemetry: telemetry,
		Registry:  registry,
		mcp:       manager,
	}
	return app, nil
}

// Close detaches the listeners, stops MCP servers and closes the stores.
func (a *App) Close() error {
	a.Listener.Detach()
	a.Telemetry.Detach()

	var errs []error
	if a.mcp != nil {
		errs = append(errs, a.mcp.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

func createProvider(settings config.Settings) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	apiKey, err := config.APIKeyFor(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}

// mcpConfig merges servers from the config file with --mcp command strings.
func mcpConfig(commands []string, path string) (*mcp.Config, error) {
	cfg := mcp.NewConfig()
	if path != "" {
		loaded, err := mcp.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	for _, command := range commands {
		if _, err := cfg.AddCommand(command); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
