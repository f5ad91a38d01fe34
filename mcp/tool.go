package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/richinex/chronicle/tools"
)

// remoteTool exposes one server-side tool through the catalog.
type remoteTool struct {
	tools.BaseTool
	client *Client
	server string
	info   ToolInfo
}

func (t *remoteTool) Metadata() tools.ToolMetadata {
	desc := t.info.Description
	if desc == "" {
		desc = fmt.Sprintf("%s tool served by %s", t.info.Name, t.server)
	}
	return tools.ToolMetadata{
		Name:        t.info.Name,
		Description: desc,
		Parameters:  parseParameters(t.info.InputSchema),
	}
}

// Execute forwards the call. Transport failures are returned as errors so
// the executor can retry; a server-reported isError becomes a failure result.
func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (tools.ToolResult, error) {
	result, err := t.client.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return tools.ToolResult{}, fmt.Errorf("%s/%s: %w", t.server, t.info.Name, err)
	}
	return toToolResult(result), nil
}

// Validate checks only that arguments are a JSON object; the server owns
// schema validation.
func (t *remoteTool) Validate(args json.RawMessage) error {
	if len(args) == 0 {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("invalid JSON arguments: %w", err)
	}
	return nil
}

// parseParameters flattens the top-level properties of a JSON schema,
// sorted by name.
func parseParameters(inputSchema json.RawMessage) []tools.ToolParameter {
	var schema struct {
		Properties map[string]struct {
			Type        string `json:"type"`
			Description string `json:"description"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(inputSchema, &schema); err != nil {
		return nil
	}

	required := make(map[string]bool, len(schema.Required))
	for _, r := range schema.Required {
		required[r] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]tools.ToolParameter, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		paramType := prop.Type
		if paramType == "" {
			paramType = "string"
		}
		params = append(params, tools.ToolParameter{
			Name:        name,
			ParamType:   paramType,
			Description: prop.Description,
			Required:    required[name],
		})
	}
	return params
}

// toToolResult joins the text content items. Non-text items are noted by type.
func toToolResult(result CallResult) tools.ToolResult {
	parts := make([]string, 0, len(result.Content))
	for _, item := range result.Content {
		if item.Type == "text" {
			parts = append(parts, item.Text)
			continue
		}
		parts = append(parts, fmt.Sprintf("[%s content]", item.Type))
	}
	text := strings.Join(parts, "\n")

	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return tools.FailureResult(errors.New(text))
	}
	return tools.SuccessResult(text)
}

// ToolManager owns the clients of every connected server.
// The caller must call Close when done.
type ToolManager struct {
	clients map[string]*Client
	tools   []tools.Tool
	logger  *slog.Logger
}

// NewToolManager creates an empty manager.
func NewToolManager(logger *slog.Logger) *ToolManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolManager{
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// Connect starts every configured server in name order and discovers its
// tools. On error, servers already started are closed.
func Connect(ctx context.Context, cfg *Config, logger *slog.Logger) (*ToolManager, error) {
	m := NewToolManager(logger)
	for _, name := range cfg.ServerNames() {
		client, err := NewClient(ctx, cfg.MCPServers[name])
		if err != nil {
			m.Close()
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
		if err := m.Add(ctx, name, client); err != nil {
			client.Close()
			m.Close()
			return nil, fmt.Errorf("server %s: %w", name, err)
		}
	}
	return m, nil
}

// Add discovers the tools of a connected client and takes ownership of it.
func (m *ToolManager) Add(ctx context.Context, server string, client *Client) error {
	if _, exists := m.clients[server]; exists {
		return fmt.Errorf("server %s already added", server)
	}

	infos, err := client.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tools: %w", err)
	}

	for _, info := range infos {
		m.tools = append(m.tools, &remoteTool{client: client, server: server, info: info})
	}
	m.clients[server] = client
	m.logger.Info("mcp server connected", "server", server, "tools", len(infos))
	return nil
}

// Tools returns the discovered tools.
func (m *ToolManager) Tools() []tools.Tool {
	return m.tools
}

// RegisterInto adds every discovered tool to c and returns their names.
// A name already present in c is an error.
func (m *ToolManager) RegisterInto(c *tools.Catalog) ([]string, error) {
	names := make([]string, 0, len(m.tools))
	for _, t := range m.tools {
		if err := c.Register(t); err != nil {
			return names, err
		}
		names = append(names, t.Metadata().Name)
	}
	return names, nil
}

// Close closes every client. The first error is returned.
func (m *ToolManager) Close() error {
	var first error
	for name, client := range m.clients {
		if err := client.Close(); err != nil && first == nil {
			first = fmt.Errorf("server %s: %w", name, err)
		}
	}
	m.clients = make(map[string]*Client)
	m.tools = nil
	return first
}
