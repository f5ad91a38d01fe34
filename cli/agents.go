// Pre-built agent configurations for CLI commands.
//
// Information Hiding:
// - Prompt text hidden
// - Tool selection per agent hidden

package cli

import (
	"github.com/richinex/chronicle/agent"
	"github.com/richinex/chronicle/tools"
)

// AgentType names a built-in agent.
type AgentType string

const (
	AgentGeneral AgentType = "general"
	AgentFile    AgentType = "file"
	AgentWeb     AgentType = "web"
	AgentData    AgentType = "data"
	AgentMCP     AgentType = "mcp"
)

// DefaultAgents returns the built-in agent configurations drawing tools from
// catalog. mcpTools are the names of tools discovered on MCP servers; when
// non-empty an "mcp" agent holding them is added.
func DefaultAgents(catalog *tools.Catalog, mcpTools []string) []agent.Config {
	configs := []agent.Config{
		agent.NewBuilder(string(AgentGeneral)).
			Description("General assistant with access to every tool").
			SystemPrompt("You are a helpful assistant. Use tools when they help answer the question, then answer clearly and concisely.").
			Catalog(catalog).
			Build(),
		agent.NewBuilder(string(AgentFile)).
			Description("File operations - find, list and read files").
			SystemPrompt(`You are a file operations specialist.
Find or list files before reading files you have not seen. Quote file content only when asked.
Never guess file content; read it first.`).
			Catalog(catalog, "find_files", "list_files", "read_file").
			Build(),
		agent.NewBuilder(string(AgentWeb)).
			Description("HTTP client - fetch web pages and APIs").
			SystemPrompt("You are an HTTP client specialist. Fetch the URLs needed and summarise the responses.").
			Catalog(catalog, "fetch_url").
			Build(),
		agent.NewBuilder(string(AgentData)).
			Description("Data conversion - turn CSV files into JSON records").
			SystemPrompt("You convert and inspect tabular data. Use csv_to_json to read CSV input, then answer from the records.").
			Catalog(catalog, "csv_to_json", "find_files", "read_file").
			Build(),
	}

	if len(mcpTools) > 0 {
		configs = append(configs, agent.NewBuilder(string(AgentMCP)).
			Description("Tools served by connected MCP servers").
			SystemPrompt("You are an assistant with tools served by external MCP servers. Use them to complete the task.").
			Catalog(catalog, mcpTools...).
			Build())
	}

	return configs
}
