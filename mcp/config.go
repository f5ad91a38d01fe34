// MCP server configuration.
//
// Servers come from a JSON file in the mcpServers format used by MCP
// clients, from --mcp command strings, or both:
//
//	{
//	  "mcpServers": {
//	    "filesystem": {
//	      "command": "npx",
//	      "args": ["-y", "@modelcontextprotocol/server-filesystem", "${HOME}/notes"]
//	    }
//	  }
//	}
//
// ${VAR} references in args and env values are expanded from the process
// environment when the file is loaded.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Config is the set of servers to connect, keyed by server name.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// ServerConfig starts one server process.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// NewConfig returns an empty configuration.
func NewConfig() *Config {
	return &Config{MCPServers: map[string]ServerConfig{}}
}

// LoadConfig reads a configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a configuration and expands environment references.
// Every server must name a command.
func ParseConfig(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = map[string]ServerConfig{}
	}

	for name, server := range cfg.MCPServers {
		if server.Command == "" {
			return nil, fmt.Errorf("server %s: command is required", name)
		}
		for i, arg := range server.Args {
			server.Args[i] = os.ExpandEnv(arg)
		}
		for k, v := range server.Env {
			server.Env[k] = os.ExpandEnv(v)
		}
		cfg.MCPServers[name] = server
	}
	return cfg, nil
}

// AddCommand adds a server given as a whitespace-separated command line,
// naming it mcp-N after the servers already added this way.
func (c *Config) AddCommand(command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty MCP server command")
	}

	name := ""
	for n := 1; ; n++ {
		name = fmt.Sprintf("mcp-%d", n)
		if _, taken := c.MCPServers[name]; !taken {
			break
		}
	}
	c.MCPServers[name] = ServerConfig{Command: fields[0], Args: fields[1:]}
	return name, nil
}

// ServerNames returns the configured server names in sorted order.
func (c *Config) ServerNames() []string {
	names := make([]string, 0, len(c.MCPServers))
	for name := range c.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether no servers are configured.
func (c *Config) Empty() bool {
	return c == nil || len(c.MCPServers) == 0
}
