// Agent configuration types.
//
// Information Hiding:
// - Catalog assembly hidden
// - Default values hidden

package agent

import (
	"fmt"

	"github.com/richinex/chronicle/tools"
)

// Config holds agent configuration.
type Config struct {
	// Name is the agent key callers pass to RunToolLoop.
	Name string

	// Description explains what this agent does.
	Description string

	// SystemPrompt is sent ahead of the conversation on every turn.
	SystemPrompt string

	// Catalog supplies tools shared with other agents. May be nil.
	Catalog *tools.Catalog

	// Tools are added on top of Catalog.
	Tools []tools.Tool

	// ToolConfig overrides the runner's tool execution settings.
	ToolConfig *tools.ToolConfig
}

// DefaultConfig returns a basic agent configuration.
func DefaultConfig() Config {
	return Config{
		Name:         "agent",
		Description:  "A general-purpose agent",
		SystemPrompt: "You are a helpful assistant. Use the available tools when they help.",
	}
}

// HasTools returns true if the agent has tools configured.
func (c *Config) HasTools() bool {
	return len(c.Tools) > 0 || (c.Catalog != nil && c.Catalog.Len() > 0)
}

// buildCatalog returns a private catalog holding Catalog's tools plus Tools.
func (c *Config) buildCatalog() (*tools.Catalog, error) {
	catalog := tools.NewCatalog()
	if c.Catalog != nil {
		catalog = c.Catalog.Subset(c.Catalog.Names())
	}
	for _, t := range c.Tools {
		if err := catalog.Register(t); err != nil {
			return nil, fmt.Errorf("agent %s: %w", c.Name, err)
		}
	}
	return catalog, nil
}
