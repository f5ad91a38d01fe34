// Agent builder for fluent configuration.
//
// Information Hiding:
// - Tool selection from shared catalogs hidden
// - Default prompt and description hidden

package agent

import (
	"fmt"
	"time"

	"github.com/richinex/chronicle/tools"
)

// Builder assembles an agent Config.
// Usage: agent.NewBuilder("files").Catalog(shared, "read_file").Build()
type Builder struct {
	cfg Config
}

// NewBuilder starts a config for the agent key name.
func NewBuilder(name string) *Builder {
	return &Builder{cfg: Config{Name: name}}
}

// Description sets the agent's description.
func (b *Builder) Description(description string) *Builder {
	b.cfg.Description = description
	return b
}

// SystemPrompt sets the prompt sent ahead of every turn.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	b.cfg.SystemPrompt = prompt
	return b
}

// Catalog draws tools from a shared catalog. With no names the agent sees
// every tool in it; otherwise only the named tools that exist.
func (b *Builder) Catalog(catalog *tools.Catalog, names ...string) *Builder {
	if catalog != nil && len(names) > 0 {
		catalog = catalog.Subset(names)
	}
	b.cfg.Catalog = catalog
	return b
}

// Tool adds tools private to this agent.
func (b *Builder) Tool(t ...tools.Tool) *Builder {
	b.cfg.Tools = append(b.cfg.Tools, t...)
	return b
}

// ToolConfig overrides the runner's execution settings for this agent.
func (b *Builder) ToolConfig(cfg tools.ToolConfig) *Builder {
	b.cfg.ToolConfig = &cfg
	return b
}

// Timeout overrides only the per-call tool timeout.
func (b *Builder) Timeout(d time.Duration) *Builder {
	cfg := tools.DefaultToolConfig()
	if b.cfg.ToolConfig != nil {
		cfg = *b.cfg.ToolConfig
	}
	cfg.Timeout = d
	return b.ToolConfig(cfg)
}

// Build returns the config, filling in a description and prompt when unset.
func (b *Builder) Build() Config {
	cfg := b.cfg
	cfg.Tools = append([]tools.Tool(nil), b.cfg.Tools...)
	if cfg.Description == "" {
		cfg.Description = fmt.Sprintf("Agent: %s", cfg.Name)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = fmt.Sprintf(
			"You are an agent named %s. Use available tools to complete tasks.",
			cfg.Name,
		)
	}
	return cfg
}
