// Tool Catalog - name to tool lookup shared by every agent run.
//
// Information Hiding:
// - Tool storage and lookup implementation hidden
// - Schema rendering for the reasoning service hidden

package tools

import (
	"fmt"
	"sort"
	"sync"

	"github.com/richinex/chronicle/llm"
)

// Catalog manages available tools with dynamic registration.
// It is safe for concurrent use.
type Catalog struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewCatalog creates a new empty tool catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools: make(map[string]Tool),
	}
}

// Register adds a new tool to the catalog.
// Returns error if a tool with the same name already exists.
func (c *Catalog) Register(tool Tool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := tool.Metadata().Name
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if _, exists := c.tools[name]; exists {
		return fmt.Errorf("tool '%s' already registered", name)
	}
	c.tools[name] = tool
	return nil
}

// MustRegister registers tools and panics on a duplicate name.
func (c *Catalog) MustRegister(tools ...Tool) *Catalog {
	for _, t := range tools {
		if err := c.Register(t); err != nil {
			panic(err)
		}
	}
	return c
}

// Get returns a tool by name.
func (c *Catalog) Get(name string) (Tool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tool, exists := c.tools[name]
	return tool, exists
}

// Has checks if a tool exists in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Len returns the number of registered tools.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools)
}

// Names returns all registered tool names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.tools))
	for name := range c.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns metadata for all registered tools, sorted by name.
func (c *Catalog) List() []ToolMetadata {
	names := c.Names()

	c.mu.RLock()
	defer c.mu.RUnlock()

	metadata := make([]ToolMetadata, 0, len(names))
	for _, name := range names {
		if t, ok := c.tools[name]; ok {
			metadata = append(metadata, t.Metadata())
		}
	}
	return metadata
}

// Definitions renders every tool as a declaration for the reasoning service.
// Output is sorted by name so requests are deterministic.
func (c *Catalog) Definitions() []llm.ToolDefinition {
	list := c.List()
	defs := make([]llm.ToolDefinition, len(list))
	for i, meta := range list {
		defs[i] = llm.ToolDefinition{
			Name:        meta.Name,
			Description: meta.Description,
			Parameters:  meta.Schema(),
		}
	}
	return defs
}

// Subset returns a catalog holding only the named tools.
// Names not present in c are skipped.
func (c *Catalog) Subset(names []string) *Catalog {
	sub := NewCatalog()
	for _, name := range names {
		if t, ok := c.Get(name); ok {
			_ = sub.Register(t)
		}
	}
	return sub
}

// Default size and timeout limits for the built-in tools.
const (
	DefaultMaxFileSize  = 1024 * 1024 // 1MB
	DefaultFetchTimeout = 30          // seconds
)

// WithDefaults creates a catalog with the built-in tools.
func WithDefaults() (*Catalog, error) {
	catalog := NewCatalog()

	builtins := []Tool{
		NewListFilesTool(),
		NewFindFilesTool(DefaultFindResults),
		NewReadFileTool(DefaultMaxFileSize),
		NewFetchURLTool(DefaultFetchTimeout),
		NewCSVToJSONTool(DefaultMaxFileSize),
	}

	for _, t := range builtins {
		if err := catalog.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register default tools: %w", err)
		}
	}

	return catalog, nil
}
