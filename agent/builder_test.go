package agent_test

import (
	"testing"
	"time"

	"github.com/richinex/chronicle/agent"
	"github.com/richinex/chronicle/tools"
)

func TestBuilderDefaults(t *testing.T) {
	cfg := agent.NewBuilder("files").Build()

	if cfg.Description != "Agent: files" {
		t.Errorf("Description = %q", cfg.Description)
	}
	if cfg.SystemPrompt == "" {
		t.Error("SystemPrompt should default to a non-empty prompt")
	}
	if cfg.HasTools() {
		t.Error("builder without tools should report none")
	}
	if cfg.ToolConfig != nil {
		t.Error("ToolConfig should stay nil unless overridden")
	}
}

func TestBuilderCatalogSelection(t *testing.T) {
	shared := tools.NewCatalog().MustRegister(
		staticTool("list_files", ""),
		staticTool("read_file", ""),
		staticTool("fetch_url", ""),
	)

	all := agent.NewBuilder("general").Catalog(shared).Build()
	if all.Catalog.Len() != 3 {
		t.Errorf("full catalog Len = %d, want 3", all.Catalog.Len())
	}

	picked := agent.NewBuilder("files").Catalog(shared, "read_file", "list_files", "missing").Build()
	names := picked.Catalog.Names()
	if len(names) != 2 || names[0] != "list_files" || names[1] != "read_file" {
		t.Errorf("selected tools = %v, want [list_files read_file]", names)
	}
	if shared.Len() != 3 {
		t.Error("selection must not modify the shared catalog")
	}
}

func TestBuilderTimeoutKeepsOtherSettings(t *testing.T) {
	cfg := agent.NewBuilder("slow").
		ToolConfig(tools.ToolConfig{Timeout: time.Second, MaxRetries: 3}).
		Timeout(5 * time.Second).
		Build()

	if cfg.ToolConfig.Timeout != 5*time.Second || cfg.ToolConfig.MaxRetries != 3 {
		t.Errorf("ToolConfig = %+v", *cfg.ToolConfig)
	}
}

func TestBuilderBuildIsIndependent(t *testing.T) {
	b := agent.NewBuilder("a").Tool(staticTool("one", ""))
	first := b.Build()
	b.Tool(staticTool("two", ""))

	if len(first.Tools) != 1 {
		t.Errorf("earlier Build changed: %d tools", len(first.Tools))
	}
}
