package tools

import (
	"context"
	"encoding/json"
)

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	BaseTool
	meta ToolMetadata
	fn   func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// NewFuncTool creates a tool named name backed by fn.
func NewFuncTool(name, description string, params []ToolParameter, fn func(ctx context.Context, args json.RawMessage) (ToolResult, error)) *FuncTool {
	return &FuncTool{
		meta: ToolMetadata{Name: name, Description: description, Parameters: params},
		fn:   fn,
	}
}

// Metadata returns the tool metadata.
func (t *FuncTool) Metadata() ToolMetadata {
	return t.meta
}

// Execute calls the wrapped function.
func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return t.fn(ctx, args)
}
