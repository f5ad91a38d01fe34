// Filesystem Tools - directory listing and file reads.
//
// Information Hiding:
// - File I/O implementation details hidden
// - Path validation and security checks hidden
// - Error handling for file operations abstracted

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ReadFileTool reads file contents.
type ReadFileTool struct {
	allowedPaths []string
	maxSizeBytes int64
}

// NewReadFileTool creates a new read file tool.
func NewReadFileTool(maxSizeBytes int64) *ReadFileTool {
	return &ReadFileTool{
		maxSizeBytes: maxSizeBytes,
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ReadFileTool) WithAllowedPaths(paths []string) *ReadFileTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *ReadFileTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "read_file",
		Description: "Read the contents of a text file, optionally a range of lines",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Path to the file to read", Required: true},
			{Name: "start_line", ParamType: "integer", Description: "First line to return, counting from 1 (default: 1)", Required: false},
			{Name: "max_lines", ParamType: "integer", Description: "Maximum number of lines to return (default: all)", Required: false},
		},
	}
}

type pathArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line,omitempty"`
	MaxLines  int    `json:"max_lines,omitempty"`
}

func parsePathArgs(args json.RawMessage) (pathArgs, error) {
	var a pathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return a, fmt.Errorf("invalid arguments: %w", err)
	}
	return a, nil
}

// Validate validates the arguments.
func (t *ReadFileTool) Validate(args json.RawMessage) error {
	a, err := parsePathArgs(args)
	if err != nil {
		return err
	}
	if a.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if a.StartLine < 0 || a.MaxLines < 0 {
		return fmt.Errorf("start_line and max_lines cannot be negative")
	}
	return nil
}

// Execute reads the file.
func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	a, err := parsePathArgs(args)
	if err != nil {
		return FailureResult(err), nil
	}

	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	info, err := os.Stat(a.Path)
	if os.IsNotExist(err) {
		return FailureResultf("file does not exist: %s", a.Path), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file metadata: %w", err)), nil
	}
	if info.IsDir() {
		return FailureResultf("%s is a directory", a.Path), nil
	}
	if info.Size() > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes), nil
	}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}

	if a.StartLine <= 1 && a.MaxLines == 0 {
		return SuccessResult(string(content)), nil
	}
	return SuccessResult(lineRange(string(content), a.StartLine, a.MaxLines)), nil
}

// lineRange returns up to max lines starting at the 1-based line start.
// A range past the end of the file yields a note instead of content.
func lineRange(content string, start, max int) string {
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if start < 1 {
		start = 1
	}
	if start > len(lines) {
		return fmt.Sprintf("(file has %d lines)", len(lines))
	}
	end := len(lines)
	if max > 0 && start-1+max < end {
		end = start - 1 + max
	}
	return strings.Join(lines[start-1:end], "")
}

// ListFilesTool lists the entries of a directory.
type ListFilesTool struct {
	BaseTool
	allowedPaths []string
}

// NewListFilesTool creates a new list files tool.
func NewListFilesTool() *ListFilesTool {
	return &ListFilesTool{}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ListFilesTool) WithAllowedPaths(paths []string) *ListFilesTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *ListFilesTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "list_files",
		Description: "List files and directories at a path. Directories end with '/'. Hidden entries are skipped.",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Directory to list (default: current directory)", Required: false},
		},
	}
}

// Execute lists the directory.
func (t *ListFilesTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	a, err := parsePathArgs(args)
	if err != nil {
		return FailureResult(err), nil
	}
	dir := a.Path
	if dir == "" {
		dir = "."
	}

	if !pathAllowed(dir, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", dir), nil
	}

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return FailureResultf("directory does not exist: %s", dir), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to list directory: %w", err)), nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	if len(names) == 0 {
		return SuccessResult(fmt.Sprintf("%s is empty", dir)), nil
	}
	return SuccessResult(strings.Join(names, "\n")), nil
}
