package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"
)

// Result limits for find_files.
const (
	DefaultFindResults = 100
	MaxFindResults     = 1000
)

// FindFilesTool lists files under a directory whose relative path matches a
// glob pattern. "**" matches any number of directories.
type FindFilesTool struct {
	maxResults   int
	allowedPaths []string
}

// NewFindFilesTool creates a find tool returning at most maxResults paths.
// Non-positive maxResults means MaxFindResults.
func NewFindFilesTool(maxResults int) *FindFilesTool {
	if maxResults <= 0 || maxResults > MaxFindResults {
		maxResults = MaxFindResults
	}
	return &FindFilesTool{maxResults: maxResults}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *FindFilesTool) WithAllowedPaths(paths []string) *FindFilesTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *FindFilesTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "find_files",
		Description: "Find files whose path matches a glob pattern. Returns relative paths only, sorted. Hidden directories are skipped.",
		Parameters: []ToolParameter{
			{Name: "pattern", ParamType: "string", Description: "Glob pattern, e.g. '*.csv', '**/*.go', 'data/**/report_*.json'", Required: true},
			{Name: "path", ParamType: "string", Description: "Directory to search (default: current directory)", Required: false},
			{Name: "limit", ParamType: "integer", Description: fmt.Sprintf("Maximum paths to return (default: %d)", DefaultFindResults), Required: false},
		},
	}
}

type findArgs struct {
	Pattern string `json:"pattern"`
	Path    string `json:"path"`
	Limit   int    `json:"limit"`
}

// Validate checks the pattern is present and well formed.
func (t *FindFilesTool) Validate(args json.RawMessage) error {
	var a findArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Pattern) == "" {
		return errors.New("pattern is required")
	}
	for _, seg := range strings.Split(filepath.ToSlash(a.Pattern), "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", a.Pattern, err)
		}
	}
	return nil
}

// Execute walks the directory.
func (t *FindFilesTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a findArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResultf("invalid arguments: %v", err), nil
	}
	root := a.Path
	if root == "" {
		root = "."
	}
	if !pathAllowed(root, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", root), nil
	}

	limit := a.Limit
	if limit <= 0 {
		limit = DefaultFindResults
	}
	if limit > t.maxResults {
		limit = t.maxResults
	}

	// A bare file pattern such as "*.go" matches at the top level only.
	pattern := strings.Split(strings.TrimPrefix(filepath.ToSlash(a.Pattern), "./"), "/")
	var matches []string
	truncated := false

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && p != root {
				return fs.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		if !matchSegments(pattern, strings.Split(filepath.ToSlash(rel), "/")) {
			return nil
		}
		if len(matches) == limit {
			truncated = true
			return fs.SkipAll
		}
		matches = append(matches, filepath.ToSlash(rel))
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return FailureResultf("directory does not exist: %s", root), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to search %s: %w", root, err)), nil
	}

	if len(matches) == 0 {
		return SuccessResult(fmt.Sprintf("no files match '%s' in %s", a.Pattern, root)), nil
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n(limited to %d results)", limit)
	}
	return SuccessResult(out), nil
}

// matchSegments reports whether name matches pattern segment by segment.
// A "**" segment consumes zero or more name segments.
func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, _ := path.Match(pattern[0], name[0]); !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
