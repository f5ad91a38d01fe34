// CSV conversion tool.

package tools

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// CSVToJSONTool converts CSV text or a CSV file into a JSON array of objects
// keyed by the header row.
type CSVToJSONTool struct {
	allowedPaths []string
	maxSizeBytes int64
}

// NewCSVToJSONTool creates a new CSV conversion tool.
func NewCSVToJSONTool(maxSizeBytes int64) *CSVToJSONTool {
	return &CSVToJSONTool{maxSizeBytes: maxSizeBytes}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *CSVToJSONTool) WithAllowedPaths(paths []string) *CSVToJSONTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *CSVToJSONTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "csv_to_json",
		Description: "Convert CSV data to a JSON array of objects using the first row as keys. Provide either 'data' or 'path'.",
		Parameters: []ToolParameter{
			{Name: "data", ParamType: "string", Description: "Inline CSV text", Required: false},
			{Name: "path", ParamType: "string", Description: "Path to a CSV file", Required: false},
			{Name: "delimiter", ParamType: "string", Description: "Field delimiter (default: ',')", Required: false},
		},
	}
}

type csvArgs struct {
	Data      string `json:"data"`
	Path      string `json:"path"`
	Delimiter string `json:"delimiter"`
}

// Validate validates the arguments.
func (t *CSVToJSONTool) Validate(args json.RawMessage) error {
	var a csvArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if (a.Data == "") == (a.Path == "") {
		return errors.New("exactly one of data or path is required")
	}
	if len([]rune(a.Delimiter)) > 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", a.Delimiter)
	}
	return nil
}

// Execute performs the conversion.
func (t *CSVToJSONTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a csvArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	var src io.Reader
	if a.Path != "" {
		if !pathAllowed(a.Path, t.allowedPaths) {
			return FailureResultf("access to path '%s' is not allowed", a.Path), nil
		}
		f, err := os.Open(a.Path)
		if os.IsNotExist(err) {
			return FailureResultf("file does not exist: %s", a.Path), nil
		}
		if err != nil {
			return FailureResult(fmt.Errorf("failed to open file: %w", err)), nil
		}
		defer f.Close()
		src = io.LimitReader(f, t.maxSizeBytes)
	} else {
		src = strings.NewReader(a.Data)
	}

	reader := csv.NewReader(src)
	reader.TrimLeadingSpace = true
	if a.Delimiter != "" {
		reader.Comma = []rune(a.Delimiter)[0]
	}

	records, err := reader.ReadAll()
	if err != nil {
		return FailureResult(fmt.Errorf("failed to parse csv: %w", err)), nil
	}
	if len(records) == 0 {
		return FailureResultf("csv input is empty"), nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(rec) {
				row[key] = rec[i]
			}
		}
		rows = append(rows, row)
	}

	out, err := json.Marshal(rows)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to encode json: %w", err)), nil
	}
	return SuccessResult(string(out)), nil
}
