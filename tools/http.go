// HTTP fetch tool.
//
// Information Hiding:
// - HTTP client implementation details hidden
// - Domain allowlist enforcement hidden
// - Response size limiting hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMaxBodyBytes = 256 * 1024

// FetchURLTool performs HTTP GET requests.
type FetchURLTool struct {
	BaseTool
	client         *http.Client
	allowedDomains []string
	maxBodyBytes   int64
}

// NewFetchURLTool creates a new fetch tool with the given timeout.
func NewFetchURLTool(timeoutSecs uint64) *FetchURLTool {
	return &FetchURLTool{
		client: &http.Client{
			Timeout: time.Duration(timeoutSecs) * time.Second,
		},
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

// WithAllowedDomains sets the allowed domains for requests.
func (t *FetchURLTool) WithAllowedDomains(domains []string) *FetchURLTool {
	t.allowedDomains = domains
	return t
}

// WithClient replaces the HTTP client.
func (t *FetchURLTool) WithClient(client *http.Client) *FetchURLTool {
	t.client = client
	return t
}

// Metadata returns the tool metadata.
func (t *FetchURLTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "fetch_url",
		Description: "Fetch a URL with HTTP GET and return the status, content type and body",
		Parameters: []ToolParameter{
			{Name: "url", ParamType: "string", Description: "The http or https URL to fetch", Required: true},
			{Name: "max_bytes", ParamType: "integer", Description: fmt.Sprintf("Maximum body bytes to return (default and limit %d)", t.maxBodyBytes), Required: false},
		},
	}
}

type fetchArgs struct {
	URL      string `json:"url"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// Validate validates the arguments.
func (t *FetchURLTool) Validate(args json.RawMessage) error {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url must be http or https: %s", a.URL)
	}
	if a.MaxBytes < 0 {
		return fmt.Errorf("max_bytes cannot be negative")
	}
	return nil
}

// Execute makes the HTTP request. 4xx responses are reported as client
// errors, which the executor does not retry; 5xx responses may be retried.
func (t *FetchURLTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a fetchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if !t.isDomainAllowed(a.URL) {
		return FailureResultf("access to domain in '%s' is not allowed", a.URL), nil
	}

	limit := t.maxBodyBytes
	if a.MaxBytes > 0 && a.MaxBytes < limit {
		limit = a.MaxBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to create request: %w", err)), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return FailureResultf("request timed out: %s", a.URL), nil
		}
		return FailureResult(fmt.Errorf("request failed: %w", err)), nil
	}
	defer resp.Body.Close()

	// One extra byte tells a full body from a truncated one.
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read response body: %w", err)), nil
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s\n", resp.Status)
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		fmt.Fprintf(&sb, "Content-Type: %s\n", ct)
	}
	sb.WriteString("\n")
	sb.Write(body)
	if truncated {
		fmt.Fprintf(&sb, "\n\n(truncated to %d bytes)", limit)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return SuccessResult(sb.String()), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return FailureResultf("HTTP client error: %s", sb.String()), nil
	default:
		return FailureResultf("HTTP error: %s", sb.String()), nil
	}
}

// isDomainAllowed checks if the URL's domain is in the allowlist.
func (t *FetchURLTool) isDomainAllowed(urlStr string) bool {
	if len(t.allowedDomains) == 0 {
		return true
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	host := u.Hostname()
	for _, domain := range t.allowedDomains {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}
