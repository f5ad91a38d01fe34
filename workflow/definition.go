// Package workflow runs YAML-defined sequences of agent steps and records
// each run in the metrics store.
//
// Information Hiding:
// - YAML decoding and validation hidden
// - Input templating hidden
// - Handoff checks between steps hidden
package workflow

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholders substituted in step inputs.
const (
	PreviousPlaceholder = "{{previous}}"
	InputPlaceholder    = "{{input}}"
)

// Step is one agent invocation in a workflow.
type Step struct {
	Name  string `yaml:"name"`
	Agent string `yaml:"agent"`
	Input string `yaml:"input"`
	// RequireFields lists keys the step's JSON result must carry before the
	// next step may consume it.
	RequireFields []string `yaml:"require_fields,omitempty"`
}

// Definition is a named, ordered list of steps.
type Definition struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description,omitempty"`
	ContinueOnError bool   `yaml:"continue_on_error,omitempty"`
	Steps           []Step `yaml:"steps"`
}

// Parse decodes a YAML workflow definition and validates it.
// Unknown keys are rejected.
func Parse(data []byte) (Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return Definition{}, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Load reads and parses a workflow file.
func Load(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read workflow: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}
	return def, nil
}

// Validate checks that the definition is runnable.
func (d Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("workflow name cannot be empty")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s has no steps", d.Name)
	}
	seen := make(map[string]bool, len(d.Steps))
	for i, s := range d.Steps {
		if s.Agent == "" {
			return fmt.Errorf("workflow %s step %d: agent is required", d.Name, i+1)
		}
		if s.Name == "" {
			continue
		}
		if seen[s.Name] {
			return fmt.Errorf("workflow %s: duplicate step name %q", d.Name, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

// StepName returns the step's name, or a positional name when unset.
func (d Definition) StepName(i int) string {
	if d.Steps[i].Name != "" {
		return d.Steps[i].Name
	}
	return fmt.Sprintf("step-%d", i+1)
}

// render substitutes placeholders in a step input. An empty input passes
// the previous result through unchanged.
func render(template, input, previous string) string {
	if strings.TrimSpace(template) == "" {
		return previous
	}
	out := strings.ReplaceAll(template, PreviousPlaceholder, previous)
	return strings.ReplaceAll(out, InputPlaceholder, input)
}
