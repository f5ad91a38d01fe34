package json

import (
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"pure object", `{"a": 1}`, `{"a": 1}`},
		{"surrounding prose", `Here you go: {"a": 1} hope it helps`, `{"a": 1}`},
		{"json fence", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"bare fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"nested", `result {"a": {"b": 2}}`, `{"a": {"b": 2}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Extract = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtract_Rejects(t *testing.T) {
	for _, in := range []string{"", "no braces here", "{broken", `[1, 2, 3]`} {
		if _, err := Extract(in); err == nil {
			t.Errorf("Extract(%q) should fail", in)
		}
	}
}

func TestObject(t *testing.T) {
	obj, err := Object(`Summary: {"files": 3, "largest": "a.csv"}`)
	if err != nil {
		t.Fatalf("Object failed: %v", err)
	}
	if obj["files"] != float64(3) || obj["largest"] != "a.csv" {
		t.Errorf("unexpected object: %v", obj)
	}
}
