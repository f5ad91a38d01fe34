package workflow

import (
	"fmt"
	"strings"

	jsonutil "github.com/richinex/chronicle/internal/json"
)

// HandoffError reports a step result that does not satisfy the step's
// required fields.
type HandoffError struct {
	Step    string
	Missing []string
	// NotJSON is set when no JSON object could be found in the result.
	NotJSON bool
}

func (e *HandoffError) Error() string {
	if e.NotJSON {
		return fmt.Sprintf("step %s: result is not a JSON object", e.Step)
	}
	return fmt.Sprintf("step %s: missing required fields: %s", e.Step, strings.Join(e.Missing, ", "))
}

// checkHandoff validates result against the required fields of a step.
func checkHandoff(step, result string, required []string) error {
	if len(required) == 0 {
		return nil
	}

	obj, err := jsonutil.Object(result)
	if err != nil {
		return &HandoffError{Step: step, NotJSON: true}
	}

	var missing []string
	for _, field := range required {
		if _, ok := obj[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &HandoffError{Step: step, Missing: missing}
	}
	return nil
}
