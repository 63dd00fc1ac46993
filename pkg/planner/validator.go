package planner

import (
	"github.com/pkg/errors"
)

// ValidateStructure checks that a parsed plan has the minimal shape the
// executor expects. It is a pure function: nil means valid, otherwise the
// error explains the first problem found. When no required keys are given,
// "steps" is assumed.
func ValidateStructure(parsed any, required ...string) error {
	if len(required) == 0 {
		required = []string{"steps"}
	}

	obj, ok := parsed.(map[string]any)
	if !ok {
		return errors.Errorf("plan is not a JSON object: %T", parsed)
	}

	for _, key := range required {
		if _, ok := obj[key]; !ok {
			return errors.Errorf("missing required key: %q", key)
		}
	}

	if raw, ok := obj["steps"]; ok {
		if _, ok := raw.([]any); !ok {
			return errors.Errorf("%q must be a list, got %T", "steps", raw)
		}
	}

	return nil
}
