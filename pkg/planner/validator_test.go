package planner

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateStructureValidPlan(t *testing.T) {
	plan := map[string]any{
		"goal":  "tidy inbox",
		"steps": []any{map[string]any{"action": "archive"}},
	}
	require.NoError(t, ValidateStructure(plan))
}

func TestValidateStructureMissingSteps(t *testing.T) {
	err := ValidateStructure(map[string]any{"goal": "x"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "steps")
}

func TestValidateStructureStepsNotAList(t *testing.T) {
	err := ValidateStructure(map[string]any{"steps": "not-a-list"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "list")
}

func TestValidateStructureNotAnObject(t *testing.T) {
	for _, input := range []any{nil, "text", []any{"a"}, 42} {
		err := ValidateStructure(input)
		require.Error(t, err, "input: %v", input)
		require.Contains(t, err.Error(), "not a JSON object")
	}
}

func TestValidateStructureCustomRequiredKeys(t *testing.T) {
	plan := map[string]any{
		"goal":  "x",
		"steps": []any{},
	}
	require.NoError(t, ValidateStructure(plan, "goal", "steps"))

	err := ValidateStructure(plan, "goal", "budget", "steps")
	require.Error(t, err)
	require.Contains(t, err.Error(), `"budget"`)
}

func TestValidateStructureReportsFirstMissingKey(t *testing.T) {
	err := ValidateStructure(map[string]any{}, "alpha", "beta")
	require.Error(t, err)
	require.Contains(t, err.Error(), `"alpha"`)
	require.NotContains(t, err.Error(), `"beta"`)
}

func TestValidateStructureEmptyStepsIsValid(t *testing.T) {
	require.NoError(t, ValidateStructure(map[string]any{"steps": []any{}}))
}
