package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

const waveInputSchema = `{
	"type": "object",
	"properties": {
		"hand": {"type": "string", "enum": ["left", "right"], "default": "right"},
		"count": {"type": "integer", "minimum": 1, "maximum": 5}
	},
	"required": ["count"]
}`

func registerWave(t *testing.T, v *InMemory) {
	t.Helper()
	err := v.Register(ToolContract{
		Name:             "wave",
		Version:          "1.0.0",
		InputSchema:      []byte(waveInputSchema),
		RiskClass:        RiskReadOnly,
		RequiresApproval: false,
	})
	require.NoError(t, err)
}

func TestValidateUnknownTool(t *testing.T) {
	v := New(Options{})
	result := v.Validate(context.Background(), ProposedToolCall{Tool: "ghost"})
	require.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	require.Equal(t, "unknown_tool", result.Errors[0].Constraint)
}

func TestValidateMissingRequiredField(t *testing.T) {
	v := New(Options{})
	registerWave(t, v)

	result := v.Validate(context.Background(), ProposedToolCall{Tool: "wave", Params: map[string]any{}})
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
	found := false
	for _, e := range result.Errors {
		if e.Constraint == "missing_field" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateAppliesDefaults(t *testing.T) {
	v := New(Options{})
	registerWave(t, v)

	result := v.Validate(context.Background(), ProposedToolCall{Tool: "wave", Params: map[string]any{"count": 2}})
	require.True(t, result.Valid)
	require.Equal(t, "right", result.ValidatedParams["hand"])
	require.Equal(t, RiskReadOnly, result.RiskClass)
}

func TestValidateEnumAndRangeViolations(t *testing.T) {
	v := New(Options{})
	registerWave(t, v)

	result := v.Validate(context.Background(), ProposedToolCall{Tool: "wave", Params: map[string]any{"hand": "up", "count": 99}})
	require.False(t, result.Valid)
	require.NotEmpty(t, result.Errors)
}

func TestContractLookup(t *testing.T) {
	v := New(Options{})
	registerWave(t, v)

	c, ok := v.Contract("wave")
	require.True(t, ok)
	require.Equal(t, "1.0.0", c.Version)

	_, ok = v.Contract("ghost")
	require.False(t, ok)
}
