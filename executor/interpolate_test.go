package executor

import (
	"testing"

	"autograph.dev/model"
	"github.com/stretchr/testify/assert"
)

func TestInterpolateParametersResolvesNestedPlaceholders(t *testing.T) {
	ec := &model.ExecutionContext{PreviousOutputs: []string{"first", "second", "third"}}
	params := map[string]any{
		"headers": map[string]any{
			"Authorization": "Bearer {{previous_outputs[0]}}",
		},
		"list": []any{"{{previous_outputs[-1]}}", "literal"},
	}

	out := interpolateParameters(params, ec)

	headers := out["headers"].(map[string]any)
	assert.Equal(t, "Bearer {{previous_outputs[0]}}", headers["Authorization"])
	list := out["list"].([]any)
	assert.Equal(t, "third", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestInterpolateStringExactMatchSubstitutes(t *testing.T) {
	ec := &model.ExecutionContext{PreviousOutputs: []string{"token-abc"}}
	assert.Equal(t, "token-abc", interpolateString("{{previous_outputs[0]}}", ec))
	assert.Equal(t, "token-abc", interpolateString("{{previous_outputs[-1]}}", ec))
}

func TestInterpolateStringOnEmptyPreviousOutputsLeavesLiteral(t *testing.T) {
	ec := &model.ExecutionContext{}
	assert.Equal(t, "{{previous_outputs[-1]}}", interpolateString("{{previous_outputs[-1]}}", ec))
}

func TestInterpolateStringNonMatchingPassesThrough(t *testing.T) {
	ec := &model.ExecutionContext{PreviousOutputs: []string{"x"}}
	assert.Equal(t, "plain value", interpolateString("plain value", ec))
}
