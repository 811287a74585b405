package executor

import (
	"testing"

	"autograph.dev/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryHasThreeBuiltinHandlers(t *testing.T) {
	r := NewRegistry()

	for _, typ := range []model.StepType{model.StepHTTPRequest, model.StepShellCommand, model.StepRegexMatch} {
		h, err := r.Lookup(typ)
		require.NoError(t, err)
		assert.NotNil(t, h)
	}
}

func TestRegistryLookupUnknownTypeFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Lookup(model.StepType("DOES_NOT_EXIST"))
	require.Error(t, err)
	var unknown *UnknownStepTypeError
	assert.ErrorAs(t, err, &unknown)
}
