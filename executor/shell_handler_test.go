package executor

import (
	"context"
	"testing"

	"autograph.dev/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgvHandlesQuotedSegments(t *testing.T) {
	argv, err := splitArgv(`echo "hello world" 'second arg'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hello world", "second arg"}, argv)
}

func TestSplitArgvUnterminatedQuoteErrors(t *testing.T) {
	_, err := splitArgv(`echo "unterminated`)
	assert.Error(t, err)
}

func TestShellCommandHandlerCapturesStdout(t *testing.T) {
	h := NewShellCommandHandler()
	ec := &model.ExecutionContext{}
	step := model.Step{Parameters: map[string]any{"command": "echo hello-from-shell"}}

	result := h.Execute(context.Background(), step, ec)

	require.Empty(t, result.Stderr)
	assert.Contains(t, result.Stdout, "hello-from-shell")
	require.NotNil(t, result.StatusCode)
	assert.Equal(t, 0, *result.StatusCode)
}

func TestShellCommandHandlerNonZeroExitSetsStderrEvenWithoutOwnStderrOutput(t *testing.T) {
	h := NewShellCommandHandler()
	ec := &model.ExecutionContext{}
	step := model.Step{Parameters: map[string]any{"command": "false"}}

	result := h.Execute(context.Background(), step, ec)

	assert.NotEmpty(t, result.Stderr)
	require.NotNil(t, result.StatusCode)
	assert.NotEqual(t, 0, *result.StatusCode)
}

func TestShellCommandHandlerNeverInvokesAShell(t *testing.T) {
	h := NewShellCommandHandler()
	ec := &model.ExecutionContext{}
	// A shell metacharacter in the "command" arg must be treated literally,
	// not expanded — proof the handler never hands the string to /bin/sh -c.
	step := model.Step{Parameters: map[string]any{"command": "echo $HOME; id"}}

	result := h.Execute(context.Background(), step, ec)

	require.Empty(t, result.Stderr)
	assert.Contains(t, result.Stdout, "$HOME;")
}
