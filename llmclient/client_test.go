package llmclient

import (
	"context"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterationCapExceededErrorMessage(t *testing.T) {
	err := &IterationCapExceededError{Max: 5}
	assert.Contains(t, err.Error(), "5")
	assert.Contains(t, err.Error(), "max_iterations")
}

// TestSimpleAgentRejectsBeforeIssuingCallWhenBudgetExhausted exercises only
// the pre-flight Reject path: with the budget already pinned at 0, the
// estimate built from the prompts alone is enough to reject, so the call
// must never reach the SDK at all (spec §4.4: "the call is never issued").
func TestSimpleAgentRejectsBeforeIssuingCallWhenBudgetExhausted(t *testing.T) {
	budget := NewTokenBudget(0)
	c := New("test-api-key", anthropic.ModelClaude3_7SonnetLatest, budget, false, nil)

	var out map[string]any
	err := c.SimpleAgent(context.Background(), "system", "user", "submit_plan", "desc", map[string]any{}, &out)

	require.Error(t, err)
	var exceeded *TokenBudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 0, exceeded.Used)
	assert.Equal(t, 0, budget.Used(), "a rejected pre-flight check must not consume any budget")
}

func TestProgrammaticAgentRejectsBeforeIssuingCallWhenBudgetExhausted(t *testing.T) {
	budget := NewTokenBudget(0)
	c := New("test-api-key", anthropic.ModelClaude3_7SonnetLatest, budget, false, nil)

	var out map[string]any
	err := c.ProgrammaticAgent(context.Background(), "system", "user", nil, "submit_plan", "desc", map[string]any{}, &out, 3)

	require.Error(t, err)
	var exceeded *TokenBudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 0, budget.Used())
}
