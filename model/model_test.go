package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintHashIsDeterministic(t *testing.T) {
	fp := Fingerprint{
		TechStack:       "Express.js + JWT",
		AuthModel:       "bearer_token",
		EndpointPattern: "/api/*",
		SecuritySignals: []string{"hsts_present", "cors_wildcard"},
	}

	a := fp.WithHash()
	b := fp.WithHash()

	require.NotEmpty(t, a.Hash)
	assert.Equal(t, a.Hash, b.Hash, "hash must be a pure function of the identity fields")
}

func TestFingerprintHashOrderIndependentOfSignalOrder(t *testing.T) {
	a := Fingerprint{
		TechStack:       "nginx",
		AuthModel:       "session_cookie",
		EndpointPattern: "/shop/*",
		SecuritySignals: []string{"csp_present", "xframe_present"},
	}.WithHash()

	b := Fingerprint{
		TechStack:       "nginx",
		AuthModel:       "session_cookie",
		EndpointPattern: "/shop/*",
		SecuritySignals: []string{"xframe_present", "csp_present"},
	}.WithHash()

	assert.Equal(t, a.Hash, b.Hash, "signals are sorted before hashing, so input order must not matter")
}

func TestFingerprintHashChangesWithIdentity(t *testing.T) {
	base := Fingerprint{
		TechStack:       "nginx",
		AuthModel:       "none",
		EndpointPattern: "/api/*",
	}.WithHash()

	changed := Fingerprint{
		TechStack:       "Apache",
		AuthModel:       "none",
		EndpointPattern: "/api/*",
	}.WithHash()

	assert.NotEqual(t, base.Hash, changed.Hash)
}

func TestStepResultFailedTracksStderr(t *testing.T) {
	ok := StepResult{Stdout: "body"}
	assert.False(t, ok.Failed())

	failed := StepResult{Stderr: "HTTP 500"}
	assert.True(t, failed.Failed())
}

func TestActionGraphMinOrderStep(t *testing.T) {
	ag := ActionGraph{Steps: []Step{
		{Order: 3},
		{Order: 1},
		{Order: 2},
	}}
	assert.Equal(t, 1, ag.MinOrderStep().Order)
}

func TestExecutionContextReset(t *testing.T) {
	ctx := NewExecutionContext("https://target.test", Fingerprint{})
	ctx.PreviousOutputs = append(ctx.PreviousOutputs, "one")
	ctx.SessionTokens["Authorization"] = "Bearer abc"
	ctx.Cookies["session"] = "xyz"

	ctx.Reset()

	assert.Empty(t, ctx.PreviousOutputs)
	assert.Empty(t, ctx.SessionTokens)
	assert.Empty(t, ctx.Cookies)
}
