package graphstore

import (
	"testing"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintFromNodeRoundTripsSignalsAndEmbedding(t *testing.T) {
	node := neo4j.Node{
		Props: map[string]any{
			"hash":                  "abc123",
			"tech_stack":            "Express",
			"auth_model":            "bearer_token",
			"endpoint_pattern":      "/api/*",
			"observation_text":      "tech=Express|auth=bearer_token",
			"security_signals":      []any{"cors_wildcard", "csp_present"},
			"observation_embedding": []any{float64(0.1), float64(0.2), float64(0.3)},
		},
	}

	fp := fingerprintFromNode(node)

	assert.Equal(t, "abc123", fp.Hash)
	assert.Equal(t, "Express", fp.TechStack)
	assert.Equal(t, []string{"cors_wildcard", "csp_present"}, fp.SecuritySignals)
	require.Len(t, fp.ObservationEmbedding, 3)
	assert.InDelta(t, 0.2, fp.ObservationEmbedding[1], 1e-6)
}

func TestEmbeddingParamNilForEmptyVector(t *testing.T) {
	assert.Nil(t, embeddingParam(nil))
	assert.Nil(t, embeddingParam([]float32{}))

	param := embeddingParam([]float32{1.5, 2.5})
	floats, ok := param.([]float64)
	require.True(t, ok)
	assert.Equal(t, []float64{1.5, 2.5}, floats)
}

func TestStepFromPropsParsesParametersJSON(t *testing.T) {
	props := map[string]any{
		"order":            int64(2),
		"phase":            "MUTATE",
		"type":             "HTTP_REQUEST",
		"command":          "GET {{previous_outputs[0]}}",
		"parameters":       `{"extract_token_path":"$.token"}`,
		"output_file":      "",
		"success_criteria": "status_code == 200",
		"deterministic":    true,
	}

	step := stepFromProps(props)

	assert.Equal(t, 2, step.Order)
	assert.Equal(t, "MUTATE", string(step.Phase))
	assert.Equal(t, "$.token", step.Parameters["extract_token_path"])
	assert.True(t, step.Deterministic)
}

func TestParseTimestampRoundTripsRFC3339Nano(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	formatted := now.Format(time.RFC3339Nano)

	parsed, err := parseTimestamp(formatted)
	require.NoError(t, err)
	assert.True(t, now.Equal(parsed))
}

func TestActionGraphFromNodeParsesCounters(t *testing.T) {
	createdAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	node := neo4j.Node{
		Props: map[string]any{
			"id":                 "ag-1",
			"vulnerability_type": "IDOR",
			"description":        "sequential id walk",
			"times_executed":     int64(4),
			"times_succeeded":    int64(3),
			"confidence":         0.82,
			"created_at":         createdAt.Format(time.RFC3339Nano),
			"updated_at":         createdAt.Format(time.RFC3339Nano),
		},
	}

	ag, err := actionGraphFromNode(node)
	require.NoError(t, err)
	assert.Equal(t, "ag-1", ag.ID)
	assert.Equal(t, 4, ag.TimesExecuted)
	assert.Equal(t, 3, ag.TimesSucceeded)
	assert.InDelta(t, 0.82, ag.Confidence, 1e-9)
}
