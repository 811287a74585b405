package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvConfigGetStringFallsBackToDefault(t *testing.T) {
	env := NewEnvConfig("")
	assert.Equal(t, "fallback", env.GetString("DOES_NOT_EXIST_XYZ", "fallback"))
}

func TestEnvConfigGetIntUsesPrefix(t *testing.T) {
	t.Setenv("TEST_MAX_RETRIES", "7")
	env := NewEnvConfig("TEST")
	assert.Equal(t, 7, env.GetInt("MAX_RETRIES", 3))
}

func TestEnvConfigGetFloatParsesValue(t *testing.T) {
	t.Setenv("SIMILARITY", "0.9")
	env := NewEnvConfig("")
	assert.Equal(t, 0.9, env.GetFloat("SIMILARITY", 0.85))
}

func TestLoadOrchestratorConfigAppliesDefaults(t *testing.T) {
	cfg := LoadOrchestratorConfig()
	assert.Equal(t, 3, cfg.MaxCriticIterations)
	assert.Equal(t, 50000, cfg.MaxTokenBudget)
	assert.Equal(t, 0.85, cfg.DefaultSimilarityThreshold)
	assert.Equal(t, "file", cfg.CaptureMode)
}

func TestConfigLoaderRejectsInvalidCaptureMode(t *testing.T) {
	t.Setenv("CAPTURE_MODE", "carrier_pigeon")
	t.Setenv("GRAPH_STORE_URI", "bolt://localhost:7687")
	t.Setenv("GRAPH_STORE_DATABASE", "neo4j")

	_, err := NewConfigLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CaptureMode")
}

func TestConfigLoaderRequiresTrafficFileInFileMode(t *testing.T) {
	t.Setenv("CAPTURE_MODE", "file")
	t.Setenv("TRAFFIC_FILE", "")
	t.Setenv("GRAPH_STORE_URI", "bolt://localhost:7687")
	t.Setenv("GRAPH_STORE_DATABASE", "neo4j")

	_, err := NewConfigLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TrafficFile")
}

func TestConfigLoaderAcceptsValidLiveModeConfig(t *testing.T) {
	t.Setenv("CAPTURE_MODE", "live")
	t.Setenv("TARGET_BASE_URL", "https://target.test")
	t.Setenv("GRAPH_STORE_URI", "bolt://localhost:7687")
	t.Setenv("GRAPH_STORE_DATABASE", "neo4j")

	cfg, err := NewConfigLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "https://target.test", cfg.Orchestrator.TargetBaseURL)
}

func TestResolveTargetProfileSetsBaseURL(t *testing.T) {
	profile, err := ResolveTargetProfile("juice_shop", "https://demo.test")
	require.NoError(t, err)
	assert.Equal(t, "https://demo.test", profile.BaseURL)
	assert.Equal(t, "user-a@juice-sh.op", profile.UserA.Identifier)
}

func TestLoadEmbeddingConfigDefaultsToNoAPIKey(t *testing.T) {
	cfg := LoadEmbeddingConfig()
	assert.Equal(t, "", cfg.APIKey)
}

func TestResolveTargetProfileUnknownNameErrors(t *testing.T) {
	_, err := ResolveTargetProfile("not_a_real_app", "https://demo.test")
	require.Error(t, err)
	var unknown *UnknownTargetProfileError
	require.ErrorAs(t, err, &unknown)
}
